package filter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinforge/cohortd/pkg/errors"
)

// SavedFilter is a named, reusable filter tree.  UsageCount tracks how many
// cohorts currently reference it; the invariant usage_count ==
// count(cohorts with this filter_id) is maintained transactionally by the
// screening service alongside every cohort write.
type SavedFilter struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Root        *Group    `json:"filter"`
	UsageCount  int       `json:"usage_count"`
	CreatedBy   string    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewSavedFilter constructs a saved filter with a fresh ID and a validated
// tree.
func NewSavedFilter(name, description, createdBy string, root *Group) (*SavedFilter, error) {
	if name == "" {
		return nil, errors.Validation("filter name must not be empty")
	}
	if root == nil {
		return nil, errors.New(errors.ErrCodeFilterInvalidTree, "filter tree must not be nil")
	}
	if err := root.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &SavedFilter{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Root:        root,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Validate checks the entity invariants.
func (f *SavedFilter) Validate() error {
	if f.ID == "" {
		return errors.Validation("filter ID must not be empty")
	}
	if f.Name == "" {
		return errors.Validation("filter name must not be empty")
	}
	if len(f.Name) > 256 {
		return errors.Validation("filter name must not exceed 256 characters")
	}
	if f.Root == nil {
		return errors.New(errors.ErrCodeFilterInvalidTree, "filter tree must not be nil")
	}
	if f.UsageCount < 0 {
		return errors.Validation("usage count must not be negative")
	}
	return f.Root.Validate()
}

// Repository defines the persistence operations for saved filters.  All
// operations are tenant-scoped through the schema carried in ctx.
type Repository interface {
	Create(ctx context.Context, f *SavedFilter) error
	GetByID(ctx context.Context, id string) (*SavedFilter, error)
	List(ctx context.Context, limit, offset int) ([]*SavedFilter, int64, error)
	Update(ctx context.Context, f *SavedFilter) error
	// Delete removes the filter; cohorts referencing it keep their stored
	// materialization but lose the live link (filter_id set to NULL by the
	// database).
	Delete(ctx context.Context, id string) error
}
