// Package cohort defines materialized patient cohorts: the frozen result of
// evaluating a filter tree over one master-data version.
package cohort

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinforge/cohortd/internal/domain/filter"
	"github.com/clinforge/cohortd/pkg/errors"
)

// Cohort is a named, materialized patient set.  Its criteria come from
// exactly one of two sources: a reference to a saved filter (FilterID) or an
// inline tree (Filter).  PatientIDs is the frozen evaluation result; it does
// not change when the underlying dataset or the saved filter changes later.
type Cohort struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	MasterDataID string        `json:"master_data_id"`
	FilterID     *string       `json:"filter_id,omitempty"`
	Filter       *filter.Group `json:"filter,omitempty"`
	PatientIDs   []string      `json:"patient_ids"`
	PatientCount int           `json:"patient_count"`
	CreatedBy    string        `json:"created_by,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// New constructs an unmaterialized cohort shell; the screening service fills
// PatientIDs before persisting.
func New(name, description, masterDataID, createdBy string, filterID *string, inline *filter.Group) (*Cohort, error) {
	now := time.Now().UTC()
	c := &Cohort{
		ID:           uuid.NewString(),
		Name:         name,
		Description:  description,
		MasterDataID: masterDataID,
		FilterID:     filterID,
		Filter:       inline,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Detached() {
		return nil, errors.New(errors.ErrCodeCohortFilterConflict,
			"exactly one of filter_id or filter must be set")
	}
	return c, nil
}

// Validate checks the stored-entity invariants.  At most one criteria source
// may be set; a cohort with neither is detached (see Detached) and keeps its
// frozen members.
func (c *Cohort) Validate() error {
	if c.ID == "" {
		return errors.Validation("cohort ID must not be empty")
	}
	if c.Name == "" {
		return errors.Validation("cohort name must not be empty")
	}
	if len(c.Name) > 256 {
		return errors.Validation("cohort name must not exceed 256 characters")
	}
	if c.MasterDataID == "" {
		return errors.Validation("cohort must reference a master dataset")
	}
	hasRef := c.FilterID != nil && *c.FilterID != ""
	hasInline := c.Filter != nil
	if hasRef && hasInline {
		return errors.New(errors.ErrCodeCohortFilterConflict,
			"at most one of filter_id or filter may be set")
	}
	if hasInline {
		if err := c.Filter.Validate(); err != nil {
			return err
		}
	}
	if c.PatientCount < 0 {
		return errors.Validation("patient count must not be negative")
	}
	return nil
}

// Detached reports whether the cohort has no criteria source.  The database
// clears filter_id when the referenced saved filter is deleted; the frozen
// member list stays valid until new criteria arrive.
func (c *Cohort) Detached() bool {
	return (c.FilterID == nil || *c.FilterID == "") && c.Filter == nil
}

// SetMembers freezes the materialization result onto the cohort.
func (c *Cohort) SetMembers(patientIDs []string) {
	c.PatientIDs = patientIDs
	c.PatientCount = len(patientIDs)
	c.UpdatedAt = time.Now().UTC()
}

// MemberSet returns the patient IDs as a set for evaluation and comparison.
func (c *Cohort) MemberSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.PatientIDs))
	for _, id := range c.PatientIDs {
		set[id] = struct{}{}
	}
	return set
}

// Repository defines the persistence operations for cohorts.  All operations
// are tenant-scoped through the schema carried in ctx.
type Repository interface {
	Create(ctx context.Context, c *Cohort) error
	GetByID(ctx context.Context, id string) (*Cohort, error)
	GetManyByIDs(ctx context.Context, ids []string) ([]*Cohort, error)
	List(ctx context.Context, limit, offset int) ([]*Cohort, int64, error)
	Update(ctx context.Context, c *Cohort) error
	Delete(ctx context.Context, id string) error

	// CountByMasterData reports how many cohorts reference the dataset, used
	// to refuse dataset deletion while cohorts depend on it.
	CountByMasterData(ctx context.Context, masterDataID string) (int64, error)

	// AdjustFilterUsage moves a saved filter's usage_count by delta, floored
	// at zero.  It participates in the surrounding transaction when called
	// through WithTx.
	AdjustFilterUsage(ctx context.Context, filterID string, delta int) error

	// WithTx runs fn against a transactional view of the repository and
	// commits iff fn returns nil.
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
