// Package filters implements saved-filter management: validated CRUD over
// reusable filter trees plus schema-aware validation against datasets.
package filters

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clinforge/cohortd/internal/domain/filter"
	"github.com/clinforge/cohortd/internal/domain/masterdata"
	"github.com/clinforge/cohortd/internal/domain/tenant"
	"github.com/clinforge/cohortd/internal/infrastructure/audit/kafka"
	"github.com/clinforge/cohortd/internal/infrastructure/database/redis"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/pkg/errors"
)

// CreateInput carries a new saved filter.
type CreateInput struct {
	Name        string
	Description string
	Tree        json.RawMessage
	CreatedBy   string
}

// UpdateInput carries changes to an existing saved filter.  Nil fields are
// left unchanged.
type UpdateInput struct {
	Name        *string
	Description *string
	Tree        json.RawMessage
}

// Service is the saved-filter surface used by handlers and the screening
// service.
type Service interface {
	Create(ctx context.Context, in CreateInput) (*filter.SavedFilter, error)
	Get(ctx context.Context, id string) (*filter.SavedFilter, error)
	List(ctx context.Context, limit, offset int) ([]*filter.SavedFilter, int64, error)
	Update(ctx context.Context, id string, in UpdateInput) (*filter.SavedFilter, error)
	Delete(ctx context.Context, id string) error

	// ValidateAgainstDataset checks a raw tree against a dataset's column
	// schema without persisting anything.
	ValidateAgainstDataset(ctx context.Context, tree json.RawMessage, masterDataID string) error
}

type service struct {
	repo     filter.Repository
	datasets masterdata.Repository
	cache    redis.Cache
	cacheTTL time.Duration
	audit    kafka.Publisher
	log      logging.Logger
}

// NewService wires the filter service.
func NewService(repo filter.Repository, datasets masterdata.Repository,
	cache redis.Cache, cacheTTL time.Duration, audit kafka.Publisher, log logging.Logger) Service {
	return &service{
		repo:     repo,
		datasets: datasets,
		cache:    cache,
		cacheTTL: cacheTTL,
		audit:    audit,
		log:      log.Named("filters"),
	}
}

func (s *service) Create(ctx context.Context, in CreateInput) (*filter.SavedFilter, error) {
	root, err := filter.Decode(in.Tree)
	if err != nil {
		return nil, err
	}
	f, err := filter.NewSavedFilter(in.Name, in.Description, in.CreatedBy, root)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, f); err != nil {
		return nil, err
	}

	s.publishAudit(ctx, in.CreatedBy, kafka.ActionFilterCreated, f.ID, "name="+f.Name)
	s.log.Info("Saved filter created",
		logging.String("id", f.ID),
		logging.String("name", f.Name),
	)
	return f, nil
}

func (s *service) Get(ctx context.Context, id string) (*filter.SavedFilter, error) {
	var f filter.SavedFilter
	err := s.cache.GetOrSet(ctx, s.cacheKey(ctx, id), &f, s.cacheTTL,
		func(ctx context.Context) (interface{}, error) {
			return s.repo.GetByID(ctx, id)
		})
	if err != nil {
		if err == redis.ErrCacheMiss {
			return nil, errors.Newf(errors.ErrCodeFilterNotFound, "filter %s not found", id)
		}
		return nil, err
	}
	return &f, nil
}

func (s *service) List(ctx context.Context, limit, offset int) ([]*filter.SavedFilter, int64, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *service) Update(ctx context.Context, id string, in UpdateInput) (*filter.SavedFilter, error) {
	f, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		f.Name = *in.Name
	}
	if in.Description != nil {
		f.Description = *in.Description
	}
	if in.Tree != nil {
		root, err := filter.Decode(in.Tree)
		if err != nil {
			return nil, err
		}
		f.Root = root
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, f); err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)

	s.publishAudit(ctx, f.CreatedBy, kafka.ActionFilterUpdated, f.ID, "name="+f.Name)
	return f, nil
}

// Delete removes a saved filter.  Cohorts referencing it keep their frozen
// materialization; the database detaches the reference.
func (s *service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	s.publishAudit(ctx, "", kafka.ActionFilterDeleted, id, "")
	return nil
}

func (s *service) ValidateAgainstDataset(ctx context.Context, tree json.RawMessage, masterDataID string) error {
	root, err := filter.Decode(tree)
	if err != nil {
		return err
	}
	if masterDataID == "" {
		return nil
	}
	md, err := s.datasets.GetByID(ctx, masterDataID)
	if err != nil {
		return err
	}
	return root.ValidateAgainstSchema(md.Columns)
}

func (s *service) cacheKey(ctx context.Context, id string) string {
	return tenant.SchemaFromContext(ctx) + ":filter:" + id
}

func (s *service) invalidate(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, s.cacheKey(ctx, id)); err != nil {
		s.log.Warn("Failed to invalidate filter cache",
			logging.String("id", id), logging.Err(err))
	}
}

func (s *service) publishAudit(ctx context.Context, actor string, action kafka.Action, entityID, detail string) {
	tenantID := ""
	if info, ok := tenant.FromContext(ctx); ok && info != nil {
		tenantID = info.ID
	}
	ev := kafka.NewEvent(tenantID, actor, action, kafka.EntityFilter, entityID, detail)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = s.audit.Publish(pubCtx, ev)
}
