// Package screening materializes cohorts: it resolves a cohort's criteria
// to a filter tree, evaluates the tree over the referenced dataset, and
// freezes the matching patient set.  It also maintains the saved-filter
// usage counter transactionally with every cohort write.
package screening

import (
	"context"
	"fmt"
	"time"

	"github.com/clinforge/cohortd/internal/application/datasets"
	"github.com/clinforge/cohortd/internal/domain/cohort"
	"github.com/clinforge/cohortd/internal/domain/filter"
	"github.com/clinforge/cohortd/internal/domain/masterdata"
	"github.com/clinforge/cohortd/internal/domain/tenant"
	"github.com/clinforge/cohortd/internal/infrastructure/audit/kafka"
	"github.com/clinforge/cohortd/internal/infrastructure/database/redis"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/prometheus"
	"github.com/clinforge/cohortd/pkg/errors"
)

// CreateInput carries a new cohort definition.  Exactly one of FilterID and
// Filter must be set.
type CreateInput struct {
	Name         string
	Description  string
	MasterDataID string
	FilterID     *string
	Filter       *filter.Group
	CreatedBy    string
}

// UpdateInput carries cohort changes.  Nil fields are left unchanged; a
// criteria change (FilterID or Filter) triggers re-materialization.
type UpdateInput struct {
	Name        *string
	Description *string
	FilterID    *string
	Filter      *filter.Group
}

// Service is the cohort surface used by handlers and the comparison
// service.
type Service interface {
	Create(ctx context.Context, in CreateInput) (*cohort.Cohort, error)
	Get(ctx context.Context, id string) (*cohort.Cohort, error)
	List(ctx context.Context, limit, offset int) ([]*cohort.Cohort, int64, error)
	Update(ctx context.Context, id string, in UpdateInput) (*cohort.Cohort, error)
	Delete(ctx context.Context, id string) error

	// Rematerialize re-evaluates the cohort's criteria against its dataset
	// and freezes the new result.
	Rematerialize(ctx context.Context, id string) (*cohort.Cohort, error)
}

type service struct {
	cohorts cohort.Repository
	filters filter.Repository
	md      masterdata.Repository
	rows    masterdata.RowReader
	cache   redis.Cache
	audit   kafka.Publisher
	metrics *prometheus.Collector
	log     logging.Logger
}

// NewService wires the screening service.
func NewService(cohorts cohort.Repository, filters filter.Repository,
	md masterdata.Repository, rows masterdata.RowReader, cache redis.Cache,
	audit kafka.Publisher, metrics *prometheus.Collector, log logging.Logger) Service {
	return &service{
		cohorts: cohorts,
		filters: filters,
		md:      md,
		rows:    rows,
		cache:   cache,
		audit:   audit,
		metrics: metrics,
		log:     log.Named("screening"),
	}
}

func (s *service) Create(ctx context.Context, in CreateInput) (*cohort.Cohort, error) {
	c, err := cohort.New(in.Name, in.Description, in.MasterDataID, in.CreatedBy,
		in.FilterID, in.Filter)
	if err != nil {
		return nil, err
	}

	ids, err := s.materialize(ctx, c)
	if err != nil {
		return nil, err
	}
	c.SetMembers(ids)

	// The insert and the usage-count bump commit together, keeping
	// usage_count equal to the number of referencing cohorts.
	err = s.cohorts.WithTx(ctx, func(ctx context.Context, repo cohort.Repository) error {
		if err := repo.Create(ctx, c); err != nil {
			return err
		}
		if c.FilterID != nil {
			return repo.AdjustFilterUsage(ctx, *c.FilterID, +1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateComparisons(ctx)
	s.publishAudit(ctx, in.CreatedBy, kafka.ActionCohortCreated, c.ID,
		fmt.Sprintf("name=%s patients=%d", c.Name, c.PatientCount))
	s.log.Info("Cohort created",
		logging.String("id", c.ID),
		logging.String("name", c.Name),
		logging.Int("patients", c.PatientCount),
	)
	return c, nil
}

func (s *service) Get(ctx context.Context, id string) (*cohort.Cohort, error) {
	return s.cohorts.GetByID(ctx, id)
}

func (s *service) List(ctx context.Context, limit, offset int) ([]*cohort.Cohort, int64, error) {
	return s.cohorts.List(ctx, limit, offset)
}

func (s *service) Update(ctx context.Context, id string, in UpdateInput) (*cohort.Cohort, error) {
	c, err := s.cohorts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	prevFilterID := c.FilterID
	criteriaChanged := false

	if in.Name != nil {
		c.Name = *in.Name
	}
	if in.Description != nil {
		c.Description = *in.Description
	}
	if in.FilterID != nil || in.Filter != nil {
		// A criteria update replaces the source wholesale.
		c.FilterID = in.FilterID
		c.Filter = in.Filter
		criteriaChanged = true
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if criteriaChanged && c.Detached() {
		return nil, errors.New(errors.ErrCodeCohortFilterConflict,
			"exactly one of filter_id or filter must be set")
	}

	if criteriaChanged {
		ids, err := s.materialize(ctx, c)
		if err != nil {
			return nil, err
		}
		c.SetMembers(ids)
	}

	err = s.cohorts.WithTx(ctx, func(ctx context.Context, repo cohort.Repository) error {
		if err := repo.Update(ctx, c); err != nil {
			return err
		}
		if !criteriaChanged || sameFilterRef(prevFilterID, c.FilterID) {
			return nil
		}
		if prevFilterID != nil {
			if err := repo.AdjustFilterUsage(ctx, *prevFilterID, -1); err != nil {
				return err
			}
		}
		if c.FilterID != nil {
			return repo.AdjustFilterUsage(ctx, *c.FilterID, +1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateComparisons(ctx)
	s.publishAudit(ctx, c.CreatedBy, kafka.ActionCohortUpdated, c.ID, "name="+c.Name)
	return c, nil
}

func (s *service) Delete(ctx context.Context, id string) error {
	c, err := s.cohorts.GetByID(ctx, id)
	if err != nil {
		return err
	}

	err = s.cohorts.WithTx(ctx, func(ctx context.Context, repo cohort.Repository) error {
		if err := repo.Delete(ctx, id); err != nil {
			return err
		}
		if c.FilterID != nil {
			return repo.AdjustFilterUsage(ctx, *c.FilterID, -1)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateComparisons(ctx)
	s.publishAudit(ctx, "", kafka.ActionCohortDeleted, id, "name="+c.Name)
	return nil
}

func (s *service) Rematerialize(ctx context.Context, id string) (*cohort.Cohort, error) {
	c, err := s.cohorts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ids, err := s.materialize(ctx, c)
	if err != nil {
		return nil, err
	}
	c.SetMembers(ids)

	if err := s.cohorts.Update(ctx, c); err != nil {
		return nil, err
	}
	s.invalidateComparisons(ctx)
	s.publishAudit(ctx, "", kafka.ActionCohortUpdated, c.ID,
		fmt.Sprintf("rematerialized patients=%d", c.PatientCount))
	return c, nil
}

// materialize resolves the cohort's criteria and evaluates them over the
// referenced dataset, returning the matching patient IDs in row order.
func (s *service) materialize(ctx context.Context, c *cohort.Cohort) ([]string, error) {
	md, err := s.md.GetByID(ctx, c.MasterDataID)
	if err != nil {
		return nil, err
	}

	root, err := s.resolveTree(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := root.ValidateAgainstSchema(md.Columns); err != nil {
		return nil, err
	}

	ec := filter.EvalContext{Schema: md.Columns}
	if refs := root.CohortRefs(); len(refs) > 0 {
		ec.CohortMembers, err = s.resolveMembers(ctx, refs, c.ID)
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	rows, err := s.rows.ReadRows(ctx, md)
	if err != nil {
		return nil, err
	}

	matched := make([]string, 0, len(rows))
	for _, row := range rows {
		if !root.Matches(row, ec) {
			continue
		}
		id, ok := datasets.PatientID(row, md.PatientIDColumn)
		if !ok {
			return nil, errors.Newf(errors.ErrCodeCohortMaterialization,
				"row missing patient ID column %q", md.PatientIDColumn)
		}
		matched = append(matched, id)
	}

	if s.metrics != nil {
		s.metrics.ObserveMaterialization(tenant.SchemaFromContext(ctx), len(rows), time.Since(start))
	}
	return matched, nil
}

// resolveTree returns the effective filter tree: the inline tree, or the
// referenced saved filter's tree.  A detached cohort (its saved filter was
// deleted, clearing the reference) has no tree to resolve.
func (s *service) resolveTree(ctx context.Context, c *cohort.Cohort) (*filter.Group, error) {
	if c.Filter != nil {
		return c.Filter, nil
	}
	if c.Detached() {
		return nil, errors.New(errors.ErrCodeCohortFilterConflict,
			"cohort's saved filter was deleted; update the cohort with new criteria first")
	}
	f, err := s.filters.GetByID(ctx, *c.FilterID)
	if err != nil {
		return nil, err
	}
	return f.Root, nil
}

// resolveMembers loads the membership sets for belongs_to_cohort references.
// Self-references are rejected; they could never terminate.
func (s *service) resolveMembers(ctx context.Context, refs []string, selfID string) (map[string]map[string]struct{}, error) {
	for _, ref := range refs {
		if ref == selfID {
			return nil, errors.New(errors.ErrCodeFilterInvalidTree,
				"filter must not reference the cohort being materialized")
		}
	}
	referenced, err := s.cohorts.GetManyByIDs(ctx, refs)
	if err != nil {
		return nil, err
	}
	members := make(map[string]map[string]struct{}, len(referenced))
	for _, rc := range referenced {
		members[rc.ID] = rc.MemberSet()
	}
	for _, ref := range refs {
		if _, ok := members[ref]; !ok {
			return nil, errors.Newf(errors.ErrCodeCohortNotFound,
				"referenced cohort %s not found", ref)
		}
	}
	return members, nil
}

// invalidateComparisons drops every cached comparison for the tenant; any
// of them may involve the mutated cohort.
func (s *service) invalidateComparisons(ctx context.Context) {
	prefix := tenant.SchemaFromContext(ctx) + ":cmp:"
	if _, err := s.cache.DeleteByPrefix(ctx, prefix); err != nil {
		s.log.Warn("Failed to invalidate comparison cache", logging.Err(err))
	}
}

func (s *service) publishAudit(ctx context.Context, actor string, action kafka.Action, entityID, detail string) {
	tenantID := ""
	if info, ok := tenant.FromContext(ctx); ok && info != nil {
		tenantID = info.ID
	}
	ev := kafka.NewEvent(tenantID, actor, action, kafka.EntityCohort, entityID, detail)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = s.audit.Publish(pubCtx, ev)
}

func sameFilterRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
