// Package comparisons computes exact set overlaps between materialized
// cohorts, with a TTL cache in front of the computation and a persisted
// record behind it.
package comparisons

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/clinforge/cohortd/internal/domain/cohort"
	"github.com/clinforge/cohortd/internal/domain/comparison"
	"github.com/clinforge/cohortd/internal/domain/tenant"
	"github.com/clinforge/cohortd/internal/infrastructure/audit/kafka"
	"github.com/clinforge/cohortd/internal/infrastructure/database/redis"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/prometheus"
	"github.com/clinforge/cohortd/pkg/errors"
)

// Service is the comparison surface used by handlers and the CLI.
type Service interface {
	// Compare returns the set statistics for the given cohorts, serving
	// from cache when an identical comparison ran within the TTL.
	Compare(ctx context.Context, cohortIDs []string) (*comparison.Result, error)

	// GetPersisted returns the stored record for a cache key, if it has
	// not expired.
	GetPersisted(ctx context.Context, cacheKey string) (*comparison.Record, error)

	// PruneExpired removes expired persisted records, returning how many
	// were dropped.
	PruneExpired(ctx context.Context) (int64, error)
}

type service struct {
	cohorts cohort.Repository
	records comparison.Repository
	cache   redis.Cache
	ttl     time.Duration
	audit   kafka.Publisher
	metrics *prometheus.Collector
	log     logging.Logger
	now     func() time.Time
}

// NewService wires the comparison service.
func NewService(cohorts cohort.Repository, records comparison.Repository,
	cache redis.Cache, ttl time.Duration, audit kafka.Publisher,
	metrics *prometheus.Collector, log logging.Logger) Service {
	return &service{
		cohorts: cohorts,
		records: records,
		cache:   cache,
		ttl:     ttl,
		audit:   audit,
		metrics: metrics,
		log:     log.Named("comparisons"),
		now:     time.Now,
	}
}

func (s *service) Compare(ctx context.Context, cohortIDs []string) (*comparison.Result, error) {
	if err := comparison.ValidateCount(len(cohortIDs)); err != nil {
		return nil, err
	}

	key := comparison.CacheKey(cohortIDs)
	fullKey := tenant.SchemaFromContext(ctx) + ":cmp:" + key

	var result comparison.Result
	hit := true
	err := s.cache.GetOrSet(ctx, fullKey, &result, s.ttl,
		func(ctx context.Context) (interface{}, error) {
			hit = false
			return s.compute(ctx, cohortIDs, key)
		})
	if err != nil {
		if err == redis.ErrCacheMiss {
			return nil, errors.New(errors.ErrCodeComparisonFailed, "comparison produced no result")
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveComparisonCache(hit)
	}
	return &result, nil
}

// compute loads the cohorts, runs the set algebra, and persists the record
// so past comparisons survive cache eviction.
func (s *service) compute(ctx context.Context, cohortIDs []string, key string) (*comparison.Result, error) {
	cohorts, err := s.cohorts.GetManyByIDs(ctx, cohortIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*cohort.Cohort, len(cohorts))
	for _, c := range cohorts {
		byID[c.ID] = c
	}

	inputs := make([]comparison.Input, 0, len(cohortIDs))
	for _, id := range cohortIDs {
		c, ok := byID[id]
		if !ok {
			return nil, errors.Newf(errors.ErrCodeCohortNotFound, "cohort %s not found", id)
		}
		inputs = append(inputs, comparison.Input{
			CohortID: c.ID,
			Name:     c.Name,
			Members:  c.MemberSet(),
		})
	}

	result, err := comparison.Compute(inputs)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	record := &comparison.Record{
		ID:        uuid.NewString(),
		CacheKey:  key,
		Result:    result,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.records.Upsert(ctx, record); err != nil {
		// The result is still valid; losing the persisted record only
		// affects later history lookups.
		s.log.Warn("Failed to persist comparison record",
			logging.String("cache_key", key), logging.Err(err))
	}

	s.publishAudit(ctx, key, len(cohortIDs))
	return result, nil
}

func (s *service) GetPersisted(ctx context.Context, cacheKey string) (*comparison.Record, error) {
	rec, err := s.records.GetByKey(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	if rec.Expired(s.now().UTC()) {
		return nil, errors.Newf(errors.ErrCodeComparisonNotFound,
			"comparison %s has expired", cacheKey)
	}
	return rec, nil
}

func (s *service) PruneExpired(ctx context.Context) (int64, error) {
	n, err := s.records.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("Pruned expired comparison records", logging.Int64("count", n))
	}
	return n, nil
}

func (s *service) publishAudit(ctx context.Context, key string, cohorts int) {
	tenantID := ""
	if info, ok := tenant.FromContext(ctx); ok && info != nil {
		tenantID = info.ID
	}
	ev := kafka.NewEvent(tenantID, "", kafka.ActionComparisonRun, kafka.EntityComparison, key,
		"cohorts="+strconv.Itoa(cohorts))

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = s.audit.Publish(pubCtx, ev)
}
