package comparisons

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinforge/cohortd/internal/domain/cohort"
	"github.com/clinforge/cohortd/internal/domain/comparison"
	"github.com/clinforge/cohortd/internal/infrastructure/audit/kafka"
	"github.com/clinforge/cohortd/internal/infrastructure/database/redis"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/pkg/errors"
)

// fakeCohortSource serves cohorts by ID; only GetManyByIDs matters here.
type fakeCohortSource struct {
	cohort.Repository
	byID  map[string]*cohort.Cohort
	calls int
}

func (f *fakeCohortSource) GetManyByIDs(_ context.Context, ids []string) ([]*cohort.Cohort, error) {
	f.calls++
	var out []*cohort.Cohort
	for _, id := range ids {
		if c, ok := f.byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// fakeRecordRepo keeps comparison records in memory by cache key.
type fakeRecordRepo struct {
	byKey map[string]*comparison.Record
}

func (f *fakeRecordRepo) Upsert(_ context.Context, rec *comparison.Record) error {
	f.byKey[rec.CacheKey] = rec
	return nil
}

func (f *fakeRecordRepo) GetByKey(_ context.Context, cacheKey string) (*comparison.Record, error) {
	rec, ok := f.byKey[cacheKey]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeComparisonNotFound, "comparison %s not found", cacheKey)
	}
	return rec, nil
}

func (f *fakeRecordRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for k, rec := range f.byKey {
		if rec.Expired(now) {
			delete(f.byKey, k)
			n++
		}
	}
	return n, nil
}

// memCache is an in-memory redis.Cache.
type memCache struct {
	values map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{values: map[string][]byte{}}
}

func (m *memCache) Get(_ context.Context, key string, dest interface{}) error {
	data, ok := m.values[key]
	if !ok {
		return redis.ErrCacheMiss
	}
	return json.Unmarshal(data, dest)
}

func (m *memCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = data
	return nil
}

func (m *memCache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *memCache) DeleteByPrefix(_ context.Context, prefix string) (int64, error) {
	var n int64
	for k := range m.values {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.values, k)
			n++
		}
	}
	return n, nil
}

func (m *memCache) GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration,
	loader func(ctx context.Context) (interface{}, error)) error {

	if err := m.Get(ctx, key, dest); err == nil {
		return nil
	}
	v, err := loader(ctx)
	if err != nil {
		return err
	}
	if v == nil {
		return redis.ErrCacheMiss
	}
	if err := m.Set(ctx, key, v, ttl); err != nil {
		return err
	}
	return m.Get(ctx, key, dest)
}

func (m *memCache) Ping(context.Context) error { return nil }

func testCohort(id string, members ...string) *cohort.Cohort {
	c := &cohort.Cohort{ID: id, Name: "cohort-" + id}
	c.SetMembers(members)
	return c
}

func newTestService(cohorts ...*cohort.Cohort) (Service, *fakeCohortSource, *fakeRecordRepo, *memCache) {
	source := &fakeCohortSource{byID: map[string]*cohort.Cohort{}}
	for _, c := range cohorts {
		source.byID[c.ID] = c
	}
	records := &fakeRecordRepo{byKey: map[string]*comparison.Record{}}
	cache := newMemCache()
	svc := NewService(source, records, cache, 15*time.Minute,
		kafka.NopPublisher{}, nil, logging.NewNopLogger())
	return svc, source, records, cache
}

func TestService_Compare(t *testing.T) {
	svc, _, records, _ := newTestService(
		testCohort("a", "1", "2", "3"),
		testCohort("b", "2", "3", "4"),
	)

	res, err := svc.Compare(context.Background(), []string{"a", "b"})
	require.NoError(t, err)

	assert.Equal(t, []string{"2", "3"}, res.Intersection)
	assert.Equal(t, 2, res.IntersectionCount)
	assert.Equal(t, 4, res.UnionCount)
	require.Len(t, res.Stats, 2)
	assert.Equal(t, 1, res.Stats[0].Unique)
	assert.Equal(t, 1, res.Stats[1].Unique)
	require.Len(t, res.Pairs, 1)
	assert.Equal(t, 2, res.Pairs[0].Overlap)

	// The computation is persisted under the canonical key.
	assert.Contains(t, records.byKey, "a,b")
}

func TestService_Compare_ServedFromCache(t *testing.T) {
	svc, source, _, _ := newTestService(
		testCohort("a", "1"),
		testCohort("b", "1", "2"),
	)
	ctx := context.Background()

	_, err := svc.Compare(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, 1, source.calls)

	// Same cohorts in reverse order hit the same cache entry.
	res, err := svc.Compare(ctx, []string{"b", "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)
	assert.Equal(t, []string{"1"}, res.Intersection)
}

func TestService_Compare_CountBounds(t *testing.T) {
	svc, _, _, _ := newTestService(testCohort("a", "1"))
	ctx := context.Background()

	_, err := svc.Compare(ctx, []string{"a"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeComparisonBadCount), "got %v", err)

	_, err = svc.Compare(ctx, []string{"a", "b", "c", "d", "e", "f"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeComparisonBadCount), "got %v", err)
}

func TestService_Compare_UnknownCohort(t *testing.T) {
	svc, _, _, _ := newTestService(testCohort("a", "1"))

	_, err := svc.Compare(context.Background(), []string{"a", "ghost"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeCohortNotFound), "got %v", err)
}

func TestService_GetPersisted(t *testing.T) {
	svc, _, records, _ := newTestService(
		testCohort("a", "1", "2"),
		testCohort("b", "2"),
	)
	ctx := context.Background()

	_, err := svc.Compare(ctx, []string{"a", "b"})
	require.NoError(t, err)

	rec, err := svc.GetPersisted(ctx, "a,b")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, rec.Result.Intersection)

	// An expired record is reported as gone.
	records.byKey["a,b"].ExpiresAt = time.Now().UTC().Add(-time.Minute)
	_, err = svc.GetPersisted(ctx, "a,b")
	assert.True(t, errors.IsCode(err, errors.ErrCodeComparisonNotFound), "got %v", err)
}

func TestService_PruneExpired(t *testing.T) {
	svc, _, records, _ := newTestService(
		testCohort("a", "1"),
		testCohort("b", "2"),
	)
	ctx := context.Background()

	_, err := svc.Compare(ctx, []string{"a", "b"})
	require.NoError(t, err)

	records.byKey["a,b"].ExpiresAt = time.Now().UTC().Add(-time.Minute)
	n, err := svc.PruneExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, records.byKey)
}
