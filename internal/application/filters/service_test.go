package filters

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinforge/cohortd/internal/domain/filter"
	"github.com/clinforge/cohortd/internal/domain/masterdata"
	"github.com/clinforge/cohortd/internal/infrastructure/audit/kafka"
	"github.com/clinforge/cohortd/internal/infrastructure/database/redis"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/pkg/errors"
)

const adultTree = `{"logic":"AND","rules":[{"field":"age","operator":"gte","value":18}]}`

// fakeFilterRepo keeps saved filters in memory and counts reads so tests
// can observe cache hits.
type fakeFilterRepo struct {
	byID  map[string]*filter.SavedFilter
	reads int
}

func newFakeFilterRepo() *fakeFilterRepo {
	return &fakeFilterRepo{byID: map[string]*filter.SavedFilter{}}
}

func (f *fakeFilterRepo) Create(_ context.Context, sf *filter.SavedFilter) error {
	for _, existing := range f.byID {
		if existing.Name == sf.Name {
			return errors.Newf(errors.ErrCodeFilterNameTaken, "filter name %q already in use", sf.Name)
		}
	}
	f.byID[sf.ID] = sf
	return nil
}

func (f *fakeFilterRepo) GetByID(_ context.Context, id string) (*filter.SavedFilter, error) {
	f.reads++
	sf, ok := f.byID[id]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeFilterNotFound, "filter %s not found", id)
	}
	return sf, nil
}

func (f *fakeFilterRepo) List(_ context.Context, _, _ int) ([]*filter.SavedFilter, int64, error) {
	var out []*filter.SavedFilter
	for _, sf := range f.byID {
		out = append(out, sf)
	}
	return out, int64(len(out)), nil
}

func (f *fakeFilterRepo) Update(_ context.Context, sf *filter.SavedFilter) error {
	if _, ok := f.byID[sf.ID]; !ok {
		return errors.Newf(errors.ErrCodeFilterNotFound, "filter %s not found", sf.ID)
	}
	f.byID[sf.ID] = sf
	return nil
}

func (f *fakeFilterRepo) Delete(_ context.Context, id string) error {
	if _, ok := f.byID[id]; !ok {
		return errors.Newf(errors.ErrCodeFilterNotFound, "filter %s not found", id)
	}
	delete(f.byID, id)
	return nil
}

// memCache is an in-memory redis.Cache good enough for service tests.
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

func newTestService() (Service, *fakeFilterRepo, *memCache, *fakeMasterDataRepo) {
	repo := newFakeFilterRepo()
	cache := newMemCache()
	datasets := newFakeMasterDataRepo()
	svc := NewService(repo, datasets, cache, time.Minute, kafka.NopPublisher{}, logging.NewNopLogger())
	return svc, repo, cache, datasets
}

// fakeMasterDataRepo serves only GetByID; ValidateAgainstDataset needs
// nothing else.
type fakeMasterDataRepo struct {
	byID map[string]*masterdata.MasterData
}

func newFakeMasterDataRepo() *fakeMasterDataRepo {
	return &fakeMasterDataRepo{byID: map[string]*masterdata.MasterData{}}
}

func (f *fakeMasterDataRepo) Create(_ context.Context, md *masterdata.MasterData) error {
	f.byID[md.ID] = md
	return nil
}

func (f *fakeMasterDataRepo) GetByID(_ context.Context, id string) (*masterdata.MasterData, error) {
	md, ok := f.byID[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeDatasetNotFound, "dataset not found")
	}
	return md, nil
}

func (f *fakeMasterDataRepo) GetLatestByName(context.Context, string) (*masterdata.MasterData, error) {
	return nil, errors.New(errors.ErrCodeDatasetNotFound, "dataset not found")
}

func (f *fakeMasterDataRepo) List(context.Context, int, int) ([]*masterdata.MasterData, int64, error) {
	return nil, 0, nil
}

func (f *fakeMasterDataRepo) ListVersions(context.Context, string) ([]*masterdata.MasterData, error) {
	return nil, nil
}

func (f *fakeMasterDataRepo) Delete(context.Context, string) error { return nil }

func TestService_CreateAndGet(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	f, err := svc.Create(ctx, CreateInput{
		Name:      "adults",
		Tree:      json.RawMessage(adultTree),
		CreatedBy: "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, f.UsageCount)

	got, err := svc.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.Name, got.Name)
	require.NotNil(t, got.Root)
	assert.Equal(t, filter.LogicAnd, got.Root.Logic)

	// The second read must come from cache, not the repository.
	readsAfterFirst := repo.reads
	_, err = svc.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, readsAfterFirst, repo.reads)
}

func TestService_Create_RejectsInvalidTree(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Create(context.Background(), CreateInput{
		Name: "broken",
		Tree: json.RawMessage(`{"logic":"AND","rules":[]}`),
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeFilterEmptyGroup), "got %v", err)
}

func TestService_Get_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Get(context.Background(), "missing")
	assert.True(t, errors.IsCode(err, errors.ErrCodeFilterNotFound), "got %v", err)
}

func TestService_Update_InvalidatesCache(t *testing.T) {
	svc, _, cache, _ := newTestService()
	ctx := context.Background()

	f, err := svc.Create(ctx, CreateInput{Name: "adults", Tree: json.RawMessage(adultTree)})
	require.NoError(t, err)

	_, err = svc.Get(ctx, f.ID)
	require.NoError(t, err)
	require.NotEmpty(t, cache.values)

	newName := "adults-v2"
	updated, err := svc.Update(ctx, f.ID, UpdateInput{Name: &newName})
	require.NoError(t, err)
	assert.Equal(t, "adults-v2", updated.Name)
	assert.Empty(t, cache.values)

	got, err := svc.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "adults-v2", got.Name)
}

func TestService_Delete(t *testing.T) {
	svc, _, cache, _ := newTestService()
	ctx := context.Background()

	f, err := svc.Create(ctx, CreateInput{Name: "adults", Tree: json.RawMessage(adultTree)})
	require.NoError(t, err)

	_, err = svc.Get(ctx, f.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, f.ID))
	assert.Empty(t, cache.values)

	_, err = svc.Get(ctx, f.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeFilterNotFound), "got %v", err)
}

func TestService_ValidateAgainstDataset(t *testing.T) {
	svc, _, _, datasets := newTestService()
	ctx := context.Background()

	md, err := masterdata.NewMasterData("trial-042", "", "key", "patient_id", "user-1",
		filter.Schema{"patient_id": filter.ColumnString, "age": filter.ColumnNumber}, 3)
	require.NoError(t, err)
	require.NoError(t, datasets.Create(ctx, md))

	assert.NoError(t, svc.ValidateAgainstDataset(ctx, json.RawMessage(adultTree), md.ID))

	unknown := `{"logic":"AND","rules":[{"field":"bmi","operator":"gte","value":25}]}`
	err = svc.ValidateAgainstDataset(ctx, json.RawMessage(unknown), md.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatasetUnknownColumn), "got %v", err)

	// Without a dataset the tree is only checked structurally.
	assert.NoError(t, svc.ValidateAgainstDataset(ctx, json.RawMessage(adultTree), ""))
}
