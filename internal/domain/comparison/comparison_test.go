package comparison

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinforge/cohortd/pkg/errors"
)

func members(ids ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// A = {1,2,3}, B = {2,3,4}: intersection 2, one unique member each, union 4.
func TestCompute_TwoCohorts(t *testing.T) {
	res, err := Compute([]Input{
		{CohortID: "a", Name: "A", Members: members("1", "2", "3")},
		{CohortID: "b", Name: "B", Members: members("2", "3", "4")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, res.CohortIDs)
	assert.Equal(t, []string{"2", "3"}, res.Intersection)
	assert.Equal(t, 2, res.IntersectionCount)
	assert.Equal(t, 4, res.UnionCount)

	require.Len(t, res.Stats, 2)
	assert.Equal(t, CohortStat{CohortID: "a", Name: "A", Total: 3, Unique: 1}, res.Stats[0])
	assert.Equal(t, CohortStat{CohortID: "b", Name: "B", Total: 3, Unique: 1}, res.Stats[1])

	require.Len(t, res.Pairs, 1)
	assert.Equal(t, PairOverlap{A: "a", B: "b", Overlap: 2}, res.Pairs[0])
}

func TestCompute_ThreeCohorts(t *testing.T) {
	res, err := Compute([]Input{
		{CohortID: "a", Members: members("1", "2", "3")},
		{CohortID: "b", Members: members("2", "3", "4")},
		{CohortID: "c", Members: members("3", "5")},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"3"}, res.Intersection)
	assert.Equal(t, 5, res.UnionCount)

	// "1" is only in a, "5" only in c; everything in b appears elsewhere.
	assert.Equal(t, 1, res.Stats[0].Unique)
	assert.Equal(t, 0, res.Stats[1].Unique)
	assert.Equal(t, 1, res.Stats[2].Unique)

	require.Len(t, res.Pairs, 3)
	assert.Equal(t, PairOverlap{A: "a", B: "b", Overlap: 2}, res.Pairs[0])
	assert.Equal(t, PairOverlap{A: "a", B: "c", Overlap: 1}, res.Pairs[1])
	assert.Equal(t, PairOverlap{A: "b", B: "c", Overlap: 1}, res.Pairs[2])
}

func TestCompute_DisjointAndEmpty(t *testing.T) {
	res, err := Compute([]Input{
		{CohortID: "a", Members: members("1", "2")},
		{CohortID: "b", Members: members()},
	})
	require.NoError(t, err)

	assert.Empty(t, res.Intersection)
	assert.Equal(t, 2, res.UnionCount)
	assert.Equal(t, 0, res.Pairs[0].Overlap)
	assert.Equal(t, 0, res.Stats[1].Total)
}

// Overlap is symmetric in the pair's members.
func TestCompute_PairSymmetry(t *testing.T) {
	ab, err := Compute([]Input{
		{CohortID: "a", Members: members("1", "2", "3", "9")},
		{CohortID: "b", Members: members("2", "9")},
	})
	require.NoError(t, err)

	ba, err := Compute([]Input{
		{CohortID: "b", Members: members("2", "9")},
		{CohortID: "a", Members: members("1", "2", "3", "9")},
	})
	require.NoError(t, err)

	assert.Equal(t, ab.Pairs[0].Overlap, ba.Pairs[0].Overlap)
	assert.Equal(t, ab.UnionCount, ba.UnionCount)
	assert.Equal(t, ab.Intersection, ba.Intersection)
}

func TestCompute_CountBounds(t *testing.T) {
	_, err := Compute([]Input{{CohortID: "a", Members: members("1")}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeComparisonBadCount), "got %v", err)

	six := make([]Input, 6)
	for i := range six {
		six[i] = Input{CohortID: string(rune('a' + i)), Members: members("1")}
	}
	_, err = Compute(six)
	assert.True(t, errors.IsCode(err, errors.ErrCodeComparisonBadCount), "got %v", err)
}

func TestCacheKey_OrderIndependent(t *testing.T) {
	assert.Equal(t, CacheKey([]string{"b", "a", "c"}), CacheKey([]string{"c", "b", "a"}))
	assert.Equal(t, "a,b,c", CacheKey([]string{"b", "a", "c"}))

	// The input slice is left untouched.
	ids := []string{"b", "a"}
	_ = CacheKey(ids)
	assert.Equal(t, []string{"b", "a"}, ids)
}

func TestRecord_Expired(t *testing.T) {
	now := time.Now().UTC()
	rec := &Record{ExpiresAt: now.Add(time.Minute)}
	assert.False(t, rec.Expired(now))
	assert.True(t, rec.Expired(now.Add(time.Minute)))
	assert.True(t, rec.Expired(now.Add(2*time.Minute)))
}
