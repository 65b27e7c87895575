// Package comparison computes exact set relations between materialized
// cohorts: global intersection and union, per-cohort unique members, and
// pairwise overlaps.
package comparison

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/clinforge/cohortd/pkg/errors"
)

// Bounds on how many cohorts one comparison may cover.
const (
	MinCohorts = 2
	MaxCohorts = 5
)

// CohortStat summarises one cohort's contribution to the comparison.
type CohortStat struct {
	CohortID string `json:"cohort_id"`
	Name     string `json:"name,omitempty"`
	Total    int    `json:"total"`
	// Unique counts members found in this cohort and no other compared one.
	Unique int `json:"unique"`
}

// PairOverlap is the member overlap between two compared cohorts.
type PairOverlap struct {
	A       string `json:"cohort_a"`
	B       string `json:"cohort_b"`
	Overlap int    `json:"overlap"`
}

// Result is the full outcome of comparing a set of cohorts.  All member
// lists are sorted, so equal inputs always produce byte-equal results.
type Result struct {
	CohortIDs         []string      `json:"cohort_ids"`
	Stats             []CohortStat  `json:"stats"`
	Pairs             []PairOverlap `json:"pairs"`
	Intersection      []string      `json:"intersection"`
	IntersectionCount int           `json:"intersection_count"`
	UnionCount        int           `json:"union_count"`
	ComputedAt        time.Time     `json:"computed_at"`
}

// Input is one cohort's membership, as resolved by the caller.
type Input struct {
	CohortID string
	Name     string
	Members  map[string]struct{}
}

// ValidateCount checks the cohort-count bounds before any resolution work.
func ValidateCount(n int) error {
	if n < MinCohorts || n > MaxCohorts {
		return errors.Newf(errors.ErrCodeComparisonBadCount,
			"comparison requires between %d and %d cohorts, got %d", MinCohorts, MaxCohorts, n)
	}
	return nil
}

// CacheKey derives the canonical cache key for a cohort ID set.  The IDs are
// sorted first, so request order never fragments the cache.
func CacheKey(cohortIDs []string) string {
	sorted := make([]string, len(cohortIDs))
	copy(sorted, cohortIDs)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// Compute runs the exact set algebra over the given cohorts.  Inputs are
// processed in the order given; ID order is preserved in the result.
func Compute(inputs []Input) (*Result, error) {
	if err := ValidateCount(len(inputs)); err != nil {
		return nil, err
	}

	res := &Result{
		CohortIDs:  make([]string, 0, len(inputs)),
		Stats:      make([]CohortStat, 0, len(inputs)),
		ComputedAt: time.Now().UTC(),
	}

	// occurrences counts, per member, how many cohorts contain it.
	occurrences := make(map[string]int)
	for _, in := range inputs {
		res.CohortIDs = append(res.CohortIDs, in.CohortID)
		for m := range in.Members {
			occurrences[m]++
		}
	}
	res.UnionCount = len(occurrences)

	for m, n := range occurrences {
		if n == len(inputs) {
			res.Intersection = append(res.Intersection, m)
		}
	}
	sort.Strings(res.Intersection)
	res.IntersectionCount = len(res.Intersection)

	for _, in := range inputs {
		unique := 0
		for m := range in.Members {
			if occurrences[m] == 1 {
				unique++
			}
		}
		res.Stats = append(res.Stats, CohortStat{
			CohortID: in.CohortID,
			Name:     in.Name,
			Total:    len(in.Members),
			Unique:   unique,
		})
	}

	for i := 0; i < len(inputs); i++ {
		for j := i + 1; j < len(inputs); j++ {
			overlap := 0
			a, b := inputs[i].Members, inputs[j].Members
			// Iterate the smaller set.
			if len(b) < len(a) {
				a, b = b, a
			}
			for m := range a {
				if _, ok := b[m]; ok {
					overlap++
				}
			}
			res.Pairs = append(res.Pairs, PairOverlap{
				A:       inputs[i].CohortID,
				B:       inputs[j].CohortID,
				Overlap: overlap,
			})
		}
	}

	return res, nil
}

// Record is a persisted comparison result with its cache lifetime.  Rows
// past ExpiresAt are treated as absent and recomputed on demand.
type Record struct {
	ID        string    `json:"id"`
	CacheKey  string    `json:"cache_key"`
	Result    *Result   `json:"result"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record has outlived its TTL at the given time.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Repository persists comparison records per tenant.
type Repository interface {
	Upsert(ctx context.Context, rec *Record) error
	// GetByKey returns the record for the cache key, expired or not; the
	// caller decides freshness with Expired.
	GetByKey(ctx context.Context, cacheKey string) (*Record, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
