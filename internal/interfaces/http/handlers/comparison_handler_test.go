package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinforge/cohortd/internal/application/comparisons"
	"github.com/clinforge/cohortd/internal/domain/comparison"
	"github.com/clinforge/cohortd/pkg/errors"
)

type stubComparisons struct {
	comparisons.Service
	compare func(ctx context.Context, ids []string) (*comparison.Result, error)
}

func (s *stubComparisons) Compare(ctx context.Context, ids []string) (*comparison.Result, error) {
	return s.compare(ctx, ids)
}

func newComparisonRouter(svc comparisons.Service) http.Handler {
	h := NewComparisonHandler(svc)
	r := chi.NewRouter()
	r.Post("/comparisons", h.Compare)
	r.Get("/comparisons", h.Get)
	return r
}

func TestComparisonHandler_Compare(t *testing.T) {
	svc := &stubComparisons{compare: func(_ context.Context, ids []string) (*comparison.Result, error) {
		if err := comparison.ValidateCount(len(ids)); err != nil {
			return nil, err
		}
		return &comparison.Result{
			CohortIDs:         ids,
			Intersection:      []string{"2", "3"},
			IntersectionCount: 2,
			UnionCount:        4,
			ComputedAt:        time.Now().UTC(),
		}, nil
	}}
	router := newComparisonRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/comparisons",
		strings.NewReader(`{"cohort_ids":["a","b"]}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"union_count":4`)
}

func TestComparisonHandler_Compare_CountBounds(t *testing.T) {
	svc := &stubComparisons{compare: func(_ context.Context, ids []string) (*comparison.Result, error) {
		if err := comparison.ValidateCount(len(ids)); err != nil {
			return nil, err
		}
		return &comparison.Result{}, nil
	}}
	router := newComparisonRouter(svc)

	for _, body := range []string{
		`{"cohort_ids":["a"]}`,
		`{"cohort_ids":["a","b","c","d","e","f"]}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/comparisons", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
		assert.Contains(t, rec.Body.String(), string(errors.ErrCodeComparisonBadCount))
	}
}

func TestComparisonHandler_Get_RequiresKey(t *testing.T) {
	router := newComparisonRouter(&stubComparisons{})

	req := httptest.NewRequest(http.MethodGet, "/comparisons", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
