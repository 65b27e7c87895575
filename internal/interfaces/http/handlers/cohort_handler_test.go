package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinforge/cohortd/internal/application/screening"
	"github.com/clinforge/cohortd/internal/domain/cohort"
	"github.com/clinforge/cohortd/pkg/errors"
)

// stubScreening delegates Create to the embedded function and fails every
// other call; handler tests only exercise one path at a time.
type stubScreening struct {
	screening.Service
	create func(ctx context.Context, in screening.CreateInput) (*cohort.Cohort, error)
	get    func(ctx context.Context, id string) (*cohort.Cohort, error)
}

func (s *stubScreening) Create(ctx context.Context, in screening.CreateInput) (*cohort.Cohort, error) {
	return s.create(ctx, in)
}

func (s *stubScreening) Get(ctx context.Context, id string) (*cohort.Cohort, error) {
	return s.get(ctx, id)
}

func newCohortRouter(svc screening.Service) http.Handler {
	h := NewCohortHandler(svc)
	r := chi.NewRouter()
	r.Post("/cohorts", h.Create)
	r.Get("/cohorts/{cohortID}/patients", h.Patients)
	return r
}

func TestCohortHandler_Create(t *testing.T) {
	svc := &stubScreening{create: func(_ context.Context, in screening.CreateInput) (*cohort.Cohort, error) {
		c, err := cohort.New(in.Name, in.Description, in.MasterDataID, in.CreatedBy, in.FilterID, in.Filter)
		if err != nil {
			return nil, err
		}
		c.SetMembers([]string{"1", "3"})
		return c, nil
	}}
	router := newCohortRouter(svc)

	body := `{
		"name": "adults",
		"master_data_id": "md-1",
		"filter": {"logic":"AND","rules":[{"field":"age","operator":"gte","value":18}]}
	}`
	req := httptest.NewRequest(http.MethodPost, "/cohorts", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"patient_count":2`)
}

func TestCohortHandler_Create_FilterSourceConflict(t *testing.T) {
	svc := &stubScreening{create: func(_ context.Context, in screening.CreateInput) (*cohort.Cohort, error) {
		return cohort.New(in.Name, in.Description, in.MasterDataID, in.CreatedBy, in.FilterID, in.Filter)
	}}
	router := newCohortRouter(svc)

	tests := []struct {
		name string
		body string
	}{
		{
			"both sources",
			`{"name":"x","master_data_id":"md-1","filter_id":"f-1",
			  "filter":{"logic":"AND","rules":[{"field":"age","operator":"gte","value":18}]}}`,
		},
		{
			"neither source",
			`{"name":"x","master_data_id":"md-1"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/cohorts", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), string(errors.ErrCodeCohortFilterConflict))
		})
	}
}

func TestCohortHandler_Patients_Paginated(t *testing.T) {
	svc := &stubScreening{get: func(_ context.Context, id string) (*cohort.Cohort, error) {
		c := &cohort.Cohort{ID: id, Name: "adults", MasterDataID: "md-1"}
		c.SetMembers([]string{"1", "2", "3", "4", "5"})
		return c, nil
	}}
	router := newCohortRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/cohorts/c-1/patients?limit=2&offset=3", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"items":["4","5"]`)
	assert.Contains(t, rec.Body.String(), `"total":5`)
}

func TestCohortHandler_Create_MalformedFilter(t *testing.T) {
	svc := &stubScreening{create: func(context.Context, screening.CreateInput) (*cohort.Cohort, error) {
		t.Fatal("service must not be reached for malformed trees")
		return nil, nil
	}}
	router := newCohortRouter(svc)

	body := `{"name":"x","master_data_id":"md-1","filter":{"logic":"XOR","rules":[]}}`
	req := httptest.NewRequest(http.MethodPost, "/cohorts", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
