package handlers

import (
	"net/http"

	"github.com/clinforge/cohortd/internal/application/comparisons"
)

// ComparisonHandler serves the cohort comparison endpoints.
type ComparisonHandler struct {
	svc comparisons.Service
}

// NewComparisonHandler builds the handler.
func NewComparisonHandler(svc comparisons.Service) *ComparisonHandler {
	return &ComparisonHandler{svc: svc}
}

type compareRequest struct {
	CohortIDs []string `json:"cohort_ids"`
}

// Compare runs (or serves from cache) a comparison of the given cohorts.
func (h *ComparisonHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}

	res, err := h.svc.Compare(r.Context(), req.CohortIDs)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Get returns a previously persisted comparison by its cache key.
func (h *ComparisonHandler) Get(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Code: "COMMON_002", Message: "query parameter key is required",
		})
		return
	}

	rec, err := h.svc.GetPersisted(r.Context(), key)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
