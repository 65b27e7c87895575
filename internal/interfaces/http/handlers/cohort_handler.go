package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinforge/cohortd/internal/application/screening"
	"github.com/clinforge/cohortd/internal/domain/filter"
)

// CohortHandler serves the cohort endpoints.
type CohortHandler struct {
	svc screening.Service
}

// NewCohortHandler builds the handler.
func NewCohortHandler(svc screening.Service) *CohortHandler {
	return &CohortHandler{svc: svc}
}

type createCohortRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	MasterDataID string          `json:"master_data_id"`
	FilterID     *string         `json:"filter_id"`
	Filter       json.RawMessage `json:"filter"`
}

type updateCohortRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	FilterID    *string         `json:"filter_id"`
	Filter      json.RawMessage `json:"filter"`
}

// decodeInline parses an optional inline filter tree.  A nil or literal
// null message stays nil so the XOR check sees an absent filter.
func decodeInline(raw json.RawMessage) (*filter.Group, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return filter.Decode(raw)
}

func (h *CohortHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCohortRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	inline, err := decodeInline(req.Filter)
	if err != nil {
		writeAppError(w, err)
		return
	}

	c, err := h.svc.Create(r.Context(), screening.CreateInput{
		Name:         req.Name,
		Description:  req.Description,
		MasterDataID: req.MasterDataID,
		FilterID:     req.FilterID,
		Filter:       inline,
		CreatedBy:    userID(r),
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *CohortHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "cohortID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Patients pages through the cohort's frozen member list.
func (h *CohortHandler) Patients(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), chi.URLParam(r, "cohortID"))
	if err != nil {
		writeAppError(w, err)
		return
	}

	limit, offset := parsePagination(r)
	ids := c.PatientIDs
	if offset >= len(ids) {
		ids = nil
	} else {
		ids = ids[offset:]
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: ids, Total: int64(c.PatientCount)})
}

func (h *CohortHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, total, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: items, Total: total})
}

func (h *CohortHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateCohortRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}
	inline, err := decodeInline(req.Filter)
	if err != nil {
		writeAppError(w, err)
		return
	}

	c, err := h.svc.Update(r.Context(), chi.URLParam(r, "cohortID"), screening.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		FilterID:    req.FilterID,
		Filter:      inline,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CohortHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "cohortID")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Rematerialize re-runs the cohort's criteria against its dataset.
func (h *CohortHandler) Rematerialize(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Rematerialize(r.Context(), chi.URLParam(r, "cohortID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
