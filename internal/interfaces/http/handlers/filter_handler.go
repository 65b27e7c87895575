package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinforge/cohortd/internal/application/filters"
)

// FilterHandler serves the saved-filter endpoints.
type FilterHandler struct {
	svc filters.Service
}

// NewFilterHandler builds the handler.
func NewFilterHandler(svc filters.Service) *FilterHandler {
	return &FilterHandler{svc: svc}
}

type createFilterRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Filter      json.RawMessage `json:"filter"`
}

type updateFilterRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Filter      json.RawMessage `json:"filter"`
}

type validateFilterRequest struct {
	Filter       json.RawMessage `json:"filter"`
	MasterDataID string          `json:"master_data_id"`
}

func (h *FilterHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createFilterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}

	f, err := h.svc.Create(r.Context(), filters.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		Tree:        req.Filter,
		CreatedBy:   userID(r),
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *FilterHandler) Get(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.Get(r.Context(), chi.URLParam(r, "filterID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *FilterHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, total, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: items, Total: total})
}

func (h *FilterHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateFilterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}

	f, err := h.svc.Update(r.Context(), chi.URLParam(r, "filterID"), filters.UpdateInput{
		Name:        req.Name,
		Description: req.Description,
		Tree:        req.Filter,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *FilterHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "filterID")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Validate checks a filter tree, optionally against a dataset schema,
// without persisting anything.
func (h *FilterHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateFilterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAppError(w, err)
		return
	}

	if err := h.svc.ValidateAgainstDataset(r.Context(), req.Filter, req.MasterDataID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}
