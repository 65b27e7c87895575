package handlers

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinforge/cohortd/internal/application/datasets"
	"github.com/clinforge/cohortd/pkg/errors"
)

// DatasetHandler serves the master-data endpoints.  Uploads arrive as
// multipart forms with the CSV in the "file" part.
type DatasetHandler struct {
	svc         datasets.Service
	maxBodySize int64
}

// NewDatasetHandler builds the handler.  maxBodySize bounds upload size in
// bytes.
func NewDatasetHandler(svc datasets.Service, maxBodySize int64) *DatasetHandler {
	if maxBodySize <= 0 {
		maxBodySize = 64 << 20
	}
	return &DatasetHandler{svc: svc, maxBodySize: maxBodySize}
}

// parseUpload reads the multipart form shared by Upload and UploadVersion.
func (h *DatasetHandler) parseUpload(r *http.Request) (datasets.UploadInput, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, h.maxBodySize)
	if err := r.ParseMultipartForm(h.maxBodySize); err != nil {
		return datasets.UploadInput{}, errors.Wrap(err, errors.ErrCodeBadRequest,
			"invalid multipart upload")
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return datasets.UploadInput{}, errors.Wrap(err, errors.ErrCodeBadRequest,
			"missing file part")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return datasets.UploadInput{}, errors.Wrap(err, errors.ErrCodeBadRequest,
			"failed to read uploaded file")
	}

	return datasets.UploadInput{
		Name:            r.FormValue("name"),
		Description:     r.FormValue("description"),
		PatientIDColumn: r.FormValue("patient_id_column"),
		CSV:             data,
		CreatedBy:       userID(r),
	}, nil
}

func (h *DatasetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	in, err := h.parseUpload(r)
	if err != nil {
		writeAppError(w, err)
		return
	}

	md, err := h.svc.Upload(r.Context(), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, md)
}

// UploadVersion adds a new version to the lineage of the dataset named in
// the path.  The form's name value is ignored; lineage follows the dataset.
func (h *DatasetHandler) UploadVersion(w http.ResponseWriter, r *http.Request) {
	prev, err := h.svc.Get(r.Context(), chi.URLParam(r, "datasetID"))
	if err != nil {
		writeAppError(w, err)
		return
	}

	in, err := h.parseUpload(r)
	if err != nil {
		writeAppError(w, err)
		return
	}
	in.Name = prev.Name

	md, err := h.svc.UploadVersion(r.Context(), in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, md)
}

func (h *DatasetHandler) Get(w http.ResponseWriter, r *http.Request) {
	md, err := h.svc.Get(r.Context(), chi.URLParam(r, "datasetID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	items, total, err := h.svc.List(r.Context(), limit, offset)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: items, Total: total})
}

// ListVersions returns every version sharing the dataset's lineage.
func (h *DatasetHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	md, err := h.svc.Get(r.Context(), chi.URLParam(r, "datasetID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	versions, err := h.svc.ListVersions(r.Context(), md.LineageID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Items: versions, Total: int64(len(versions))})
}

func (h *DatasetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "datasetID")); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Download redirects to a presigned object storage URL for the raw CSV.
func (h *DatasetHandler) Download(w http.ResponseWriter, r *http.Request) {
	url, err := h.svc.DownloadURL(r.Context(), chi.URLParam(r, "datasetID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}
