// Package masterdata defines versioned patient datasets: immutable CSV
// uploads described by a typed column schema, stored in object storage and
// screened by filter trees.
package masterdata

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinforge/cohortd/internal/domain/filter"
	"github.com/clinforge/cohortd/pkg/errors"
)

// MasterData is one immutable version of an uploaded dataset.  Re-uploading
// under the same name creates a new version sharing the LineageID; earlier
// versions stay readable so existing cohorts keep a stable basis.
type MasterData struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	ObjectKey       string        `json:"object_key"`
	Columns         filter.Schema `json:"columns"`
	PatientIDColumn string        `json:"patient_id_column"`
	RowCount        int64         `json:"row_count"`
	Version         int           `json:"version"`
	LineageID       string        `json:"lineage_id"`
	CreatedBy       string        `json:"created_by,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// NewMasterData constructs version 1 of a fresh dataset lineage.
func NewMasterData(name, description, objectKey, patientIDColumn, createdBy string, columns filter.Schema, rowCount int64) (*MasterData, error) {
	md := &MasterData{
		ID:              uuid.NewString(),
		Name:            name,
		Description:     description,
		ObjectKey:       objectKey,
		Columns:         columns,
		PatientIDColumn: patientIDColumn,
		RowCount:        rowCount,
		Version:         1,
		LineageID:       uuid.NewString(),
		CreatedBy:       createdBy,
		CreatedAt:       time.Now().UTC(),
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}
	return md, nil
}

// NewVersion derives the next version of this lineage from a fresh upload.
// The schema may change between versions; cohorts pin the version they were
// materialized against.
func (md *MasterData) NewVersion(objectKey, createdBy string, columns filter.Schema, rowCount int64) (*MasterData, error) {
	next := &MasterData{
		ID:              uuid.NewString(),
		Name:            md.Name,
		Description:     md.Description,
		ObjectKey:       objectKey,
		Columns:         columns,
		PatientIDColumn: md.PatientIDColumn,
		RowCount:        rowCount,
		Version:         md.Version + 1,
		LineageID:       md.LineageID,
		CreatedBy:       createdBy,
		CreatedAt:       time.Now().UTC(),
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

// Validate checks the entity invariants.
func (md *MasterData) Validate() error {
	if md.ID == "" {
		return errors.Validation("dataset ID must not be empty")
	}
	if md.Name == "" {
		return errors.Validation("dataset name must not be empty")
	}
	if len(md.Name) > 256 {
		return errors.Validation("dataset name must not exceed 256 characters")
	}
	if md.ObjectKey == "" {
		return errors.Validation("dataset object key must not be empty")
	}
	if err := md.Columns.Validate(); err != nil {
		return err
	}
	if md.PatientIDColumn == "" {
		return errors.New(errors.ErrCodeDatasetInvalidSchema, "patient ID column must be named")
	}
	if _, ok := md.Columns[md.PatientIDColumn]; !ok {
		return errors.Newf(errors.ErrCodeDatasetInvalidSchema,
			"patient ID column %q is not in the schema", md.PatientIDColumn)
	}
	if md.RowCount < 0 {
		return errors.Validation("row count must not be negative")
	}
	if md.Version < 1 {
		return errors.Validation("dataset version starts at 1")
	}
	if md.LineageID == "" {
		return errors.Validation("dataset lineage ID must not be empty")
	}
	return nil
}

// Repository defines the persistence operations for dataset metadata.  All
// operations are tenant-scoped through the schema carried in ctx.
type Repository interface {
	Create(ctx context.Context, md *MasterData) error
	GetByID(ctx context.Context, id string) (*MasterData, error)
	// GetLatestByName returns the highest version in the lineage named name.
	GetLatestByName(ctx context.Context, name string) (*MasterData, error)
	List(ctx context.Context, limit, offset int) ([]*MasterData, int64, error)
	ListVersions(ctx context.Context, lineageID string) ([]*MasterData, error)
	// Delete fails with ErrCodeDatasetInUse while any cohort references the
	// dataset.
	Delete(ctx context.Context, id string) error
}

// RowReader streams a dataset's rows out of object storage for evaluation.
type RowReader interface {
	ReadRows(ctx context.Context, md *MasterData) ([]filter.Row, error)
}
