// Package datasets implements master-data management: CSV upload, schema
// inference, versioning, and row access for screening.
package datasets

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/clinforge/cohortd/internal/domain/cohort"
	"github.com/clinforge/cohortd/internal/domain/filter"
	"github.com/clinforge/cohortd/internal/domain/masterdata"
	"github.com/clinforge/cohortd/internal/domain/tenant"
	"github.com/clinforge/cohortd/internal/infrastructure/audit/kafka"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/internal/infrastructure/storage/minio"
	"github.com/clinforge/cohortd/pkg/errors"
)

// UploadInput carries one dataset upload.
type UploadInput struct {
	Name            string
	Description     string
	PatientIDColumn string
	CSV             []byte
	CreatedBy       string
}

// Service is the dataset management surface used by handlers and the
// screening service.
type Service interface {
	Upload(ctx context.Context, in UploadInput) (*masterdata.MasterData, error)
	// UploadVersion adds a new version to the lineage named in.Name.
	UploadVersion(ctx context.Context, in UploadInput) (*masterdata.MasterData, error)
	Get(ctx context.Context, id string) (*masterdata.MasterData, error)
	List(ctx context.Context, limit, offset int) ([]*masterdata.MasterData, int64, error)
	ListVersions(ctx context.Context, lineageID string) ([]*masterdata.MasterData, error)
	Delete(ctx context.Context, id string) error
	DownloadURL(ctx context.Context, id string) (string, error)

	masterdata.RowReader
}

type service struct {
	repo       masterdata.Repository
	cohortRepo cohort.Repository
	store      minio.ObjectStore
	audit      kafka.Publisher
	log        logging.Logger
}

// NewService wires the dataset service.
func NewService(repo masterdata.Repository, cohortRepo cohort.Repository,
	store minio.ObjectStore, audit kafka.Publisher, log logging.Logger) Service {
	return &service{
		repo:       repo,
		cohortRepo: cohortRepo,
		store:      store,
		audit:      audit,
		log:        log.Named("datasets"),
	}
}

func (s *service) Upload(ctx context.Context, in UploadInput) (*masterdata.MasterData, error) {
	parsed, schema, err := s.prepare(in)
	if err != nil {
		return nil, err
	}

	key := objectKey(ctx, in.Name, 1)
	md, err := masterdata.NewMasterData(in.Name, in.Description, key,
		in.PatientIDColumn, in.CreatedBy, schema, int64(len(parsed.Records)))
	if err != nil {
		return nil, err
	}

	if err := s.store.Put(ctx, key, in.CSV, "text/csv"); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, md); err != nil {
		// Roll back the orphaned object; metadata is the source of truth.
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.log.Warn("Failed to remove orphaned dataset object",
				logging.String("object_key", key), logging.Err(delErr))
		}
		return nil, err
	}

	s.publishAudit(ctx, in.CreatedBy, kafka.ActionDatasetUploaded, md.ID,
		fmt.Sprintf("name=%s rows=%d", md.Name, md.RowCount))
	s.log.Info("Dataset uploaded",
		logging.String("id", md.ID),
		logging.String("name", md.Name),
		logging.Int64("rows", md.RowCount),
	)
	return md, nil
}

func (s *service) UploadVersion(ctx context.Context, in UploadInput) (*masterdata.MasterData, error) {
	prev, err := s.repo.GetLatestByName(ctx, in.Name)
	if err != nil {
		return nil, err
	}
	if in.PatientIDColumn == "" {
		in.PatientIDColumn = prev.PatientIDColumn
	}

	parsed, schema, err := s.prepare(in)
	if err != nil {
		return nil, err
	}

	key := objectKey(ctx, in.Name, prev.Version+1)
	md, err := prev.NewVersion(key, in.CreatedBy, schema, int64(len(parsed.Records)))
	if err != nil {
		return nil, err
	}

	if err := s.store.Put(ctx, key, in.CSV, "text/csv"); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, md); err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.log.Warn("Failed to remove orphaned dataset object",
				logging.String("object_key", key), logging.Err(delErr))
		}
		return nil, err
	}

	s.publishAudit(ctx, in.CreatedBy, kafka.ActionDatasetVersioned, md.ID,
		fmt.Sprintf("name=%s version=%d", md.Name, md.Version))
	return md, nil
}

// prepare parses and validates the upload, returning the parsed file and
// the inferred column schema.
func (s *service) prepare(in UploadInput) (*parsedCSV, filter.Schema, error) {
	if in.Name == "" {
		return nil, nil, errors.Validation("dataset name must not be empty")
	}
	if in.PatientIDColumn == "" {
		return nil, nil, errors.Validation("patient ID column must be named")
	}
	if len(in.CSV) == 0 {
		return nil, nil, errors.New(errors.ErrCodeDatasetParseFailed, "CSV file is empty")
	}

	parsed, err := parseCSV(in.CSV)
	if err != nil {
		return nil, nil, err
	}
	if err := validatePatientIDs(parsed, in.PatientIDColumn); err != nil {
		return nil, nil, err
	}
	return parsed, inferSchema(parsed), nil
}

func (s *service) Get(ctx context.Context, id string) (*masterdata.MasterData, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) List(ctx context.Context, limit, offset int) ([]*masterdata.MasterData, int64, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *service) ListVersions(ctx context.Context, lineageID string) ([]*masterdata.MasterData, error) {
	return s.repo.ListVersions(ctx, lineageID)
}

func (s *service) Delete(ctx context.Context, id string) error {
	md, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	n, err := s.cohortRepo.CountByMasterData(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return errors.Newf(errors.ErrCodeDatasetInUse,
			"dataset %s is referenced by %d cohorts", id, n)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, md.ObjectKey); err != nil {
		// Metadata is gone; the stray object is only a storage leak.
		s.log.Warn("Failed to remove dataset object",
			logging.String("object_key", md.ObjectKey), logging.Err(err))
	}

	s.publishAudit(ctx, "", kafka.ActionDatasetDeleted, id, "name="+md.Name)
	return nil
}

func (s *service) DownloadURL(ctx context.Context, id string) (string, error) {
	md, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return s.store.PresignedGetURL(ctx, md.ObjectKey, 0)
}

// ReadRows loads the dataset file from object storage and decodes it into
// typed rows for evaluation.
func (s *service) ReadRows(ctx context.Context, md *masterdata.MasterData) ([]filter.Row, error) {
	data, err := s.store.Get(ctx, md.ObjectKey)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.Newf(errors.ErrCodeDatasetUnreadable,
				"dataset file %s missing from object storage", md.ObjectKey)
		}
		return nil, err
	}
	parsed, err := parseCSV(data)
	if err != nil {
		return nil, err
	}
	return buildRows(parsed, md.Columns), nil
}

// PatientID renders the patient identifier of a row in canonical string
// form, matching how the evaluator compares values.
func PatientID(row filter.Row, column string) (string, bool) {
	v, ok := row[column]
	if !ok || v == nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	}
	return fmt.Sprintf("%v", v), true
}

func (s *service) publishAudit(ctx context.Context, actor string, action kafka.Action, entityID, detail string) {
	tenantID := ""
	if info, ok := tenant.FromContext(ctx); ok && info != nil {
		tenantID = info.ID
	}
	ev := kafka.NewEvent(tenantID, actor, action, kafka.EntityDataset, entityID, detail)

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_ = s.audit.Publish(pubCtx, ev)
}

// objectKey derives the storage key for one dataset version, prefixed by
// tenant so a shared bucket stays partitioned.
func objectKey(ctx context.Context, name string, version int) string {
	return fmt.Sprintf("%s/datasets/%s/v%d.csv", tenant.SchemaFromContext(ctx), name, version)
}
