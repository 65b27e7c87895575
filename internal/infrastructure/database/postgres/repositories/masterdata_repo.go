package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/clinforge/cohortd/internal/domain/masterdata"
	"github.com/clinforge/cohortd/internal/infrastructure/database/postgres"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/pkg/errors"
)

type postgresMasterDataRepo struct {
	conn *postgres.Connection
	log  logging.Logger
}

// NewPostgresMasterDataRepo builds the dataset-metadata repository.
func NewPostgresMasterDataRepo(conn *postgres.Connection, log logging.Logger) masterdata.Repository {
	return &postgresMasterDataRepo{
		conn: conn,
		log:  log,
	}
}

const masterDataColumns = `id, name, description, object_key, columns, patient_id_column, row_count, version, lineage_id, created_by, created_at`

func (r *postgresMasterDataRepo) Create(ctx context.Context, md *masterdata.MasterData) error {
	cols, err := json.Marshal(md.Columns)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode column schema")
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, table(ctx, "master_data"), masterDataColumns)

	_, err = r.conn.DB().ExecContext(ctx, query,
		md.ID, md.Name, md.Description, md.ObjectKey, cols, md.PatientIDColumn,
		md.RowCount, md.Version, md.LineageID, md.CreatedBy, md.CreatedAt,
	)
	if err != nil {
		if pgErrCode(err) == pgUniqueViolation {
			return errors.Newf(errors.ErrCodeConflict,
				"dataset %q already has version %d", md.Name, md.Version)
		}
		return wrapDB(err, "failed to create dataset")
	}
	return nil
}

func (r *postgresMasterDataRepo) GetByID(ctx context.Context, id string) (*masterdata.MasterData, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`,
		masterDataColumns, table(ctx, "master_data"))
	return scanMasterData(r.conn.DB().QueryRowContext(ctx, query, id))
}

func (r *postgresMasterDataRepo) GetLatestByName(ctx context.Context, name string) (*masterdata.MasterData, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE name = $1 ORDER BY version DESC LIMIT 1
	`, masterDataColumns, table(ctx, "master_data"))
	return scanMasterData(r.conn.DB().QueryRowContext(ctx, query, name))
}

func (r *postgresMasterDataRepo) List(ctx context.Context, limit, offset int) ([]*masterdata.MasterData, int64, error) {
	tbl := table(ctx, "master_data")

	// One row per lineage: only the latest version shows up in listings.
	var total int64
	countQuery := fmt.Sprintf(`SELECT COUNT(DISTINCT lineage_id) FROM %s`, tbl)
	if err := r.conn.DB().QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, wrapDB(err, "failed to count datasets")
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT ON (lineage_id) %s
		FROM %s ORDER BY lineage_id, version DESC
		LIMIT $1 OFFSET $2
	`, masterDataColumns, tbl)
	rows, err := r.conn.DB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, wrapDB(err, "failed to list datasets")
	}
	defer rows.Close()

	var datasets []*masterdata.MasterData
	for rows.Next() {
		md, err := scanMasterData(rows)
		if err != nil {
			return nil, 0, err
		}
		datasets = append(datasets, md)
	}
	return datasets, total, rows.Err()
}

func (r *postgresMasterDataRepo) ListVersions(ctx context.Context, lineageID string) ([]*masterdata.MasterData, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s WHERE lineage_id = $1 ORDER BY version DESC
	`, masterDataColumns, table(ctx, "master_data"))
	rows, err := r.conn.DB().QueryContext(ctx, query, lineageID)
	if err != nil {
		return nil, wrapDB(err, "failed to list dataset versions")
	}
	defer rows.Close()

	var versions []*masterdata.MasterData
	for rows.Next() {
		md, err := scanMasterData(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, md)
	}
	return versions, rows.Err()
}

func (r *postgresMasterDataRepo) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table(ctx, "master_data"))
	res, err := r.conn.DB().ExecContext(ctx, query, id)
	if err != nil {
		// The cohorts FK is ON DELETE RESTRICT.
		if pgErrCode(err) == pgForeignKeyViolation {
			return errors.Newf(errors.ErrCodeDatasetInUse,
				"dataset %s is referenced by existing cohorts", id)
		}
		return wrapDB(err, "failed to delete dataset")
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errors.Newf(errors.ErrCodeDatasetNotFound, "dataset %s not found", id)
	}
	return nil
}

func scanMasterData(row scanner) (*masterdata.MasterData, error) {
	md := &masterdata.MasterData{}
	var cols []byte
	err := row.Scan(
		&md.ID, &md.Name, &md.Description, &md.ObjectKey, &cols, &md.PatientIDColumn,
		&md.RowCount, &md.Version, &md.LineageID, &md.CreatedBy, &md.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(errors.ErrCodeDatasetNotFound, "dataset not found")
		}
		return nil, wrapDB(err, "failed to scan dataset")
	}
	if err := json.Unmarshal(cols, &md.Columns); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode column schema")
	}
	return md, nil
}
