package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinforge/cohortd/internal/domain/cohort"
	"github.com/clinforge/cohortd/internal/domain/filter"
	"github.com/clinforge/cohortd/internal/infrastructure/database/postgres"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/pkg/errors"
)

type postgresCohortRepo struct {
	conn *postgres.Connection
	tx   *sql.Tx
	log  logging.Logger
}

// NewPostgresCohortRepo builds the cohort repository.
func NewPostgresCohortRepo(conn *postgres.Connection, log logging.Logger) cohort.Repository {
	return &postgresCohortRepo{
		conn: conn,
		log:  log,
	}
}

func (r *postgresCohortRepo) executor() queryExecutor {
	if r.tx != nil {
		return r.tx
	}
	return r.conn.DB()
}

const cohortColumns = `id, name, description, master_data_id, filter_id, filter, patient_ids, patient_count, created_by, created_at, updated_at`

func (r *postgresCohortRepo) Create(ctx context.Context, c *cohort.Cohort) error {
	inline, members, err := encodeCohortPayload(c)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, table(ctx, "cohorts"), cohortColumns)

	_, err = r.executor().ExecContext(ctx, query,
		c.ID, c.Name, c.Description, c.MasterDataID, c.FilterID, inline, members,
		c.PatientCount, c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		switch pgErrCode(err) {
		case pgUniqueViolation:
			return errors.Newf(errors.ErrCodeConflict, "cohort name %q already in use", c.Name)
		case pgForeignKeyViolation:
			return errors.New(errors.ErrCodeNotFound, "referenced dataset or filter does not exist")
		}
		return wrapDB(err, "failed to create cohort")
	}
	return nil
}

func (r *postgresCohortRepo) GetByID(ctx context.Context, id string) (*cohort.Cohort, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, cohortColumns, table(ctx, "cohorts"))
	return scanCohort(r.executor().QueryRowContext(ctx, query, id))
}

func (r *postgresCohortRepo) GetManyByIDs(ctx context.Context, ids []string) ([]*cohort.Cohort, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id IN (%s)`,
		cohortColumns, table(ctx, "cohorts"), strings.Join(placeholders, ", "))

	rows, err := r.executor().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDB(err, "failed to load cohorts")
	}
	defer rows.Close()

	var cohorts []*cohort.Cohort
	for rows.Next() {
		c, err := scanCohort(rows)
		if err != nil {
			return nil, err
		}
		cohorts = append(cohorts, c)
	}
	return cohorts, rows.Err()
}

func (r *postgresCohortRepo) List(ctx context.Context, limit, offset int) ([]*cohort.Cohort, int64, error) {
	tbl := table(ctx, "cohorts")

	var total int64
	if err := r.executor().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tbl).Scan(&total); err != nil {
		return nil, 0, wrapDB(err, "failed to count cohorts")
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, cohortColumns, tbl)
	rows, err := r.executor().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, wrapDB(err, "failed to list cohorts")
	}
	defer rows.Close()

	var cohorts []*cohort.Cohort
	for rows.Next() {
		c, err := scanCohort(rows)
		if err != nil {
			return nil, 0, err
		}
		cohorts = append(cohorts, c)
	}
	return cohorts, total, rows.Err()
}

func (r *postgresCohortRepo) Update(ctx context.Context, c *cohort.Cohort) error {
	inline, members, err := encodeCohortPayload(c)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET name = $1, description = $2, filter_id = $3, filter = $4,
		    patient_ids = $5, patient_count = $6, updated_at = NOW()
		WHERE id = $7
	`, table(ctx, "cohorts"))

	res, err := r.executor().ExecContext(ctx, query,
		c.Name, c.Description, c.FilterID, inline, members, c.PatientCount, c.ID,
	)
	if err != nil {
		return wrapDB(err, "failed to update cohort")
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errors.Newf(errors.ErrCodeCohortNotFound, "cohort %s not found", c.ID)
	}
	return nil
}

func (r *postgresCohortRepo) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table(ctx, "cohorts"))
	res, err := r.executor().ExecContext(ctx, query, id)
	if err != nil {
		return wrapDB(err, "failed to delete cohort")
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errors.Newf(errors.ErrCodeCohortNotFound, "cohort %s not found", id)
	}
	return nil
}

func (r *postgresCohortRepo) CountByMasterData(ctx context.Context, masterDataID string) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE master_data_id = $1`, table(ctx, "cohorts"))
	var n int64
	if err := r.executor().QueryRowContext(ctx, query, masterDataID).Scan(&n); err != nil {
		return 0, wrapDB(err, "failed to count cohorts for dataset")
	}
	return n, nil
}

// AdjustFilterUsage moves usage_count by delta, floored at zero so a
// repeated decrement can never drive the counter negative.
func (r *postgresCohortRepo) AdjustFilterUsage(ctx context.Context, filterID string, delta int) error {
	query := fmt.Sprintf(`
		UPDATE %s SET usage_count = GREATEST(usage_count + $1, 0), updated_at = NOW()
		WHERE id = $2
	`, table(ctx, "saved_filters"))

	res, err := r.executor().ExecContext(ctx, query, delta, filterID)
	if err != nil {
		return wrapDB(err, "failed to adjust filter usage count")
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errors.Newf(errors.ErrCodeFilterNotFound, "filter %s not found", filterID)
	}
	return nil
}

func (r *postgresCohortRepo) WithTx(ctx context.Context, fn func(ctx context.Context, repo cohort.Repository) error) error {
	if r.tx != nil {
		// Already transactional; nest in the same transaction.
		return fn(ctx, r)
	}
	tx, err := r.conn.DB().BeginTx(ctx, nil)
	if err != nil {
		return wrapDB(err, "failed to begin transaction")
	}
	txRepo := &postgresCohortRepo{conn: r.conn, tx: tx, log: r.log}
	if err := fn(ctx, txRepo); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.log.Error("Failed to roll back cohort transaction", logging.Err(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapDB(err, "failed to commit transaction")
	}
	return nil
}

func encodeCohortPayload(c *cohort.Cohort) (inline, members []byte, err error) {
	if c.Filter != nil {
		inline, err = filter.Encode(c.Filter)
		if err != nil {
			return nil, nil, err
		}
	}
	ids := c.PatientIDs
	if ids == nil {
		ids = []string{}
	}
	members, err = json.Marshal(ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode patient IDs")
	}
	return inline, members, nil
}

func scanCohort(row scanner) (*cohort.Cohort, error) {
	c := &cohort.Cohort{}
	var inline, members []byte
	err := row.Scan(
		&c.ID, &c.Name, &c.Description, &c.MasterDataID, &c.FilterID, &inline,
		&members, &c.PatientCount, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(errors.ErrCodeCohortNotFound, "cohort not found")
		}
		return nil, wrapDB(err, "failed to scan cohort")
	}
	if len(inline) > 0 {
		root := &filter.Group{}
		if err := json.Unmarshal(inline, root); err != nil {
			return nil, err
		}
		c.Filter = root
	}
	if len(members) > 0 {
		if err := json.Unmarshal(members, &c.PatientIDs); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode patient IDs")
		}
	}
	return c, nil
}
