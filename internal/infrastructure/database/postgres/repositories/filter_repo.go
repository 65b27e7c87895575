package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/clinforge/cohortd/internal/domain/filter"
	"github.com/clinforge/cohortd/internal/infrastructure/database/postgres"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/pkg/errors"
)

type postgresFilterRepo struct {
	conn *postgres.Connection
	tx   *sql.Tx
	log  logging.Logger
}

// NewPostgresFilterRepo builds the saved-filter repository.
func NewPostgresFilterRepo(conn *postgres.Connection, log logging.Logger) filter.Repository {
	return &postgresFilterRepo{
		conn: conn,
		log:  log,
	}
}

func (r *postgresFilterRepo) executor() queryExecutor {
	if r.tx != nil {
		return r.tx
	}
	return r.conn.DB()
}

func (r *postgresFilterRepo) Create(ctx context.Context, f *filter.SavedFilter) error {
	tree, err := filter.Encode(f.Root)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, description, filter, usage_count, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, table(ctx, "saved_filters"))

	_, err = r.executor().ExecContext(ctx, query,
		f.ID, f.Name, f.Description, tree, f.UsageCount, f.CreatedBy, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		if pgErrCode(err) == pgUniqueViolation {
			return errors.Newf(errors.ErrCodeFilterNameTaken, "filter name %q already in use", f.Name)
		}
		return wrapDB(err, "failed to create saved filter")
	}
	return nil
}

func (r *postgresFilterRepo) GetByID(ctx context.Context, id string) (*filter.SavedFilter, error) {
	query := fmt.Sprintf(`
		SELECT id, name, description, filter, usage_count, created_by, created_at, updated_at
		FROM %s WHERE id = $1
	`, table(ctx, "saved_filters"))
	return scanSavedFilter(r.executor().QueryRowContext(ctx, query, id))
}

func (r *postgresFilterRepo) List(ctx context.Context, limit, offset int) ([]*filter.SavedFilter, int64, error) {
	tbl := table(ctx, "saved_filters")

	var total int64
	if err := r.executor().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tbl).Scan(&total); err != nil {
		return nil, 0, wrapDB(err, "failed to count saved filters")
	}

	query := fmt.Sprintf(`
		SELECT id, name, description, filter, usage_count, created_by, created_at, updated_at
		FROM %s ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, tbl)
	rows, err := r.executor().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, wrapDB(err, "failed to list saved filters")
	}
	defer rows.Close()

	var filters []*filter.SavedFilter
	for rows.Next() {
		f, err := scanSavedFilter(rows)
		if err != nil {
			return nil, 0, err
		}
		filters = append(filters, f)
	}
	return filters, total, rows.Err()
}

func (r *postgresFilterRepo) Update(ctx context.Context, f *filter.SavedFilter) error {
	tree, err := filter.Encode(f.Root)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET name = $1, description = $2, filter = $3, updated_at = NOW()
		WHERE id = $4
	`, table(ctx, "saved_filters"))

	res, err := r.executor().ExecContext(ctx, query, f.Name, f.Description, tree, f.ID)
	if err != nil {
		if pgErrCode(err) == pgUniqueViolation {
			return errors.Newf(errors.ErrCodeFilterNameTaken, "filter name %q already in use", f.Name)
		}
		return wrapDB(err, "failed to update saved filter")
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errors.Newf(errors.ErrCodeFilterNotFound, "filter %s not found", f.ID)
	}
	return nil
}

func (r *postgresFilterRepo) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table(ctx, "saved_filters"))
	res, err := r.executor().ExecContext(ctx, query, id)
	if err != nil {
		return wrapDB(err, "failed to delete saved filter")
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return errors.Newf(errors.ErrCodeFilterNotFound, "filter %s not found", id)
	}
	return nil
}

func scanSavedFilter(row scanner) (*filter.SavedFilter, error) {
	f := &filter.SavedFilter{}
	var tree []byte
	err := row.Scan(
		&f.ID, &f.Name, &f.Description, &tree, &f.UsageCount,
		&f.CreatedBy, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(errors.ErrCodeFilterNotFound, "filter not found")
		}
		return nil, wrapDB(err, "failed to scan saved filter")
	}
	root, err := filter.Decode(tree)
	if err != nil {
		return nil, err
	}
	f.Root = root
	return f, nil
}
