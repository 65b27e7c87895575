// Package repositories implements the domain repository interfaces on
// PostgreSQL.  Every query is tenant-scoped: table names are qualified with
// the schema carried in the request context.
package repositories

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinforge/cohortd/internal/domain/tenant"
	"github.com/clinforge/cohortd/pkg/errors"
)

// queryExecutor abstracts sql.DB and sql.Tx.
type queryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// table qualifies a table name with the tenant schema from ctx.  The schema
// name comes from tenant.SchemaFromContext, whose IDs are validated at the
// HTTP boundary, so interpolation is safe.
func table(ctx context.Context, name string) string {
	return tenant.SchemaFromContext(ctx) + "." + name
}

// Postgres error codes surfaced to domain errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// pgErrCode extracts the SQLSTATE from a pgx driver error, or "" for other
// errors.
func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// wrapDB converts a driver error into the service's database error unless it
// already carries a domain code.
func wrapDB(err error, msg string) error {
	return errors.Wrap(err, errors.ErrCodeDatabaseError, msg)
}
