package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinforge/cohortd/internal/domain/comparison"
	"github.com/clinforge/cohortd/internal/infrastructure/database/postgres"
	"github.com/clinforge/cohortd/internal/infrastructure/monitoring/logging"
	"github.com/clinforge/cohortd/pkg/errors"
)

type postgresComparisonRepo struct {
	conn *postgres.Connection
	log  logging.Logger
}

// NewPostgresComparisonRepo builds the comparison-record repository.
func NewPostgresComparisonRepo(conn *postgres.Connection, log logging.Logger) comparison.Repository {
	return &postgresComparisonRepo{
		conn: conn,
		log:  log,
	}
}

func (r *postgresComparisonRepo) Upsert(ctx context.Context, rec *comparison.Record) error {
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode comparison result")
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, cache_key, result, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cache_key) DO UPDATE
		SET result = EXCLUDED.result, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	`, table(ctx, "cohort_comparisons"))

	_, err = r.conn.DB().ExecContext(ctx, query,
		rec.ID, rec.CacheKey, result, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return wrapDB(err, "failed to store comparison")
	}
	return nil
}

func (r *postgresComparisonRepo) GetByKey(ctx context.Context, cacheKey string) (*comparison.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, cache_key, result, created_at, expires_at
		FROM %s WHERE cache_key = $1
	`, table(ctx, "cohort_comparisons"))

	rec := &comparison.Record{}
	var result []byte
	err := r.conn.DB().QueryRowContext(ctx, query, cacheKey).Scan(
		&rec.ID, &rec.CacheKey, &result, &rec.CreatedAt, &rec.ExpiresAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New(errors.ErrCodeComparisonNotFound, "comparison not found")
		}
		return nil, wrapDB(err, "failed to scan comparison")
	}
	if err := json.Unmarshal(result, &rec.Result); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode comparison result")
	}
	return rec, nil
}

func (r *postgresComparisonRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, table(ctx, "cohort_comparisons"))
	res, err := r.conn.DB().ExecContext(ctx, query, now)
	if err != nil {
		return 0, wrapDB(err, "failed to purge expired comparisons")
	}
	rows, _ := res.RowsAffected()
	return rows, nil
}
