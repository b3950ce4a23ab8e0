package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps inbox entries in the inbox table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over pool
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	query := `
		SELECT idempotency_key, handler_name, status, payload, result, created_at, updated_at, expires_at
		FROM inbox
		WHERE idempotency_key = $1
	`

	entry := &Entry{}
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&entry.IdempotencyKey, &entry.HandlerName, &entry.Status,
		&entry.Payload, &entry.Result, &entry.CreatedAt, &entry.UpdatedAt, &entry.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *PostgresStore) Start(ctx context.Context, key, handlerName string, payload json.RawMessage, expiresAt, now time.Time) error {
	query := `
		INSERT INTO inbox (idempotency_key, handler_name, status, payload, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = $3, updated_at = $5
		WHERE inbox.status = 'RECOVERABLE'
		RETURNING idempotency_key
	`

	var returned string
	err := s.pool.QueryRow(ctx, query, key, handlerName, StatusStarted, payload, now, expiresAt).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		// conflict on a key that is not recoverable
		return ErrDuplicateMessage
	}
	return err
}

func (s *PostgresStore) MarkStatus(ctx context.Context, key string, status Status, result json.RawMessage, now time.Time) error {
	query := `
		UPDATE inbox
		SET status = $1, result = COALESCE($2, result), updated_at = $3
		WHERE idempotency_key = $4
	`

	_, err := s.pool.Exec(ctx, query, status, result, now, key)
	return err
}

func (s *PostgresStore) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM inbox WHERE expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) RecoverStale(ctx context.Context, olderThan, now time.Time) (int64, error) {
	query := `
		UPDATE inbox
		SET status = 'RECOVERABLE', updated_at = $2
		WHERE status = 'STARTED'
		  AND updated_at < $1
	`

	tag, err := s.pool.Exec(ctx, query, olderThan, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'STARTED'),
			COUNT(*) FILTER (WHERE status = 'FINISHED'),
			COUNT(*) FILTER (WHERE status = 'RECOVERABLE'),
			COUNT(*) FILTER (WHERE status = 'FAILED')
		FROM inbox
	`

	stats := &Stats{}
	err := s.pool.QueryRow(ctx, query).Scan(
		&stats.TotalEntries, &stats.Started, &stats.Finished,
		&stats.Recoverable, &stats.Failed,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
