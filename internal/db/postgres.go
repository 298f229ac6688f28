package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucasnoah/campaignflow/internal/gateway"
)

// PGStore is the Postgres-backed gateway and event log.
type PGStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS documents (
    key        TEXT PRIMARY KEY,
    body       BYTEA NOT NULL,
    version    BIGINT NOT NULL DEFAULT 1,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_events (
    id         BIGSERIAL PRIMARY KEY,
    campaign   TEXT NOT NULL,
    event      TEXT NOT NULL,
    stage      TEXT,
    detail     TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_pipeline_campaign ON pipeline_events(campaign, created_at DESC);
`

// Migrate applies the schema. It is idempotent.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Reset drops all tables and re-applies the schema.
func (s *PGStore) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS pipeline_events, documents`); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return s.Migrate(ctx)
}

func (s *PGStore) Put(ctx context.Context, key string, doc []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (key, body) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body, version = documents.version + 1, updated_at = now()`,
		key, doc,
	)
	if err != nil {
		return fmt.Errorf("put document %s: %w", key, err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, key string) ([]byte, error) {
	body, _, err := s.GetVersioned(ctx, key)
	return body, err
}

func (s *PGStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("document exists %s: %w", key, err)
	}
	return exists, nil
}

func (s *PGStore) GetVersioned(ctx context.Context, key string) ([]byte, int64, error) {
	var body []byte
	var version int64
	err := s.pool.QueryRow(ctx, `SELECT body, version FROM documents WHERE key = $1`, key).Scan(&body, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, gateway.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get document %s: %w", key, err)
	}
	return body, version, nil
}

func (s *PGStore) PutIfVersion(ctx context.Context, key string, doc []byte, expected int64) (int64, error) {
	var sql string
	args := []any{key, doc}
	if expected == 0 {
		sql = `INSERT INTO documents (key, body, version) VALUES ($1, $2, 1) ON CONFLICT (key) DO NOTHING`
	} else {
		sql = `UPDATE documents SET body = $2, version = version + 1, updated_at = now() WHERE key = $1 AND version = $3`
		args = append(args, expected)
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("write document %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		_, current, err := s.GetVersioned(ctx, key)
		if err != nil && !errors.Is(err, gateway.ErrNotFound) {
			return 0, err
		}
		return current, gateway.ErrConflict
	}
	return expected + 1, nil
}

func (s *PGStore) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM documents WHERE left(key, length($1)) = $1 ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan document keys: %w", err)
	}
	return keys, nil
}

// LogPipelineEvent inserts a pipeline event.
func (s *PGStore) LogPipelineEvent(ctx context.Context, campaign, event, stage, detail string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_events (campaign, event, stage, detail) VALUES ($1, $2, $3, $4)`,
		campaign, event, stage, detail,
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// GetPipelineHistory returns all pipeline events for a campaign, newest first.
func (s *PGStore) GetPipelineHistory(ctx context.Context, campaign string) ([]PipelineEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, campaign, event, coalesce(stage, ''), coalesce(detail, ''), created_at::text
		 FROM pipeline_events WHERE campaign = $1 ORDER BY created_at DESC, id DESC`,
		campaign,
	)
	if err != nil {
		return nil, fmt.Errorf("get pipeline history: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		var id int64
		if err := rows.Scan(&id, &e.Campaign, &e.Event, &e.Stage, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		e.ID = int(id)
		events = append(events, e)
	}
	return events, rows.Err()
}
