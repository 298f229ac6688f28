package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lucasnoah/campaignflow/internal/gateway"
)

// Put writes doc under key, bumping its version.
func (d *DB) Put(ctx context.Context, key string, doc []byte) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO documents (key, body) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body, version = documents.version + 1, updated_at = datetime('now')`,
		key, doc,
	)
	if err != nil {
		return fmt.Errorf("put document %s: %w", key, err)
	}
	return nil
}

// Get reads the document stored under key.
func (d *DB) Get(ctx context.Context, key string) ([]byte, error) {
	body, _, err := d.GetVersioned(ctx, key)
	return body, err
}

// Exists reports whether a document is stored under key.
func (d *DB) Exists(ctx context.Context, key string) (bool, error) {
	var count int
	err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE key = ?`, key).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("document exists %s: %w", key, err)
	}
	return count > 0, nil
}

// GetVersioned reads a document along with its current version.
func (d *DB) GetVersioned(ctx context.Context, key string) ([]byte, int64, error) {
	var body []byte
	var version int64
	err := d.conn.QueryRowContext(ctx, `SELECT body, version FROM documents WHERE key = ?`, key).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, gateway.ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get document %s: %w", key, err)
	}
	return body, version, nil
}

// PutIfVersion writes doc only if the stored version equals expected.
func (d *DB) PutIfVersion(ctx context.Context, key string, doc []byte, expected int64) (int64, error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM documents WHERE key = ?`, key).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("read version %s: %w", key, err)
	}
	if current != expected {
		return current, gateway.ErrConflict
	}

	if current == 0 {
		_, err = tx.ExecContext(ctx, `INSERT INTO documents (key, body, version) VALUES (?, ?, 1)`, key, doc)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE documents SET body = ?, version = ?, updated_at = datetime('now') WHERE key = ?`,
			doc, current+1, key)
	}
	if err != nil {
		return 0, fmt.Errorf("write document %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit document %s: %w", key, err)
	}
	return current + 1, nil
}

// List returns all keys starting with prefix, sorted.
func (d *DB) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT key FROM documents WHERE substr(key, 1, length(?)) = ? ORDER BY key`,
		prefix, prefix,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan document key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
