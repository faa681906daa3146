package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// PGStore keeps the cache in the response_cache table created by db.Migrate.
type PGStore struct {
	db *sql.DB
}

// NewPGStore returns a store over an open pgx-backed *sql.DB.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Load returns entries in insertion order.
func (p *PGStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT prompt, response FROM response_cache ORDER BY created_at ASC, prompt ASC`)
	if err != nil {
		return nil, fmt.Errorf("query response_cache: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Prompt, &e.Response); err != nil {
			return nil, fmt.Errorf("scan response_cache: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Put upserts one entry. An existing prompt keeps its created_at so load
// order stays stable.
func (p *PGStore) Put(ctx context.Context, prompt, response string) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO response_cache (prompt, response, created_at, updated_at) VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (prompt) DO UPDATE SET response=EXCLUDED.response, updated_at=NOW()`, prompt, response)
	if err != nil {
		return fmt.Errorf("upsert response_cache: %w", err)
	}
	return nil
}
