package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresKV is a durable KV backed by Postgres. The caller opens the
// connection (driver: lib/pq) and owns its lifecycle.
type PostgresKV struct {
	db *sql.DB
}

func NewPostgresKV(db *sql.DB) (*PostgresKV, error) {
	s := &PostgresKV{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresKV) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS records (
		kind  TEXT NOT NULL,
		id    TEXT NOT NULL,
		value JSONB NOT NULL,
		PRIMARY KEY (kind, id)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresKV) Get(ctx context.Context, key Key, dest any) (bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM records WHERE kind = $1 AND id = $2`,
		key.Kind, key.ID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: get %s/%s: %w", key.Kind, key.ID, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return true, fmt.Errorf("store: decode %s/%s: %w", key.Kind, key.ID, err)
	}
	return true, nil
}

func (s *PostgresKV) Set(ctx context.Context, key Key, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", key.Kind, key.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (kind, id, value) VALUES ($1, $2, $3)
		ON CONFLICT (kind, id) DO UPDATE SET value = EXCLUDED.value`,
		key.Kind, key.ID, raw,
	)
	if err != nil {
		return fmt.Errorf("store: set %s/%s: %w", key.Kind, key.ID, err)
	}
	return nil
}

func (s *PostgresKV) Has(ctx context.Context, key Key) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE kind = $1 AND id = $2`,
		key.Kind, key.ID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: has %s/%s: %w", key.Kind, key.ID, err)
	}
	return true, nil
}
