package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteKV is a durable KV backed by SQLite.
type SQLiteKV struct {
	db *sql.DB
}

func NewSQLiteKV(db *sql.DB) (*SQLiteKV, error) {
	s := &SQLiteKV{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteKV) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS records (
		kind  TEXT NOT NULL,
		id    TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteKV) Get(ctx context.Context, key Key, dest any) (bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM records WHERE kind = ? AND id = ?`,
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

func (s *SQLiteKV) Set(ctx context.Context, key Key, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encode %s/%s: %w", key.Kind, key.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (kind, id, value) VALUES (?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET value = excluded.value`,
		key.Kind, key.ID, raw,
	)
	if err != nil {
		return fmt.Errorf("store: set %s/%s: %w", key.Kind, key.ID, err)
	}
	return nil
}

func (s *SQLiteKV) Has(ctx context.Context, key Key) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE kind = ? AND id = ?`,
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
