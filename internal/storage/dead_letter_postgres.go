package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresDeadLetterStore persists dead letters in the shared ledger
// database so they survive restarts.
type PostgresDeadLetterStore struct {
	db *sql.DB
}

// NewPostgresDeadLetterStore creates the store and its table over an
// existing connection pool. The pool's owner closes it; Close here is a
// no-op.
func NewPostgresDeadLetterStore(db *sql.DB) (*PostgresDeadLetterStore, error) {
	schema := `
		CREATE TABLE IF NOT EXISTS webhook_dead_letters (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			payload JSONB NOT NULL,
			headers JSONB,
			event_type TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			first_failed_at TIMESTAMP NOT NULL,
			last_failed_at TIMESTAMP NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_webhook_dead_letters_first_failed ON webhook_dead_letters(first_failed_at ASC);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create dead letter table: %w", err)
	}
	return &PostgresDeadLetterStore{db: db}, nil
}

func (s *PostgresDeadLetterStore) SaveDeadLetter(ctx context.Context, letter DeadLetter) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	if letter.ID == "" {
		letter.ID = NewDeadLetterID()
	}

	headersJSON, err := json.Marshal(letter.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	query := `
		INSERT INTO webhook_dead_letters (id, url, payload, headers, event_type, attempts,
			last_error, first_failed_at, last_failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error, last_failed_at = EXCLUDED.last_failed_at
	`
	_, err = s.db.ExecContext(ctx, query,
		letter.ID, letter.URL, letter.Payload, headersJSON, letter.EventType, letter.Attempts,
		letter.LastError, letter.FirstFailedAt.UTC(), letter.LastFailedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save dead letter: %w", err)
	}
	return nil
}

func (s *PostgresDeadLetterStore) GetDeadLetter(ctx context.Context, id string) (DeadLetter, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, url, payload, headers, event_type, attempts, last_error, first_failed_at, last_failed_at
		FROM webhook_dead_letters
		WHERE id = $1
	`
	letter, err := scanDeadLetter(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return DeadLetter{}, ErrNotFound
	}
	if err != nil {
		return DeadLetter{}, fmt.Errorf("get dead letter: %w", err)
	}
	return letter, nil
}

func (s *PostgresDeadLetterStore) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, url, payload, headers, event_type, attempts, last_error, first_failed_at, last_failed_at
		FROM webhook_dead_letters
		ORDER BY first_failed_at ASC
	`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		letter, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		letters = append(letters, letter)
	}
	return letters, rows.Err()
}

func (s *PostgresDeadLetterStore) DeleteDeadLetter(ctx context.Context, id string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM webhook_dead_letters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresDeadLetterStore) PurgeDeadLetters(ctx context.Context) (int64, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, `DELETE FROM webhook_dead_letters`)
	if err != nil {
		return 0, fmt.Errorf("purge dead letters: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the shared pool is closed by its owner.
func (s *PostgresDeadLetterStore) Close() error {
	return nil
}

func scanDeadLetter(s scanner) (DeadLetter, error) {
	var letter DeadLetter
	var headersJSON []byte
	err := s.Scan(
		&letter.ID, &letter.URL, &letter.Payload, &headersJSON, &letter.EventType,
		&letter.Attempts, &letter.LastError, &letter.FirstFailedAt, &letter.LastFailedAt,
	)
	if err != nil {
		return DeadLetter{}, err
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &letter.Headers); err != nil {
			return DeadLetter{}, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	return letter, nil
}
