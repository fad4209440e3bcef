package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	_ "github.com/lib/pq"
	"github.com/mrgun/server/internal/config"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db     *sql.DB
	ownsDB bool // Track if we created the DB connection (for Close())
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		// NOTE: db.Close() error is intentionally ignored during initialization cleanup.
		// If connection fails, the Close() error is not actionable and would only obscure
		// the original connection failure. The primary error is returned to the caller.
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	// Apply connection pool settings from config
	config.ApplyPostgresPoolSettings(db, poolConfig)

	store := &PostgresStore{
		db:     db,
		ownsDB: true,
	}

	// Create tables if they don't exist
	if err := store.createPostgresTables(); err != nil {
		// Same rationale: Close() error during initialization cleanup is not actionable
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// NewPostgresStoreWithDB creates a PostgreSQL-backed store using an existing connection pool.
// This allows sharing a single connection pool across multiple stores/repositories.
func NewPostgresStoreWithDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{
		db:     db,
		ownsDB: false,
	}

	if err := store.createPostgresTables(); err != nil {
		return nil, err
	}

	return store, nil
}

// createPostgresTables creates the necessary tables if they don't exist.
// Money columns hold fen as BIGINT; the operators CHECK keeps a committed
// balance from ever going negative regardless of application bugs.
func (s *PostgresStore) createPostgresTables() error {
	schema := `
		CREATE TABLE IF NOT EXISTS operators (
			operator_id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			contact_person TEXT NOT NULL DEFAULT '',
			contact_phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			total_recharged BIGINT NOT NULL DEFAULT 0,
			total_consumed BIGINT NOT NULL DEFAULT 0,
			total_refunded BIGINT NOT NULL DEFAULT 0,
			tier TEXT NOT NULL DEFAULT 'regular',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_locked BOOLEAN NOT NULL DEFAULT FALSE,
			lock_reason TEXT NOT NULL DEFAULT '',
			locked_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS admins (
			admin_id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS applications (
			application_id TEXT PRIMARY KEY,
			app_code TEXT NOT NULL UNIQUE,
			app_name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			unit_price BIGINT NOT NULL CHECK (unit_price >= 0),
			min_players INTEGER NOT NULL,
			max_players INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sites (
			site_id TEXT PRIMARY KEY,
			operator_id TEXT NOT NULL,
			name TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			contact_person TEXT NOT NULL DEFAULT '',
			contact_phone TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			deleted_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS app_authorizations (
			operator_id TEXT NOT NULL,
			application_id TEXT NOT NULL,
			granted_by TEXT NOT NULL DEFAULT '',
			granted_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP,
			PRIMARY KEY (operator_id, application_id)
		);

		CREATE TABLE IF NOT EXISTS app_requests (
			request_id TEXT PRIMARY KEY,
			operator_id TEXT NOT NULL,
			application_id TEXT NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			reviewer_id TEXT NOT NULL DEFAULT '',
			admin_note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			reviewed_at TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS usage_records (
			usage_record_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL UNIQUE,
			operator_id TEXT NOT NULL,
			application_id TEXT NOT NULL,
			site_id TEXT NOT NULL,
			player_count INTEGER NOT NULL,
			unit_price BIGINT NOT NULL,
			total_cost BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			authorized_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS game_sessions (
			session_id TEXT PRIMARY KEY,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP,
			process_info TEXT NOT NULL DEFAULT '',
			uploaded_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS headset_game_records (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			device_name TEXT NOT NULL DEFAULT '',
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP,
			process_info TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS headset_devices (
			device_id TEXT NOT NULL,
			operator_id TEXT NOT NULL,
			device_name TEXT NOT NULL DEFAULT '',
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			PRIMARY KEY (operator_id, device_id)
		);

		CREATE TABLE IF NOT EXISTS transactions (
			transaction_id TEXT PRIMARY KEY,
			operator_id TEXT NOT NULL,
			type TEXT NOT NULL,
			amount BIGINT NOT NULL,
			balance_before BIGINT NOT NULL,
			balance_after BIGINT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			related_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS recharge_orders (
			order_id TEXT PRIMARY KEY,
			operator_id TEXT NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			method TEXT NOT NULL,
			status TEXT NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			paid_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS refunds (
			refund_id TEXT PRIMARY KEY,
			operator_id TEXT NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			reviewer_id TEXT NOT NULL DEFAULT '',
			admin_note TEXT NOT NULL DEFAULT '',
			reject_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			reviewed_at TIMESTAMP,
			completed_at TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS invoices (
			invoice_id TEXT PRIMARY KEY,
			operator_id TEXT NOT NULL,
			invoice_type TEXT NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			title TEXT NOT NULL,
			tax_number TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			bank_name TEXT NOT NULL DEFAULT '',
			bank_account TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			invoice_number TEXT NOT NULL DEFAULT '',
			invoice_url TEXT NOT NULL DEFAULT '',
			reviewer_id TEXT NOT NULL DEFAULT '',
			admin_note TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			reviewed_at TIMESTAMP,
			issued_at TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS webhook_queue (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			payload JSONB NOT NULL,
			headers JSONB,
			event_type TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			last_attempt_at TIMESTAMP,
			next_attempt_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_operators_balance ON operators(balance);
		CREATE INDEX IF NOT EXISTS idx_webhook_queue_due ON webhook_queue(status, next_attempt_at);
		CREATE INDEX IF NOT EXISTS idx_sites_operator ON sites(operator_id);
		CREATE INDEX IF NOT EXISTS idx_app_requests_operator ON app_requests(operator_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_app_requests_status ON app_requests(status, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_usage_records_operator ON usage_records(operator_id, authorized_at DESC);
		CREATE INDEX IF NOT EXISTS idx_usage_records_business_key ON usage_records(operator_id, application_id, site_id, player_count, authorized_at DESC);
		CREATE INDEX IF NOT EXISTS idx_headset_game_records_session ON headset_game_records(session_id);
		CREATE INDEX IF NOT EXISTS idx_transactions_operator ON transactions(operator_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_related ON transactions(related_id, type) WHERE related_id <> '';
		CREATE INDEX IF NOT EXISTS idx_recharge_orders_operator ON recharge_orders(operator_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_refunds_operator ON refunds(operator_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_refunds_status ON refunds(status, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_invoices_operator ON invoices(operator_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status, created_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create postgres tables: %w", err)
	}
	return nil
}

// WithTx runs fn inside a REPEATABLE READ transaction. When the context
// already carries a transaction the call joins it; only the outermost
// WithTx commits or rolls back.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if tx, ok := txFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	tx := &pgTx{tx: sqlTx}
	if err := fn(contextWithTx(ctx, tx), tx); err != nil {
		// Rollback error is secondary; the fn error carries the cause.
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close closes the database connection if this store owns it.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// pgTx exposes the Tx surface over one open *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

// IsRetryableTxError reports whether err is a serialisation (40001) or
// deadlock (40P01) failure. The whole unit of work can be retried; nothing
// from the failed attempt was committed.
func IsRetryableTxError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == "40001" || pqErr.Code == "40P01"
}

// isUniqueViolation reports whether err is a unique constraint violation
// (23505). Callers map it to the entity-specific sentinel.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers.
type scanner interface {
	Scan(dest ...interface{}) error
}

// nullTime converts a *time.Time to sql.NullTime for writes.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// nullTimePtr converts a scanned sql.NullTime back to *time.Time.
func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
