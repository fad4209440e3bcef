// Package dbpool owns the shared PostgreSQL connection pool. The ledger
// store and the webhook dead letter store ride the same pool instead of
// opening one connection set each.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mrgun/server/internal/config"
	"github.com/mrgun/server/internal/metrics"
)

// SharedPool manages a single shared PostgreSQL connection pool.
type SharedPool struct {
	db *sql.DB
}

// NewSharedPool opens a PostgreSQL pool with the configured limits and
// verifies connectivity before handing it out.
func NewSharedPool(connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	return &SharedPool{db: db}, nil
}

// DB returns the underlying *sql.DB for stores sharing the pool.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// StartStatsLoop publishes the pool's open connection count to the
// db_connections_active gauge every interval until ctx is cancelled.
func (p *SharedPool) StartStatsLoop(ctx context.Context, interval time.Duration, m *metrics.Metrics) {
	if m == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SetDBConnections(p.db.Stats().OpenConnections)
			}
		}
	}()
}

// Close closes the shared connection pool. sql.DB.Close is safe to call
// more than once.
func (p *SharedPool) Close() error {
	return p.db.Close()
}
