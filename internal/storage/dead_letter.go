package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DeadLetter is an operator notification whose delivery exhausted every
// retry. It stays parked until an admin requeues or purges it.
type DeadLetter struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers"`
	EventType     string            `json:"event_type"`
	Attempts      int               `json:"attempts"`
	LastError     string            `json:"last_error"`
	FirstFailedAt time.Time         `json:"first_failed_at"`
	LastFailedAt  time.Time         `json:"last_failed_at"`
}

// DeadLetterStore persists webhooks whose delivery permanently failed.
// Implementations must be safe for concurrent use.
type DeadLetterStore interface {
	SaveDeadLetter(ctx context.Context, letter DeadLetter) error
	GetDeadLetter(ctx context.Context, id string) (DeadLetter, error)

	// ListDeadLetters returns up to limit letters, oldest failure first,
	// so requeueing drains the backlog in arrival order. limit <= 0 means
	// no limit.
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)

	DeleteDeadLetter(ctx context.Context, id string) error

	// PurgeDeadLetters deletes everything and returns the count removed.
	PurgeDeadLetters(ctx context.Context) (int64, error)

	Close() error
}

// DeadLetterConfig selects and parameterises the dead letter backend.
type DeadLetterConfig struct {
	Backend         string // "memory", "postgres" or "mongodb"
	MongoURL        string
	MongoDatabase   string
	MongoCollection string
}

// NewDeadLetterStore builds the configured backend. The postgres backend
// reuses the shared ledger pool rather than opening its own.
func NewDeadLetterStore(cfg DeadLetterConfig, sharedDB *sql.DB) (DeadLetterStore, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryDeadLetterStore(), nil
	case "postgres":
		if sharedDB == nil {
			return nil, fmt.Errorf("postgres dead letter store requires a database connection")
		}
		return NewPostgresDeadLetterStore(sharedDB)
	case "mongodb":
		if cfg.MongoURL == "" || cfg.MongoDatabase == "" {
			return nil, fmt.Errorf("mongodb dead letter store requires url and database")
		}
		collection := cfg.MongoCollection
		if collection == "" {
			collection = "webhook_dead_letters"
		}
		return NewMongoDeadLetterStore(cfg.MongoURL, cfg.MongoDatabase, collection)
	default:
		return nil, fmt.Errorf("unknown dead letter backend: %s", cfg.Backend)
	}
}

// NewDeadLetterID creates a unique identifier for dead letters. Exported
// so delivery code can assign the id up front and log it.
func NewDeadLetterID() string {
	return fmt.Sprintf("dlq_%d", time.Now().UnixNano())
}
