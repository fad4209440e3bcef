// Package billing settles the money side of game sessions: it debits
// prepaid balances, writes the paired usage and ledger rows, answers
// retries inside the business-key window with the already-settled
// session, and records post-game telemetry uploads.
package billing

import (
	"context"
	"math/rand"
	"time"

	"github.com/mrgun/server/internal/config"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/metrics"
	"github.com/mrgun/server/internal/storage"
)

// Service owns the debit path. Every balance movement happens inside a
// single storage transaction with the operator row locked.
type Service struct {
	store     storage.Store
	metrics   *metrics.Metrics // optional
	window    time.Duration
	txRetries int
	baseDelay time.Duration
	now       func() time.Time
}

// NewService constructs a billing service. Zero config values fall back
// to the documented defaults so a bare BillingConfig is usable.
func NewService(store storage.Store, cfg config.BillingConfig, m *metrics.Metrics) *Service {
	window := cfg.IdempotencyWindow.Duration
	if window <= 0 {
		window = 30 * time.Second
	}
	retries := cfg.TxMaxRetries
	if retries <= 0 {
		retries = 3
	}
	delay := cfg.TxRetryBaseDelay.Duration
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &Service{
		store:     store,
		metrics:   m,
		window:    window,
		txRetries: retries,
		baseDelay: delay,
		now:       time.Now,
	}
}

// classified passes taxonomy errors through untouched and folds storage
// faults into database_error with a generic message. The real fault is
// logged, never sent to the wire.
func (s *Service) classified(ctx context.Context, event string, err error) error {
	if _, ok := errors.AsError(err); ok {
		return err
	}
	log := logger.FromContext(ctx)
	log.Error().Err(err).Msg(event + ".storage_fault")
	return errors.New(errors.ErrCodeDatabaseError, "storage fault, please retry")
}

// sleepBackoff waits out an exponential, jittered delay before the next
// transaction attempt. Jitter keeps two colliding writers from retrying
// in lockstep.
func (s *Service) sleepBackoff(ctx context.Context, attempt int) error {
	delay := s.baseDelay << (attempt - 1)
	delay += time.Duration(rand.Int63n(int64(s.baseDelay)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
