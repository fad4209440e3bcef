// Package backoffice implements everything outside the live game
// path: operator accounts and login, site management, the application
// catalogue and its authorisation requests, recharge orders, refund
// and invoice review, and manual balance adjustments. Writes that move
// money follow the billing discipline: one storage transaction, the
// operator row locked, a ledger row for every movement.
package backoffice

import (
	"context"
	"math/rand"
	"time"

	"github.com/mrgun/server/internal/callbacks"
	"github.com/mrgun/server/internal/config"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/metrics"
	"github.com/mrgun/server/internal/storage"
)

// Service owns the back-office write paths. Webhook notifications fire
// only after the owning transaction has committed.
type Service struct {
	store       storage.Store
	notifier    callbacks.Notifier
	metrics     *metrics.Metrics // optional
	txRetries   int
	baseDelay   time.Duration
	rechargeTTL time.Duration
	bcryptCost  int
	now         func() time.Time
}

// Option adjusts a Service beyond the config defaults.
type Option func(*Service)

// WithNotifier wires operator-facing event delivery. Absent a notifier
// the service drops events silently.
func WithNotifier(n callbacks.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics attaches the metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithBCryptCost sets the password hash cost used at registration.
// Values below the bcrypt floor are raised by the hasher itself.
func WithBCryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// NewService constructs a back-office service. Zero config values fall
// back to the documented defaults so a bare BillingConfig is usable.
func NewService(store storage.Store, cfg config.BillingConfig, opts ...Option) *Service {
	retries := cfg.TxMaxRetries
	if retries <= 0 {
		retries = 3
	}
	delay := cfg.TxRetryBaseDelay.Duration
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	ttl := cfg.RechargeOrderTTL.Duration
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	s := &Service{
		store:       store,
		notifier:    callbacks.NoopNotifier{},
		txRetries:   retries,
		baseDelay:   delay,
		rechargeTTL: ttl,
		bcryptCost:  10,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
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
// transaction attempt.
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

// runTx wraps one back-office write in a storage transaction and
// restarts the whole transaction on serialisation failures, the same
// discipline the settle path uses.
func (s *Service) runTx(ctx context.Context, event string, fn func(ctx context.Context, tx storage.Tx) error) error {
	var retries int
	for {
		err := s.store.WithTx(ctx, fn)
		if err == nil {
			return nil
		}

		if storage.IsRetryableTxError(err) {
			retries++
			if s.metrics != nil {
				s.metrics.ObserveTxRetry(event)
			}
			if retries >= s.txRetries {
				log := logger.FromContext(ctx)
				log.Error().
					Err(err).
					Int("attempts", retries).
					Msg(event + ".tx_retries_exhausted")
				return errors.New(errors.ErrCodeDatabaseError, "storage contention, please retry")
			}
			if err := s.sleepBackoff(ctx, retries); err != nil {
				return s.classified(ctx, event, err)
			}
			continue
		}

		return s.classified(ctx, event, err)
	}
}

// readTx runs a read-only body in a single transaction attempt.
func (s *Service) readTx(ctx context.Context, event string, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := s.store.WithTx(ctx, fn); err != nil {
		return s.classified(ctx, event, err)
	}
	return nil
}
