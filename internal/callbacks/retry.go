package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mrgun/server/internal/circuitbreaker"
	"github.com/mrgun/server/internal/config"
	"github.com/mrgun/server/internal/httputil"
	"github.com/mrgun/server/internal/metrics"
	"github.com/mrgun/server/internal/storage"
	"github.com/rs/zerolog"
)

// RetryConfig holds webhook retry parameters.
type RetryConfig struct {
	MaxAttempts     int           // maximum delivery attempts (default 5)
	InitialInterval time.Duration // first backoff interval (default 1s)
	MaxInterval     time.Duration // backoff cap (default 5m)
	Multiplier      float64       // backoff growth factor (default 2.0)
	Timeout         time.Duration // per-attempt timeout (default 10s)
}

// DefaultRetryConfig returns the stock retry schedule: 5 attempts with
// exponential backoff 1s, 2s, 4s, 8s capped at 5m.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

// RetryConfigFromApp maps the application callback settings onto a
// RetryConfig, falling back to defaults for unset fields.
func RetryConfigFromApp(cfg config.CallbacksConfig) RetryConfig {
	out := DefaultRetryConfig()
	if cfg.Retry.MaxAttempts > 0 {
		out.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval.Duration > 0 {
		out.InitialInterval = cfg.Retry.InitialInterval.Duration
	}
	if cfg.Retry.MaxInterval.Duration > 0 {
		out.MaxInterval = cfg.Retry.MaxInterval.Duration
	}
	if cfg.Retry.Multiplier > 0 {
		out.Multiplier = cfg.Retry.Multiplier
	}
	if cfg.Timeout.Duration > 0 {
		out.Timeout = cfg.Timeout.Duration
	}
	return out
}

// RetryableClient posts events to the operator callback URL with
// exponential backoff. Delivery runs in a background goroutine; events
// that exhaust every attempt are parked in the dead letter store.
type RetryableClient struct {
	cfg        config.CallbacksConfig
	retryCfg   RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
	deadLetter storage.DeadLetterStore
	breaker    *circuitbreaker.Manager
	metrics    *metrics.Metrics
}

// RetryOption customises a RetryableClient.
type RetryOption func(*RetryableClient)

// WithRetryLogger sets the logger used for delivery outcomes.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(c *RetryableClient) {
		c.logger = logger
	}
}

// WithDeadLetterStore parks permanently failed events in the given store.
func WithDeadLetterStore(store storage.DeadLetterStore) RetryOption {
	return func(c *RetryableClient) {
		c.deadLetter = store
	}
}

// WithRetryConfig overrides the retry schedule.
func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(c *RetryableClient) {
		c.retryCfg = cfg
	}
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *metrics.Metrics) RetryOption {
	return func(c *RetryableClient) {
		c.metrics = m
	}
}

// WithBreaker routes deliveries through the webhook circuit breaker.
func WithBreaker(breaker *circuitbreaker.Manager) RetryOption {
	return func(c *RetryableClient) {
		c.breaker = breaker
	}
}

// NewRetryableClient builds a Notifier for the configured callback URL.
// Returns NoopNotifier when no URL is configured.
func NewRetryableClient(cfg config.CallbacksConfig, opts ...RetryOption) Notifier {
	if cfg.NotifyURL == "" {
		return NoopNotifier{}
	}

	client := &RetryableClient{
		cfg:        cfg,
		retryCfg:   RetryConfigFromApp(cfg),
		httpClient: httputil.NewClient(cfg.Timeout.Duration),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// RechargeCompleted delivers a recharge.completed event in the background.
func (c *RetryableClient) RechargeCompleted(ctx context.Context, event RechargeEvent) {
	PrepareRechargeEvent(&event)
	c.dispatch(event.EventID, EventRechargeCompleted, event)
}

// RefundReviewed delivers a refund.reviewed event in the background.
func (c *RetryableClient) RefundReviewed(ctx context.Context, event RefundEvent) {
	PrepareRefundEvent(&event)
	c.dispatch(event.EventID, EventRefundReviewed, event)
}

// BalanceLow delivers a balance.low event in the background.
func (c *RetryableClient) BalanceLow(ctx context.Context, event BalanceLowEvent) {
	PrepareBalanceLowEvent(&event)
	c.dispatch(event.EventID, EventBalanceLow, event)
}

// dispatch serialises the event once, so every retry resends the exact
// bytes, then delivers it in a background goroutine. The caller's
// context is deliberately not used: delivery must outlive the request.
func (c *RetryableClient) dispatch(eventID, eventType string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("event_type", eventType).
			Msg("callbacks: serialize event")
		return
	}

	go func() {
		start := time.Now()
		if err := c.sendWithRetry(context.Background(), payload, eventType); err != nil {
			c.logger.Error().
				Err(err).
				Str("event_id", eventID).
				Str("event_type", eventType).
				Str("url", c.cfg.NotifyURL).
				Msg("callbacks: delivery failed after all retries")
			c.parkDeadLetter(context.Background(), payload, eventType, err, time.Since(start))
		}
	}()
}

// sendWithRetry posts the payload until it succeeds or attempts run out.
func (c *RetryableClient) sendWithRetry(ctx context.Context, payload []byte, eventType string) error {
	start := time.Now()

	if !c.cfg.Retry.Enabled {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		err := c.send(reqCtx, payload)
		cancel()
		c.observe(eventType, err, time.Since(start), 1)
		return err
	}

	var lastErr error
	interval := c.retryCfg.InitialInterval
	for attempt := 1; attempt <= c.retryCfg.MaxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		err := c.send(reqCtx, payload)
		cancel()

		if err == nil {
			c.observe(eventType, nil, time.Since(start), attempt)
			if attempt > 1 {
				c.logger.Info().
					Int("attempt", attempt).
					Str("event_type", eventType).
					Msg("callbacks: delivery succeeded after retry")
			}
			return nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.retryCfg.MaxAttempts).
			Str("event_type", eventType).
			Dur("next_retry", interval).
			Msg("callbacks: delivery attempt failed")

		if attempt < c.retryCfg.MaxAttempts {
			time.Sleep(interval)
			interval = time.Duration(float64(interval) * c.retryCfg.Multiplier)
			if interval > c.retryCfg.MaxInterval {
				interval = c.retryCfg.MaxInterval
			}
		}
	}

	c.observe(eventType, lastErr, time.Since(start), c.retryCfg.MaxAttempts)
	return fmt.Errorf("delivery failed after %d attempts: %w", c.retryCfg.MaxAttempts, lastErr)
}

func (c *RetryableClient) observe(eventType string, err error, duration time.Duration, attempt int) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	c.metrics.ObserveWebhook(eventType, status, duration, attempt, false)
}

// send routes one attempt through the webhook circuit breaker. A nil or
// disabled breaker passes straight through.
func (c *RetryableClient) send(ctx context.Context, payload []byte) error {
	_, err := c.breaker.Execute(circuitbreaker.ServiceWebhook, func() (interface{}, error) {
		return nil, c.sendHTTP(ctx, payload)
	})
	return err
}

// sendHTTP performs a single POST to the callback URL.
func (c *RetryableClient) sendHTTP(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.NotifyURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.cfg.Headers {
		if strings.EqualFold(key, "content-type") {
			continue
		}
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, c.cfg.NotifyURL)
	}
	return nil
}

// parkDeadLetter stores an exhausted event for later inspection and
// requeueing. Without a dead letter store the event is only logged.
func (c *RetryableClient) parkDeadLetter(ctx context.Context, payload []byte, eventType string, lastErr error, elapsed time.Duration) {
	if c.deadLetter == nil {
		return
	}

	attempts := c.retryCfg.MaxAttempts
	if !c.cfg.Retry.Enabled {
		attempts = 1
	}

	now := time.Now().UTC()
	letter := storage.DeadLetter{
		ID:            storage.NewDeadLetterID(),
		URL:           c.cfg.NotifyURL,
		Payload:       json.RawMessage(payload),
		Headers:       c.cfg.Headers,
		EventType:     eventType,
		Attempts:      attempts,
		LastError:     lastErr.Error(),
		FirstFailedAt: now.Add(-elapsed),
		LastFailedAt:  now,
	}

	if err := c.deadLetter.SaveDeadLetter(ctx, letter); err != nil {
		c.logger.Error().
			Err(err).
			Str("event_type", eventType).
			Msg("callbacks: park dead letter")
		return
	}

	if c.metrics != nil {
		c.metrics.ObserveWebhook(eventType, "dlq", elapsed, attempts, true)
	}
	c.logger.Warn().
		Str("dead_letter_id", letter.ID).
		Str("event_type", eventType).
		Msg("callbacks: event parked in dead letter queue")
}
