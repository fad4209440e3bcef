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

// QueueWorker drains the persistent webhook queue. It claims due rows,
// posts them to the callback URL and either reschedules a failed row
// with backoff or parks it in the dead letter store once attempts run
// out. Exactly one worker should run per queue.
type QueueWorker struct {
	queue        storage.WebhookQueue
	deadLetter   storage.DeadLetterStore
	cfg          config.CallbacksConfig
	retryCfg     RetryConfig
	httpClient   *http.Client
	breaker      *circuitbreaker.Manager
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	stopChan     chan struct{}
	doneChan     chan struct{}
	pollInterval time.Duration
}

// QueueWorkerOptions configures a QueueWorker.
type QueueWorkerOptions struct {
	Queue       storage.WebhookQueue
	DeadLetters storage.DeadLetterStore
	Config      config.CallbacksConfig
	RetryConfig RetryConfig
	Breaker     *circuitbreaker.Manager
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics

	// PollInterval is how often the worker looks for due webhooks.
	// Defaults to 5s.
	PollInterval time.Duration
}

// NewQueueWorker builds a stopped worker; call Start to begin polling.
func NewQueueWorker(opts QueueWorkerOptions) *QueueWorker {
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.RetryConfig.Timeout == 0 {
		opts.RetryConfig = RetryConfigFromApp(opts.Config)
	}
	return &QueueWorker{
		queue:        opts.Queue,
		deadLetter:   opts.DeadLetters,
		cfg:          opts.Config,
		retryCfg:     opts.RetryConfig,
		httpClient:   httputil.NewClient(opts.Config.Timeout.Duration),
		breaker:      opts.Breaker,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
		pollInterval: opts.PollInterval,
	}
}

// Start launches the polling loop. The worker stops when ctx is
// cancelled or Stop is called.
func (w *QueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
	w.logger.Info().
		Dur("poll_interval", w.pollInterval).
		Msg("callbacks: queue worker started")
}

// Stop halts the worker and waits for the current batch to finish.
func (w *QueueWorker) Stop() {
	close(w.stopChan)
	<-w.doneChan
	w.logger.Info().Msg("callbacks: queue worker stopped")
}

func (w *QueueWorker) run(ctx context.Context) {
	defer close(w.doneChan)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processQueue(ctx)
		}
	}
}

// processQueue delivers one batch of due webhooks.
func (w *QueueWorker) processQueue(ctx context.Context) {
	webhooks, err := w.queue.DequeueWebhooks(ctx, 10)
	if err != nil {
		w.logger.Error().Err(err).Msg("callbacks: dequeue webhooks")
		return
	}

	for _, webhook := range webhooks {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		default:
		}
		w.processWebhook(ctx, webhook)
	}
}

func (w *QueueWorker) processWebhook(ctx context.Context, webhook storage.PendingWebhook) {
	if err := w.queue.MarkWebhookProcessing(ctx, webhook.ID); err != nil {
		w.logger.Error().
			Err(err).
			Str("webhook_id", webhook.ID).
			Msg("callbacks: claim webhook")
		return
	}
	// Mirror the claim so the local copy counts this attempt too.
	webhook.Attempts++

	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, w.retryCfg.Timeout)
	err := w.deliver(reqCtx, webhook)
	cancel()
	duration := time.Since(start)

	if err == nil {
		if markErr := w.queue.MarkWebhookSuccess(ctx, webhook.ID); markErr != nil {
			w.logger.Error().
				Err(markErr).
				Str("webhook_id", webhook.ID).
				Msg("callbacks: finalize delivered webhook")
		}
		if w.metrics != nil {
			w.metrics.ObserveWebhook(webhook.EventType, "success", duration, webhook.Attempts, false)
		}
		w.logger.Info().
			Str("webhook_id", webhook.ID).
			Str("event_type", webhook.EventType).
			Int("attempts", webhook.Attempts).
			Dur("duration", duration).
			Msg("callbacks: webhook delivered")
		return
	}

	w.handleFailure(ctx, webhook, err, duration)
}

// handleFailure reschedules a failed webhook, or parks it in the dead
// letter store when the claim consumed the final attempt.
func (w *QueueWorker) handleFailure(ctx context.Context, webhook storage.PendingWebhook, deliveryErr error, duration time.Duration) {
	if w.metrics != nil {
		w.metrics.ObserveWebhook(webhook.EventType, "failed", duration, webhook.Attempts, false)
	}

	if webhook.Attempts >= webhook.MaxAttempts {
		w.park(ctx, webhook, deliveryErr)
		return
	}

	nextAttemptAt := time.Now().Add(w.backoff(webhook.Attempts))
	if err := w.queue.MarkWebhookFailed(ctx, webhook.ID, deliveryErr.Error(), nextAttemptAt); err != nil {
		w.logger.Error().
			Err(err).
			Str("webhook_id", webhook.ID).
			Msg("callbacks: reschedule webhook")
		return
	}
	w.logger.Warn().
		Err(deliveryErr).
		Str("webhook_id", webhook.ID).
		Str("event_type", webhook.EventType).
		Int("attempt", webhook.Attempts).
		Int("max_attempts", webhook.MaxAttempts).
		Time("next_attempt", nextAttemptAt).
		Msg("callbacks: webhook delivery failed, retry scheduled")
}

// park moves an exhausted webhook into the dead letter store and drops
// the queue row. If the park itself fails the row is finalised as
// failed instead, so the event is never silently lost.
func (w *QueueWorker) park(ctx context.Context, webhook storage.PendingWebhook, deliveryErr error) {
	if w.deadLetter == nil {
		w.finalizeFailed(ctx, webhook, deliveryErr)
		return
	}

	letter := storage.DeadLetter{
		ID:            storage.NewDeadLetterID(),
		URL:           webhook.URL,
		Payload:       webhook.Payload,
		Headers:       webhook.Headers,
		EventType:     webhook.EventType,
		Attempts:      webhook.Attempts,
		LastError:     deliveryErr.Error(),
		FirstFailedAt: webhook.CreatedAt,
		LastFailedAt:  time.Now().UTC(),
	}
	if err := w.deadLetter.SaveDeadLetter(ctx, letter); err != nil {
		w.logger.Error().
			Err(err).
			Str("webhook_id", webhook.ID).
			Msg("callbacks: park dead letter")
		w.finalizeFailed(ctx, webhook, deliveryErr)
		return
	}

	if err := w.queue.DeleteWebhook(ctx, webhook.ID); err != nil {
		w.logger.Error().
			Err(err).
			Str("webhook_id", webhook.ID).
			Msg("callbacks: remove parked webhook from queue")
	}
	if w.metrics != nil {
		w.metrics.ObserveWebhook(webhook.EventType, "dlq", time.Since(webhook.CreatedAt), webhook.Attempts, true)
	}
	w.logger.Warn().
		Err(deliveryErr).
		Str("webhook_id", webhook.ID).
		Str("dead_letter_id", letter.ID).
		Str("event_type", webhook.EventType).
		Int("attempts", webhook.Attempts).
		Msg("callbacks: webhook parked in dead letter queue")
}

func (w *QueueWorker) finalizeFailed(ctx context.Context, webhook storage.PendingWebhook, deliveryErr error) {
	if err := w.queue.MarkWebhookFailed(ctx, webhook.ID, deliveryErr.Error(), time.Now()); err != nil {
		w.logger.Error().
			Err(err).
			Str("webhook_id", webhook.ID).
			Msg("callbacks: finalize failed webhook")
	}
}

// backoff returns the wait before the next attempt: the initial
// interval grown by the multiplier for each attempt already made.
func (w *QueueWorker) backoff(attempt int) time.Duration {
	interval := w.retryCfg.InitialInterval
	for i := 1; i < attempt; i++ {
		interval = time.Duration(float64(interval) * w.retryCfg.Multiplier)
		if interval > w.retryCfg.MaxInterval {
			return w.retryCfg.MaxInterval
		}
	}
	return interval
}

// deliver routes one attempt through the webhook circuit breaker.
func (w *QueueWorker) deliver(ctx context.Context, webhook storage.PendingWebhook) error {
	_, err := w.breaker.Execute(circuitbreaker.ServiceWebhook, func() (interface{}, error) {
		return nil, w.post(ctx, webhook)
	})
	return err
}

// post performs a single POST of the stored payload.
func (w *QueueWorker) post(ctx context.Context, webhook storage.PendingWebhook) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(webhook.Payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range webhook.Headers {
		if strings.EqualFold(key, "content-type") {
			continue
		}
		req.Header.Set(key, value)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, webhook.URL)
	}
	return nil
}

// EnqueueRechargeWebhook queues a recharge.completed event for delivery.
func (w *QueueWorker) EnqueueRechargeWebhook(ctx context.Context, event RechargeEvent) error {
	PrepareRechargeEvent(&event)
	return w.enqueue(ctx, event.EventID, EventRechargeCompleted, event)
}

// EnqueueRefundWebhook queues a refund.reviewed event for delivery.
func (w *QueueWorker) EnqueueRefundWebhook(ctx context.Context, event RefundEvent) error {
	PrepareRefundEvent(&event)
	return w.enqueue(ctx, event.EventID, EventRefundReviewed, event)
}

// EnqueueBalanceLowWebhook queues a balance.low event for delivery.
func (w *QueueWorker) EnqueueBalanceLowWebhook(ctx context.Context, event BalanceLowEvent) error {
	PrepareBalanceLowEvent(&event)
	return w.enqueue(ctx, event.EventID, EventBalanceLow, event)
}

func (w *QueueWorker) enqueue(ctx context.Context, eventID, eventType string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	id, err := w.queue.EnqueueWebhook(ctx, storage.PendingWebhook{
		URL:         w.cfg.NotifyURL,
		Payload:     payload,
		Headers:     w.cfg.Headers,
		EventType:   eventType,
		MaxAttempts: w.retryCfg.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("enqueue webhook: %w", err)
	}

	w.logger.Debug().
		Str("webhook_id", id).
		Str("event_id", eventID).
		Str("event_type", eventType).
		Msg("callbacks: webhook enqueued")
	return nil
}
