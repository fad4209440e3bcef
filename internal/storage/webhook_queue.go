package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// WebhookStatus is the delivery state of a queued notification.
type WebhookStatus string

const (
	WebhookStatusPending    WebhookStatus = "pending"    // waiting for delivery or retry
	WebhookStatusProcessing WebhookStatus = "processing" // a worker holds it right now
	WebhookStatusFailed     WebhookStatus = "failed"     // exhausted retries without a successful delivery
	WebhookStatusSuccess    WebhookStatus = "success"    // delivered
)

// ValidWebhookStatus reports whether s names a known queue state.
func ValidWebhookStatus(s WebhookStatus) bool {
	switch s {
	case WebhookStatusPending, WebhookStatusProcessing, WebhookStatusFailed, WebhookStatusSuccess:
		return true
	}
	return false
}

// PendingWebhook is one notification waiting in the persistent delivery
// queue. Rows survive restarts, so enqueued events are delivered even when
// the process dies between the state change and the outbound POST.
type PendingWebhook struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Payload       json.RawMessage   `json:"payload"`
	Headers       map[string]string `json:"headers,omitempty"`
	EventType     string            `json:"event_type"` // recharge.completed, refund.reviewed, balance.low
	Status        WebhookStatus     `json:"status"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"max_attempts"`
	LastError     string            `json:"last_error,omitempty"`
	LastAttemptAt time.Time         `json:"last_attempt_at,omitempty"`
	NextAttemptAt time.Time         `json:"next_attempt_at"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

// Due reports whether the webhook should be attempted now.
func (w PendingWebhook) Due(now time.Time) bool {
	if w.Status != WebhookStatusPending {
		return false
	}
	return w.NextAttemptAt.IsZero() || !now.Before(w.NextAttemptAt)
}

// WebhookQueue is the persistent notification delivery queue. Both ledger
// store backends implement it; the queue lives outside WithTx because the
// delivery worker drives it independently of ledger transactions.
type WebhookQueue interface {
	// EnqueueWebhook stores the webhook and returns its id, generating one
	// when absent. Zero Status, NextAttemptAt, CreatedAt and MaxAttempts
	// receive defaults.
	EnqueueWebhook(ctx context.Context, webhook PendingWebhook) (string, error)

	// DequeueWebhooks returns up to limit pending webhooks whose next
	// attempt is due, earliest first. It does not change their state; the
	// worker claims each one with MarkWebhookProcessing.
	DequeueWebhooks(ctx context.Context, limit int) ([]PendingWebhook, error)

	// MarkWebhookProcessing claims the webhook for one delivery attempt
	// and increments its attempt count.
	MarkWebhookProcessing(ctx context.Context, webhookID string) error

	// MarkWebhookSuccess removes the delivered webhook from the queue.
	MarkWebhookSuccess(ctx context.Context, webhookID string) error

	// MarkWebhookFailed records the error. With attempts left it returns
	// the webhook to pending with the given next attempt time; otherwise
	// it finalises the row as failed.
	MarkWebhookFailed(ctx context.Context, webhookID string, errorMsg string, nextAttemptAt time.Time) error

	GetWebhook(ctx context.Context, webhookID string) (PendingWebhook, error)

	// ListWebhooks returns newest first, optionally filtered by status.
	// limit <= 0 means no limit.
	ListWebhooks(ctx context.Context, status WebhookStatus, limit int) ([]PendingWebhook, error)

	// RetryWebhook resets the webhook to pending for an immediate manual
	// retry, clearing the recorded error.
	RetryWebhook(ctx context.Context, webhookID string) error

	DeleteWebhook(ctx context.Context, webhookID string) error
}

// generateWebhookID creates a unique identifier for queued webhooks.
func generateWebhookID() string {
	return fmt.Sprintf("webhook_%d", time.Now().UnixNano())
}
