// Package callbacks delivers operator-facing event webhooks: recharge
// completions, refund reviews and low balance warnings. Delivery is
// fire-and-forget from the caller's point of view; retries, circuit
// breaking and dead letter parking happen behind the Notifier interface.
package callbacks

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mrgun/server/internal/config"
	"github.com/mrgun/server/internal/httputil"
	"github.com/mrgun/server/internal/money"
)

// ErrNotifyDisabled reports that no webhook endpoint is configured.
var ErrNotifyDisabled = errors.New("callbacks: notify_url is not configured")

// Event types carried in the event_type field of every payload.
const (
	EventRechargeCompleted = "recharge.completed"
	EventRefundReviewed    = "refund.reviewed"
	EventBalanceLow        = "balance.low"
)

// Notifier delivers account events to the operator's configured webhook.
// Implementations must not block the caller; delivery failures are
// handled internally.
type Notifier interface {
	RechargeCompleted(ctx context.Context, event RechargeEvent)
	RefundReviewed(ctx context.Context, event RefundEvent)
	BalanceLow(ctx context.Context, event BalanceLowEvent)
}

// NoopNotifier ignores all events. Used when no callback URL is configured.
type NoopNotifier struct{}

func (NoopNotifier) RechargeCompleted(context.Context, RechargeEvent) {}
func (NoopNotifier) RefundReviewed(context.Context, RefundEvent)     {}
func (NoopNotifier) BalanceLow(context.Context, BalanceLowEvent)     {}

// RechargeEvent announces a recharge order that was confirmed paid.
// EventID is the idempotency key: consumers must deduplicate on it,
// because retries resend the identical payload.
type RechargeEvent struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"` // always "recharge.completed"
	EventTimestamp time.Time `json:"event_timestamp"`

	OrderID    string       `json:"order_id"`
	OperatorID string       `json:"operator_id"`
	Amount     money.Amount `json:"amount"`
	Method     string       `json:"method"` // "wechat" or "alipay"
	Balance    money.Amount `json:"balance"`
	PaidAt     time.Time    `json:"paid_at"`
}

// RefundEvent announces a refund review decision, approved or rejected.
type RefundEvent struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"` // always "refund.reviewed"
	EventTimestamp time.Time `json:"event_timestamp"`

	RefundID   string       `json:"refund_id"`
	OperatorID string       `json:"operator_id"`
	Amount     money.Amount `json:"amount"`
	Status     string       `json:"status"` // "approved" or "rejected"
	AdminNote  string       `json:"admin_note,omitempty"`
	ReviewedAt time.Time    `json:"reviewed_at"`
}

// BalanceLowEvent warns that an operator's balance dropped below the
// configured alert threshold.
type BalanceLowEvent struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"` // always "balance.low"
	EventTimestamp time.Time `json:"event_timestamp"`

	OperatorID string       `json:"operator_id"`
	Username   string       `json:"username"`
	Balance    money.Amount `json:"balance"`
	Threshold  money.Amount `json:"threshold"`
}

// generateEventID returns a unique event identifier such as
// "evt_a1b2c3d4e5f6". Falls back to a timestamp when the system
// entropy source fails.
func generateEventID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return "evt_" + hex.EncodeToString(b)
}

// prepareEventFields fills in the shared idempotency metadata. Existing
// values are kept so a replayed event keeps its original identity.
func prepareEventFields(eventID, eventType *string, eventTimestamp *time.Time, defaultEventType string) {
	if *eventID == "" {
		*eventID = generateEventID()
	}
	if *eventType == "" {
		*eventType = defaultEventType
	}
	if eventTimestamp.IsZero() {
		*eventTimestamp = time.Now().UTC()
	}
}

// PrepareRechargeEvent assigns the event identity before serialization.
// Idempotent: already-set fields are left alone.
func PrepareRechargeEvent(event *RechargeEvent) {
	prepareEventFields(&event.EventID, &event.EventType, &event.EventTimestamp, EventRechargeCompleted)
	if event.PaidAt.IsZero() {
		event.PaidAt = event.EventTimestamp
	}
}

// PrepareRefundEvent assigns the event identity before serialization.
func PrepareRefundEvent(event *RefundEvent) {
	prepareEventFields(&event.EventID, &event.EventType, &event.EventTimestamp, EventRefundReviewed)
	if event.ReviewedAt.IsZero() {
		event.ReviewedAt = event.EventTimestamp
	}
}

// PrepareBalanceLowEvent assigns the event identity before serialization.
func PrepareBalanceLowEvent(event *BalanceLowEvent) {
	prepareEventFields(&event.EventID, &event.EventType, &event.EventTimestamp, EventBalanceLow)
}

// SendOnce delivers a single recharge event without retries or circuit
// breaking. Meant for CLI smoke tests against a freshly configured
// webhook endpoint, not for production delivery.
func SendOnce(ctx context.Context, cfg config.CallbacksConfig, event RechargeEvent) error {
	if cfg.NotifyURL == "" {
		return ErrNotifyDisabled
	}

	PrepareRechargeEvent(&event)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.NotifyURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range cfg.Headers {
		if strings.EqualFold(key, "content-type") {
			continue
		}
		req.Header.Set(key, value)
	}

	resp, err := httputil.NewClient(timeout).Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, cfg.NotifyURL)
	}
	return nil
}
