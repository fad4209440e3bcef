package callbacks

import (
	"strings"
	"testing"
	"time"

	"github.com/mrgun/server/internal/money"
)

func TestGenerateEventID(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := generateEventID()

		if !strings.HasPrefix(id, "evt_") {
			t.Errorf("event ID missing 'evt_' prefix: %s", id)
		}

		hexPart := strings.TrimPrefix(id, "evt_")
		if len(hexPart) != 24 {
			t.Errorf("event ID hex part wrong length (expected 24, got %d): %s", len(hexPart), id)
		}
		for _, c := range hexPart {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
				t.Errorf("event ID contains non-hex character %q: %s", c, id)
			}
		}

		if ids[id] {
			t.Errorf("duplicate event ID generated: %s", id)
		}
		ids[id] = true
	}

	if len(ids) != 1000 {
		t.Errorf("expected 1000 unique IDs, got %d", len(ids))
	}
}

func TestPrepareRechargeEvent(t *testing.T) {
	tests := []struct {
		name  string
		event RechargeEvent
		check func(t *testing.T, event RechargeEvent)
	}{
		{
			name:  "generates event ID when missing",
			event: RechargeEvent{OrderID: "order-1"},
			check: func(t *testing.T, event RechargeEvent) {
				if event.EventID == "" {
					t.Error("EventID not generated")
				}
				if !strings.HasPrefix(event.EventID, "evt_") {
					t.Errorf("EventID has wrong format: %s", event.EventID)
				}
			},
		},
		{
			name:  "preserves existing event ID",
			event: RechargeEvent{EventID: "evt_existing123", OrderID: "order-1"},
			check: func(t *testing.T, event RechargeEvent) {
				if event.EventID != "evt_existing123" {
					t.Errorf("EventID changed from evt_existing123 to %s", event.EventID)
				}
			},
		},
		{
			name:  "sets event type to recharge.completed",
			event: RechargeEvent{OrderID: "order-1"},
			check: func(t *testing.T, event RechargeEvent) {
				if event.EventType != EventRechargeCompleted {
					t.Errorf("EventType = %s, want %s", event.EventType, EventRechargeCompleted)
				}
			},
		},
		{
			name:  "sets event timestamp when missing",
			event: RechargeEvent{OrderID: "order-1"},
			check: func(t *testing.T, event RechargeEvent) {
				if event.EventTimestamp.IsZero() {
					t.Error("EventTimestamp not set")
				}
				if time.Since(event.EventTimestamp) > time.Second {
					t.Errorf("EventTimestamp too old: %v", event.EventTimestamp)
				}
			},
		},
		{
			name: "preserves existing event timestamp",
			event: RechargeEvent{
				EventTimestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				OrderID:        "order-1",
			},
			check: func(t *testing.T, event RechargeEvent) {
				expected := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
				if !event.EventTimestamp.Equal(expected) {
					t.Errorf("EventTimestamp changed from %v to %v", expected, event.EventTimestamp)
				}
			},
		},
		{
			name:  "sets paid at when missing",
			event: RechargeEvent{OrderID: "order-1"},
			check: func(t *testing.T, event RechargeEvent) {
				if event.PaidAt.IsZero() {
					t.Error("PaidAt not set")
				}
			},
		},
		{
			name: "preserves existing paid at",
			event: RechargeEvent{
				PaidAt:  time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
				OrderID: "order-1",
			},
			check: func(t *testing.T, event RechargeEvent) {
				expected := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
				if !event.PaidAt.Equal(expected) {
					t.Errorf("PaidAt changed from %v to %v", expected, event.PaidAt)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			PrepareRechargeEvent(&tt.event)
			tt.check(t, tt.event)
		})
	}
}

func TestPrepareRefundEvent(t *testing.T) {
	tests := []struct {
		name  string
		event RefundEvent
		check func(t *testing.T, event RefundEvent)
	}{
		{
			name:  "generates event ID when missing",
			event: RefundEvent{RefundID: "refund-1"},
			check: func(t *testing.T, event RefundEvent) {
				if event.EventID == "" {
					t.Error("EventID not generated")
				}
				if !strings.HasPrefix(event.EventID, "evt_") {
					t.Errorf("EventID has wrong format: %s", event.EventID)
				}
			},
		},
		{
			name:  "preserves existing event ID",
			event: RefundEvent{EventID: "evt_refund_abc", RefundID: "refund-1"},
			check: func(t *testing.T, event RefundEvent) {
				if event.EventID != "evt_refund_abc" {
					t.Errorf("EventID changed from evt_refund_abc to %s", event.EventID)
				}
			},
		},
		{
			name:  "sets event type to refund.reviewed",
			event: RefundEvent{RefundID: "refund-1"},
			check: func(t *testing.T, event RefundEvent) {
				if event.EventType != EventRefundReviewed {
					t.Errorf("EventType = %s, want %s", event.EventType, EventRefundReviewed)
				}
			},
		},
		{
			name:  "sets reviewed at when missing",
			event: RefundEvent{RefundID: "refund-1"},
			check: func(t *testing.T, event RefundEvent) {
				if event.ReviewedAt.IsZero() {
					t.Error("ReviewedAt not set")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			PrepareRefundEvent(&tt.event)
			tt.check(t, tt.event)
		})
	}
}

func TestPrepareBalanceLowEvent(t *testing.T) {
	event := BalanceLowEvent{
		OperatorID: "op_1",
		Balance:    money.MustParse("42.00"),
		Threshold:  money.MustParse("100.00"),
	}
	PrepareBalanceLowEvent(&event)

	if event.EventID == "" {
		t.Error("EventID not generated")
	}
	if event.EventType != EventBalanceLow {
		t.Errorf("EventType = %s, want %s", event.EventType, EventBalanceLow)
	}
	if event.EventTimestamp.IsZero() {
		t.Error("EventTimestamp not set")
	}
}

func TestIdempotencyAcrossRetries(t *testing.T) {
	// A retried event is prepared again before each send; its identity
	// must not change or consumers cannot deduplicate.
	event := RechargeEvent{
		OrderID: "order-1",
		Method:  "wechat",
	}

	PrepareRechargeEvent(&event)
	firstEventID := event.EventID
	firstTimestamp := event.EventTimestamp

	if firstEventID == "" {
		t.Fatal("first preparation did not generate EventID")
	}

	PrepareRechargeEvent(&event)

	if event.EventID != firstEventID {
		t.Errorf("EventID changed on retry from %s to %s", firstEventID, event.EventID)
	}
	if !event.EventTimestamp.Equal(firstTimestamp) {
		t.Errorf("EventTimestamp changed on retry from %v to %v", firstTimestamp, event.EventTimestamp)
	}
}

func TestMultipleEventsGetUniqueIDs(t *testing.T) {
	eventIDs := make(map[string]bool)

	for i := 0; i < 100; i++ {
		event := RechargeEvent{
			OrderID: "order-1",
			Method:  "alipay",
		}
		PrepareRechargeEvent(&event)

		if eventIDs[event.EventID] {
			t.Errorf("duplicate EventID generated: %s", event.EventID)
		}
		eventIDs[event.EventID] = true
	}

	if len(eventIDs) != 100 {
		t.Errorf("expected 100 unique event IDs, got %d", len(eventIDs))
	}
}

func BenchmarkGenerateEventID(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = generateEventID()
	}
}

func BenchmarkPrepareRechargeEvent(b *testing.B) {
	for i := 0; i < b.N; i++ {
		event := RechargeEvent{OrderID: "order-1"}
		PrepareRechargeEvent(&event)
	}
}
