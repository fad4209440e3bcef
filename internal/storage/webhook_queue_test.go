package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestWebhookQueueLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.EnqueueWebhook(ctx, PendingWebhook{
		URL:       "https://venue.example.com/events",
		Payload:   json.RawMessage(`{"event_type":"recharge.completed"}`),
		Headers:   map[string]string{"X-Auth": "secret"},
		EventType: "recharge.completed",
	})
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}
	if id == "" {
		t.Fatal("EnqueueWebhook returned empty id")
	}

	webhook, err := store.GetWebhook(ctx, id)
	if err != nil {
		t.Fatalf("GetWebhook: %v", err)
	}
	if webhook.Status != WebhookStatusPending {
		t.Errorf("status = %q, want pending", webhook.Status)
	}
	if webhook.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want default 5", webhook.MaxAttempts)
	}
	if webhook.CreatedAt.IsZero() || webhook.NextAttemptAt.IsZero() {
		t.Error("CreatedAt and NextAttemptAt should be defaulted")
	}

	due, err := store.DequeueWebhooks(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueWebhooks: %v", err)
	}
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("DequeueWebhooks = %v, want the enqueued webhook", due)
	}

	if err := store.MarkWebhookProcessing(ctx, id); err != nil {
		t.Fatalf("MarkWebhookProcessing: %v", err)
	}
	webhook, err = store.GetWebhook(ctx, id)
	if err != nil {
		t.Fatalf("GetWebhook after claim: %v", err)
	}
	if webhook.Status != WebhookStatusProcessing {
		t.Errorf("status = %q, want processing", webhook.Status)
	}
	if webhook.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", webhook.Attempts)
	}

	// A claimed webhook must not be handed to another worker.
	due, err = store.DequeueWebhooks(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueWebhooks while processing: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("DequeueWebhooks returned %d claimed webhooks", len(due))
	}

	if err := store.MarkWebhookSuccess(ctx, id); err != nil {
		t.Fatalf("MarkWebhookSuccess: %v", err)
	}
	if _, err := store.GetWebhook(ctx, id); err != ErrNotFound {
		t.Errorf("GetWebhook after success = %v, want ErrNotFound", err)
	}
}

func TestWebhookQueueFailureSchedulesRetry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.EnqueueWebhook(ctx, PendingWebhook{
		URL:       "https://venue.example.com/events",
		Payload:   json.RawMessage(`{}`),
		EventType: "refund.reviewed",
	})
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}

	if err := store.MarkWebhookProcessing(ctx, id); err != nil {
		t.Fatalf("MarkWebhookProcessing: %v", err)
	}

	nextAttempt := time.Now().UTC().Add(time.Hour)
	if err := store.MarkWebhookFailed(ctx, id, "connection refused", nextAttempt); err != nil {
		t.Fatalf("MarkWebhookFailed: %v", err)
	}

	webhook, err := store.GetWebhook(ctx, id)
	if err != nil {
		t.Fatalf("GetWebhook: %v", err)
	}
	if webhook.Status != WebhookStatusPending {
		t.Errorf("status = %q, want pending", webhook.Status)
	}
	if webhook.LastError != "connection refused" {
		t.Errorf("LastError = %q, want connection refused", webhook.LastError)
	}

	// Rescheduled an hour ahead, so nothing is due yet.
	due, err := store.DequeueWebhooks(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueWebhooks: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("DequeueWebhooks returned %d webhooks before their retry time", len(due))
	}

	// Manual retry makes it due immediately and clears the error.
	if err := store.RetryWebhook(ctx, id); err != nil {
		t.Fatalf("RetryWebhook: %v", err)
	}
	webhook, err = store.GetWebhook(ctx, id)
	if err != nil {
		t.Fatalf("GetWebhook after retry: %v", err)
	}
	if webhook.LastError != "" {
		t.Errorf("LastError = %q after manual retry, want empty", webhook.LastError)
	}
	due, err = store.DequeueWebhooks(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueWebhooks after retry: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("DequeueWebhooks after retry returned %d webhooks, want 1", len(due))
	}
}

func TestWebhookQueueExhaustionFinalises(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.EnqueueWebhook(ctx, PendingWebhook{
		URL:         "https://venue.example.com/events",
		Payload:     json.RawMessage(`{}`),
		EventType:   "balance.low",
		MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("EnqueueWebhook: %v", err)
	}

	if err := store.MarkWebhookProcessing(ctx, id); err != nil {
		t.Fatalf("MarkWebhookProcessing: %v", err)
	}
	if err := store.MarkWebhookFailed(ctx, id, "received status 502", time.Now().UTC()); err != nil {
		t.Fatalf("MarkWebhookFailed: %v", err)
	}

	webhook, err := store.GetWebhook(ctx, id)
	if err != nil {
		t.Fatalf("GetWebhook: %v", err)
	}
	if webhook.Status != WebhookStatusFailed {
		t.Errorf("status = %q, want failed", webhook.Status)
	}
	if webhook.CompletedAt == nil {
		t.Error("CompletedAt not set on exhaustion")
	}

	due, err := store.DequeueWebhooks(ctx, 10)
	if err != nil {
		t.Fatalf("DequeueWebhooks: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("DequeueWebhooks returned %d exhausted webhooks", len(due))
	}
}

func TestWebhookQueueListAndDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := store.EnqueueWebhook(ctx, PendingWebhook{
			URL:       "https://venue.example.com/events",
			Payload:   json.RawMessage(`{}`),
			EventType: "recharge.completed",
		})
		if err != nil {
			t.Fatalf("EnqueueWebhook: %v", err)
		}
		ids = append(ids, id)
		time.Sleep(time.Microsecond) // ids derive from the clock
	}

	all, err := store.ListWebhooks(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListWebhooks: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListWebhooks returned %d webhooks, want 3", len(all))
	}

	pending, err := store.ListWebhooks(ctx, WebhookStatusPending, 10)
	if err != nil {
		t.Fatalf("ListWebhooks pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("ListWebhooks pending returned %d, want 3", len(pending))
	}

	failed, err := store.ListWebhooks(ctx, WebhookStatusFailed, 10)
	if err != nil {
		t.Fatalf("ListWebhooks failed: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("ListWebhooks failed returned %d, want 0", len(failed))
	}

	if err := store.DeleteWebhook(ctx, ids[0]); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
	if err := store.DeleteWebhook(ctx, ids[0]); err != ErrNotFound {
		t.Errorf("DeleteWebhook twice = %v, want ErrNotFound", err)
	}

	all, err = store.ListWebhooks(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListWebhooks after delete: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListWebhooks returned %d webhooks after delete, want 2", len(all))
	}
}

func TestPendingWebhookDue(t *testing.T) {
	now := time.Date(2025, 11, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		webhook PendingWebhook
		want    bool
	}{
		{"pending and past due", PendingWebhook{Status: WebhookStatusPending, NextAttemptAt: now.Add(-time.Minute)}, true},
		{"pending exactly at due time", PendingWebhook{Status: WebhookStatusPending, NextAttemptAt: now}, true},
		{"pending with zero due time", PendingWebhook{Status: WebhookStatusPending}, true},
		{"pending but scheduled later", PendingWebhook{Status: WebhookStatusPending, NextAttemptAt: now.Add(time.Minute)}, false},
		{"claimed by a worker", PendingWebhook{Status: WebhookStatusProcessing, NextAttemptAt: now.Add(-time.Minute)}, false},
		{"already failed", PendingWebhook{Status: WebhookStatusFailed, NextAttemptAt: now.Add(-time.Minute)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.webhook.Due(now); got != tt.want {
				t.Errorf("Due() = %v, want %v", got, tt.want)
			}
		})
	}
}
