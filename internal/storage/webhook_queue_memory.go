package storage

import (
	"context"
	"sort"
	"time"
)

// EnqueueWebhook adds a webhook to the delivery queue.
func (s *MemoryStore) EnqueueWebhook(ctx context.Context, webhook PendingWebhook) (string, error) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if webhook.ID == "" {
		webhook.ID = generateWebhookID()
	}
	if webhook.Status == "" {
		webhook.Status = WebhookStatusPending
	}
	if webhook.CreatedAt.IsZero() {
		webhook.CreatedAt = time.Now().UTC()
	}
	if webhook.NextAttemptAt.IsZero() {
		webhook.NextAttemptAt = webhook.CreatedAt
	}
	if webhook.MaxAttempts == 0 {
		webhook.MaxAttempts = 5
	}

	s.webhookQueue[webhook.ID] = webhook
	return webhook.ID, nil
}

// DequeueWebhooks retrieves webhooks ready for delivery, earliest due first.
func (s *MemoryStore) DequeueWebhooks(ctx context.Context, limit int) ([]PendingWebhook, error) {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()

	now := time.Now().UTC()
	var due []PendingWebhook
	for _, webhook := range s.webhookQueue {
		if webhook.Due(now) {
			due = append(due, webhook)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkWebhookProcessing claims the webhook for one delivery attempt.
func (s *MemoryStore) MarkWebhookProcessing(ctx context.Context, webhookID string) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	webhook, ok := s.webhookQueue[webhookID]
	if !ok {
		return ErrNotFound
	}

	webhook.Status = WebhookStatusProcessing
	webhook.LastAttemptAt = time.Now().UTC()
	webhook.Attempts++
	s.webhookQueue[webhookID] = webhook
	return nil
}

// MarkWebhookSuccess removes the delivered webhook from the queue.
func (s *MemoryStore) MarkWebhookSuccess(ctx context.Context, webhookID string) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if _, ok := s.webhookQueue[webhookID]; !ok {
		return ErrNotFound
	}
	delete(s.webhookQueue, webhookID)
	return nil
}

// MarkWebhookFailed records the error and either schedules the next attempt
// or finalises the webhook as failed.
func (s *MemoryStore) MarkWebhookFailed(ctx context.Context, webhookID string, errorMsg string, nextAttemptAt time.Time) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	webhook, ok := s.webhookQueue[webhookID]
	if !ok {
		return ErrNotFound
	}

	webhook.LastError = errorMsg
	webhook.LastAttemptAt = time.Now().UTC()

	if webhook.Attempts >= webhook.MaxAttempts {
		webhook.Status = WebhookStatusFailed
		now := time.Now().UTC()
		webhook.CompletedAt = &now
	} else {
		webhook.Status = WebhookStatusPending
		webhook.NextAttemptAt = nextAttemptAt
	}

	s.webhookQueue[webhookID] = webhook
	return nil
}

// GetWebhook retrieves a queued webhook by id.
func (s *MemoryStore) GetWebhook(ctx context.Context, webhookID string) (PendingWebhook, error) {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()

	webhook, ok := s.webhookQueue[webhookID]
	if !ok {
		return PendingWebhook{}, ErrNotFound
	}
	return webhook, nil
}

// ListWebhooks lists queued webhooks newest first, optionally filtered by
// status.
func (s *MemoryStore) ListWebhooks(ctx context.Context, status WebhookStatus, limit int) ([]PendingWebhook, error) {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()

	var webhooks []PendingWebhook
	for _, webhook := range s.webhookQueue {
		if status == "" || webhook.Status == status {
			webhooks = append(webhooks, webhook)
		}
	}

	sort.Slice(webhooks, func(i, j int) bool {
		return webhooks[i].CreatedAt.After(webhooks[j].CreatedAt)
	})

	if limit > 0 && len(webhooks) > limit {
		webhooks = webhooks[:limit]
	}
	return webhooks, nil
}

// RetryWebhook resets the webhook to pending for an immediate manual retry.
func (s *MemoryStore) RetryWebhook(ctx context.Context, webhookID string) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	webhook, ok := s.webhookQueue[webhookID]
	if !ok {
		return ErrNotFound
	}

	webhook.Status = WebhookStatusPending
	webhook.NextAttemptAt = time.Now().UTC()
	webhook.LastError = ""
	webhook.CompletedAt = nil
	s.webhookQueue[webhookID] = webhook
	return nil
}

// DeleteWebhook removes the webhook from the queue.
func (s *MemoryStore) DeleteWebhook(ctx context.Context, webhookID string) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if _, ok := s.webhookQueue[webhookID]; !ok {
		return ErrNotFound
	}
	delete(s.webhookQueue, webhookID)
	return nil
}
