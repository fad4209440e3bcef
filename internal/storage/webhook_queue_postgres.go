package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const webhookQueueColumns = `id, url, payload, headers, event_type, status, attempts, max_attempts,
	last_error, last_attempt_at, next_attempt_at, created_at, completed_at`

// EnqueueWebhook adds a webhook to the delivery queue.
func (s *PostgresStore) EnqueueWebhook(ctx context.Context, webhook PendingWebhook) (string, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

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

	headersJSON, err := json.Marshal(webhook.Headers)
	if err != nil {
		return "", fmt.Errorf("marshal headers: %w", err)
	}

	query := `
		INSERT INTO webhook_queue (` + webhookQueueColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	var lastAttempt sql.NullTime
	if !webhook.LastAttemptAt.IsZero() {
		lastAttempt = sql.NullTime{Time: webhook.LastAttemptAt.UTC(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx, query,
		webhook.ID, webhook.URL, []byte(webhook.Payload), headersJSON, webhook.EventType,
		webhook.Status, webhook.Attempts, webhook.MaxAttempts, webhook.LastError,
		lastAttempt, webhook.NextAttemptAt.UTC(), webhook.CreatedAt.UTC(),
		nullTime(webhook.CompletedAt),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue webhook: %w", err)
	}
	return webhook.ID, nil
}

// DequeueWebhooks retrieves webhooks ready for delivery, earliest due first.
func (s *PostgresStore) DequeueWebhooks(ctx context.Context, limit int) ([]PendingWebhook, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + webhookQueueColumns + `
		FROM webhook_queue
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, WebhookStatusPending, time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []PendingWebhook
	for rows.Next() {
		webhook, err := scanPendingWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, webhook)
	}
	return webhooks, rows.Err()
}

// MarkWebhookProcessing claims the webhook for one delivery attempt.
func (s *PostgresStore) MarkWebhookProcessing(ctx context.Context, webhookID string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		UPDATE webhook_queue
		SET status = $1, last_attempt_at = $2, attempts = attempts + 1
		WHERE id = $3
	`
	return s.execWebhookUpdate(ctx, query, WebhookStatusProcessing, time.Now().UTC(), webhookID)
}

// MarkWebhookSuccess removes the delivered webhook from the queue.
func (s *PostgresStore) MarkWebhookSuccess(ctx context.Context, webhookID string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	return s.execWebhookUpdate(ctx, `DELETE FROM webhook_queue WHERE id = $1`, webhookID)
}

// MarkWebhookFailed records the error and either schedules the next attempt
// or finalises the webhook as failed.
func (s *PostgresStore) MarkWebhookFailed(ctx context.Context, webhookID string, errorMsg string, nextAttemptAt time.Time) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var attempts, maxAttempts int
	err := s.db.QueryRowContext(ctx,
		`SELECT attempts, max_attempts FROM webhook_queue WHERE id = $1`, webhookID,
	).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load webhook attempts: %w", err)
	}

	now := time.Now().UTC()
	if attempts >= maxAttempts {
		query := `
			UPDATE webhook_queue
			SET status = $1, last_error = $2, last_attempt_at = $3, completed_at = $4
			WHERE id = $5
		`
		return s.execWebhookUpdate(ctx, query, WebhookStatusFailed, errorMsg, now, now, webhookID)
	}

	query := `
		UPDATE webhook_queue
		SET status = $1, last_error = $2, last_attempt_at = $3, next_attempt_at = $4
		WHERE id = $5
	`
	return s.execWebhookUpdate(ctx, query, WebhookStatusPending, errorMsg, now, nextAttemptAt.UTC(), webhookID)
}

// GetWebhook retrieves a queued webhook by id.
func (s *PostgresStore) GetWebhook(ctx context.Context, webhookID string) (PendingWebhook, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + webhookQueueColumns + `
		FROM webhook_queue
		WHERE id = $1
	`
	webhook, err := scanPendingWebhook(s.db.QueryRowContext(ctx, query, webhookID))
	if err == sql.ErrNoRows {
		return PendingWebhook{}, ErrNotFound
	}
	if err != nil {
		return PendingWebhook{}, fmt.Errorf("get webhook: %w", err)
	}
	return webhook, nil
}

// ListWebhooks lists queued webhooks newest first, optionally filtered by
// status.
func (s *PostgresStore) ListWebhooks(ctx context.Context, status WebhookStatus, limit int) ([]PendingWebhook, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + webhookQueueColumns + ` FROM webhook_queue`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []PendingWebhook
	for rows.Next() {
		webhook, err := scanPendingWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, webhook)
	}
	return webhooks, rows.Err()
}

// RetryWebhook resets the webhook to pending for an immediate manual retry.
func (s *PostgresStore) RetryWebhook(ctx context.Context, webhookID string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		UPDATE webhook_queue
		SET status = $1, next_attempt_at = $2, last_error = '', completed_at = NULL
		WHERE id = $3
	`
	return s.execWebhookUpdate(ctx, query, WebhookStatusPending, time.Now().UTC(), webhookID)
}

// DeleteWebhook removes the webhook from the queue.
func (s *PostgresStore) DeleteWebhook(ctx context.Context, webhookID string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	return s.execWebhookUpdate(ctx, `DELETE FROM webhook_queue WHERE id = $1`, webhookID)
}

// execWebhookUpdate runs an update or delete that must touch exactly one
// queue row, mapping a zero row count to ErrNotFound.
func (s *PostgresStore) execWebhookUpdate(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPendingWebhook(s scanner) (PendingWebhook, error) {
	var webhook PendingWebhook
	var payload []byte
	var headersJSON []byte
	var lastAttemptAt sql.NullTime
	var completedAt sql.NullTime

	err := s.Scan(
		&webhook.ID, &webhook.URL, &payload, &headersJSON, &webhook.EventType,
		&webhook.Status, &webhook.Attempts, &webhook.MaxAttempts, &webhook.LastError,
		&lastAttemptAt, &webhook.NextAttemptAt, &webhook.CreatedAt, &completedAt,
	)
	if err != nil {
		return PendingWebhook{}, err
	}

	webhook.Payload = json.RawMessage(payload)
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &webhook.Headers); err != nil {
			return PendingWebhook{}, fmt.Errorf("unmarshal headers: %w", err)
		}
	}
	if lastAttemptAt.Valid {
		webhook.LastAttemptAt = lastAttemptAt.Time
	}
	webhook.CompletedAt = nullTimePtr(completedAt)
	return webhook, nil
}
