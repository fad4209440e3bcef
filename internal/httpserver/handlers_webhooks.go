package httpserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/storage"
	"github.com/mrgun/server/pkg/responders"
)

// limitFromQuery reads an optional limit parameter, writing the
// rejection itself when the value is out of range.
func limitFromQuery(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > 1000 {
		errors.WriteErrorWithDetail(w, errors.ErrCodeInvalidField, "limit must be between 1 and 1000", "field", "limit")
		return 0, false
	}
	return limit, true
}

// adminListWebhooks handles GET /admin/webhooks. An optional status
// query narrows to one queue state.
func (h *handlers) adminListWebhooks(w http.ResponseWriter, r *http.Request) {
	var status storage.WebhookStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = storage.WebhookStatus(raw)
		if !storage.ValidWebhookStatus(status) {
			errors.WriteErrorWithDetail(w, errors.ErrCodeInvalidField, "status must be pending, processing, failed or success", "field", "status")
			return
		}
	}
	limit, ok := limitFromQuery(w, r, 100)
	if !ok {
		return
	}

	webhooks, err := h.store.ListWebhooks(r.Context(), status, limit)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"webhooks": webhooks,
		"count":    len(webhooks),
	})
}

// adminGetWebhook handles GET /admin/webhooks/{id}.
func (h *handlers) adminGetWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, err := h.store.GetWebhook(r.Context(), chi.URLParam(r, "id"))
	if err == storage.ErrNotFound {
		errors.WriteSimpleError(w, errors.ErrCodeWebhookNotFound, "webhook not found")
		return
	}
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"webhook": webhook})
}

/// adminRetryWebhook handles POST /admin/webhooks/{id}/retry: reset a
// failed delivery to pending for an immediate attempt.
func (h *handlers) adminRetryWebhook(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "id")
	if err := h.store.RetryWebhook(r.Context(), webhookID); err != nil {
		if err == storage.ErrNotFound {
			errors.WriteSimpleError(w, errors.ErrCodeWebhookNotFound, "webhook not found")
			return
		}
		errors.WriteServiceError(w, err)
		return
	}

	logger.FromContext(r.Context()).Info().
		Str("webhook_id", webhookID).
		Msg("webhook_admin.retry_queued")
	responders.JSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"webhook_id": webhookID,
	})
}

// adminDeleteWebhook handles DELETE /admin/webhooks/{id}.
func (h *handlers) adminDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteWebhook(r.Context(), chi.URLParam(r, "id")); err != nil {
		if err == storage.ErrNotFound {
			errors.WriteSimpleError(w, errors.ErrCodeWebhookNotFound, "webhook not found")
			return
		}
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"success": true})
}

// adminListDeadLetters handles GET /admin/webhooks/dead-letters.
// Letters come back oldest failure first so requeueing drains the
// backlog in arrival order.
func (h *handlers) adminListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitFromQuery(w, r, 100)
	if !ok {
		return
	}

	letters, err := h.deadLetters.ListDeadLetters(r.Context(), limit)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"dead_letters": letters,
		"count":        len(letters),
	})
}

// adminGetDeadLetter handles GET /admin/webhooks/dead-letters/{id}.
func (h *handlers) adminGetDeadLetter(w http.ResponseWriter, r *http.Request) {
	letter, err := h.deadLetters.GetDeadLetter(r.Context(), chi.URLParam(r, "id"))
	if err == storage.ErrNotFound {
		errors.WriteSimpleError(w, errors.ErrCodeWebhookNotFound, "dead letter not found")
		return
	}
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"dead_letter": letter})
}

// adminRequeueDeadLetter handles POST
// /admin/webhooks/dead-letters/{id}/requeue. The letter re-enters the
// live delivery queue with a fresh attempt budget and leaves the
// graveyard only after the enqueue succeeded.
func (h *handlers) adminRequeueDeadLetter(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	letterID := chi.URLParam(r, "id")

	letter, err := h.deadLetters.GetDeadLetter(r.Context(), letterID)
	if err == storage.ErrNotFound {
		errors.WriteSimpleError(w, errors.ErrCodeWebhookNotFound, "dead letter not found")
		return
	}
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	webhookID, err := h.store.EnqueueWebhook(r.Context(), storage.PendingWebhook{
		URL:       letter.URL,
		Payload:   letter.Payload,
		Headers:   letter.Headers,
		EventType: letter.EventType,
	})
	if err != nil {
		log.Error().Err(err).Str("dead_letter_id", letterID).Msg("dead_letter.requeue_failed")
		errors.WriteServiceError(w, err)
		return
	}
	if err := h.deadLetters.DeleteDeadLetter(r.Context(), letterID); err != nil {
		// The webhook is already queued; a stale letter row is the
		// lesser failure and the admin can delete it by hand.
		log.Warn().Err(err).Str("dead_letter_id", letterID).Msg("dead_letter.cleanup_failed")
	}

	log.Info().
		Str("dead_letter_id", letterID).
		Str("webhook_id", webhookID).
		Str("event_type", letter.EventType).
		Msg("dead_letter.requeued")
	responders.JSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"webhook_id": webhookID,
	})
}

// adminDeleteDeadLetter handles DELETE /admin/webhooks/dead-letters/{id}.
func (h *handlers) adminDeleteDeadLetter(w http.ResponseWriter, r *http.Request) {
	if err := h.deadLetters.DeleteDeadLetter(r.Context(), chi.URLParam(r, "id")); err != nil {
		if err == storage.ErrNotFound {
			errors.WriteSimpleError(w, errors.ErrCodeWebhookNotFound, "dead letter not found")
			return
		}
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"success": true})
}

// adminPurgeDeadLetters handles DELETE /admin/webhooks/dead-letters.
func (h *handlers) adminPurgeDeadLetters(w http.ResponseWriter, r *http.Request) {
	purged, err := h.deadLetters.PurgeDeadLetters(r.Context())
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	logger.FromContext(r.Context()).Info().
		Int64("purged", purged).
		Msg("dead_letter.purged")
	responders.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"purged":  purged,
	})
}
