package httpserver

import (
	"net/http"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
	"github.com/mrgun/server/pkg/responders"
)

type rechargeOrderPayload struct {
	Amount        string `json:"amount"`
	PaymentMethod string `json:"payment_method"`
}

// createRechargeOrder handles POST /operators/me/recharges. The order
// opens pending; the balance is credited only by the gateway callback.
func (h *handlers) createRechargeOrder(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	var req rechargeOrderPayload
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("recharge_create.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}
	if req.Amount == "" {
		errors.WriteErrorWithDetail(w, errors.ErrCodeMissingField, "amount is required", "field", "amount")
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidAmount, "amount must be a decimal with at most two fraction digits")
		return
	}

	order, err := h.backoffice.CreateRechargeOrder(r.Context(), claims.OperatorID(), amount, storage.PaymentMethod(req.PaymentMethod))
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusCreated, map[string]any{
		"order": viewRechargeOrder(order),
	})
}

// listRechargeOrders handles GET /operators/me/recharges.
func (h *handlers) listRechargeOrders(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	page := pageFromQuery(r)
	items, total, err := h.backoffice.ListRechargeOrders(r.Context(), claims.OperatorID(), page)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, pagedResponse(viewRechargeOrders(items), total, page))
}

type gatewayNotifyPayload struct {
	OrderID string `json:"order_id"`
	Success bool   `json:"success"`
}

// rechargeNotify handles POST /payments/recharge/notify, the payment
// gateway's completion webhook. The gateway retries until it sees a 2xx,
// so repeats of a settled order must answer ok without moving money.
func (h *handlers) rechargeNotify(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req gatewayNotifyPayload
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("recharge_notify.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}
	if req.OrderID == "" {
		errors.WriteErrorWithDetail(w, errors.ErrCodeMissingField, "order_id is required", "field", "order_id")
		return
	}

	order, err := h.backoffice.HandleGatewayNotification(r.Context(), req.OrderID, req.Success)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  string(order.Status),
	})
}
