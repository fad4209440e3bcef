package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
	"github.com/mrgun/server/pkg/responders"
)

type refundApplyPayload struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

// applyRefund handles POST /operators/me/refunds. Omitting amount asks
// for the whole remaining balance back.
func (h *handlers) applyRefund(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	var req refundApplyPayload
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("refund_apply.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}

	var amount *money.Amount
	if req.Amount != "" {
		parsed, err := money.Parse(req.Amount)
		if err != nil {
			errors.WriteSimpleError(w, errors.ErrCodeInvalidAmount, "amount must be a decimal with at most two fraction digits")
			return
		}
		amount = &parsed
	}

	refund, err := h.backoffice.ApplyRefund(r.Context(), claims.OperatorID(), amount, req.Reason)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusCreated, map[string]any{
		"refund": viewRefund(refund),
	})
}

// listOwnRefunds handles GET /operators/me/refunds.
func (h *handlers) listOwnRefunds(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	filter := storage.RefundFilter{OperatorID: claims.OperatorID()}
	if !refundStatusFromQuery(w, r, &filter.Status) {
		return
	}

	page := pageFromQuery(r)
	items, total, err := h.backoffice.ListRefunds(r.Context(), filter, page)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, pagedResponse(viewRefunds(items), total, page))
}

// financeListRefunds handles GET /finance/refunds across all operators.
func (h *handlers) financeListRefunds(w http.ResponseWriter, r *http.Request) {
	filter := storage.RefundFilter{OperatorID: r.URL.Query().Get("operator_id")}
	if !refundStatusFromQuery(w, r, &filter.Status) {
		return
	}

	page := pageFromQuery(r)
	items, total, err := h.backoffice.ListRefunds(r.Context(), filter, page)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, pagedResponse(viewRefunds(items), total, page))
}

// refundStatusFromQuery reads an optional status filter, writing the
// rejection itself when the value is not a refund status.
func refundStatusFromQuery(w http.ResponseWriter, r *http.Request, dest *storage.RefundStatus) bool {
	raw := r.URL.Query().Get("status")
	if raw == "" {
		return true
	}
	st := storage.RefundStatus(raw)
	if !st.Valid() {
		errors.WriteErrorWithDetail(w, errors.ErrCodeInvalidField, "unknown refund status", "field", "status")
		return false
	}
	*dest = st
	return true
}

type refundReviewPayload struct {
	AdminNote    string `json:"admin_note"`
	RejectReason string `json:"reject_reason"`
}

func decodeOptionalReview(w http.ResponseWriter, r *http.Request, event string) (refundReviewPayload, bool) {
	var req refundReviewPayload
	if r.ContentLength == 0 {
		return req, true
	}
	if err := decodeJSON(r.Body, &req); err != nil {
		logger.FromContext(r.Context()).Warn().Err(err).Msg(event + ".invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return req, false
	}
	return req, true
}

// financeApproveRefund handles POST /finance/refunds/{id}/approve.
func (h *handlers) financeApproveRefund(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}
	req, ok := decodeOptionalReview(w, r, "refund_approve")
	if !ok {
		return
	}

	refund, err := h.backoffice.ApproveRefund(r.Context(), chi.URLParam(r, "id"), claims.Subject, req.AdminNote)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"refund": viewRefund(refund),
	})
}

// financeRejectRefund handles POST /finance/refunds/{id}/reject.
func (h *handlers) financeRejectRefund(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}
	req, ok := decodeOptionalReview(w, r, "refund_reject")
	if !ok {
		return
	}

	refund, err := h.backoffice.RejectRefund(r.Context(), chi.URLParam(r, "id"), claims.Subject, req.RejectReason)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"refund": viewRefund(refund),
	})
}

// financeCompleteRefund handles POST /finance/refunds/{id}/complete:
// the payout reached the operator, close the approved request. The
// balance already moved at approval.
func (h *handlers) financeCompleteRefund(w http.ResponseWriter, r *http.Request) {
	refund, err := h.backoffice.CompleteRefund(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"refund": viewRefund(refund),
	})
}
