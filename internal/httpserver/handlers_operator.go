package httpserver

import (
	"net/http"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/storage"
	"github.com/mrgun/server/pkg/responders"
)

// operatorProfile handles GET /operators/me.
func (h *handlers) operatorProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	op, err := h.backoffice.GetOperator(r.Context(), claims.OperatorID())
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"operator": viewOperator(op),
	})
}

// operatorBalance handles GET /operators/me/balance.
func (h *handlers) operatorBalance(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	op, err := h.backoffice.GetOperator(r.Context(), claims.OperatorID())
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"balance":         op.Balance,
		"total_recharged": op.TotalRecharged,
		"total_consumed":  op.TotalConsumed,
	})
}

// operatorTransactions handles GET /operators/me/transactions. An
// optional type query narrows to one ledger entry kind.
func (h *handlers) operatorTransactions(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	filter := storage.TransactionFilter{OperatorID: claims.OperatorID()}
	if raw := r.URL.Query().Get("type"); raw != "" {
		t := storage.TransactionType(raw)
		if !t.Valid() {
			errors.WriteErrorWithDetail(w, errors.ErrCodeInvalidField, "unknown transaction type", "field", "type")
			return
		}
		filter.Type = t
	}

	page := pageFromQuery(r)
	items, total, err := h.backoffice.ListTransactions(r.Context(), filter, page)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, pagedResponse(viewTransactions(items), total, page))
}

// operatorUsageRecords handles GET /operators/me/usage-records.
func (h *handlers) operatorUsageRecords(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	page := pageFromQuery(r)
	items, total, err := h.backoffice.ListUsageRecords(r.Context(), claims.OperatorID(), page)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, pagedResponse(viewUsageRecords(items), total, page))
}
