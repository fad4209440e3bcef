package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mrgun/server/internal/backoffice"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
	"github.com/mrgun/server/pkg/responders"
)

// operatorIDParam reads the {id} route parameter, accepting both the
// canonical op_<uuid> form and a bare uuid. A string that is neither
// passes through untouched and fails lookup as not found.
func operatorIDParam(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if normalized, ok := storage.NormalizeOperatorID(raw); ok {
		return normalized
	}
	return raw
}

// adminListOperators handles GET /admin/operators.
func (h *handlers) adminListOperators(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	items, total, err := h.backoffice.ListOperators(r.Context(), page)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, pagedResponse(viewOperators(items), total, page))
}

// adminGetOperator handles GET /admin/operators/{id}.
func (h *handlers) adminGetOperator(w http.ResponseWriter, r *http.Request) {
	op, err := h.backoffice.GetOperator(r.Context(), operatorIDParam(r))
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"operator": viewOperator(op),
	})
}

type lockPayload struct {
	Reason string `json:"reason"`
}

// adminLockOperator handles POST /admin/operators/{id}/lock. A locked
// operator keeps read access but cannot authorise sessions.
func (h *handlers) adminLockOperator(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req lockPayload
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("operator_lock.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}

	op, err := h.backoffice.LockOperator(r.Context(), operatorIDParam(r), req.Reason)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"operator": viewOperator(op),
	})
}

// adminUnlockOperator handles POST /admin/operators/{id}/unlock.
func (h *handlers) adminUnlockOperator(w http.ResponseWriter, r *http.Request) {
	op, err := h.backoffice.UnlockOperator(r.Context(), operatorIDParam(r))
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"operator": viewOperator(op),
	})
}

type balanceAdjustmentPayload struct {
	Type   string `json:"type"`
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

// adminAdjustBalance handles POST /admin/operators/{id}/balance-adjustments.
func (h *handlers) adminAdjustBalance(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	var req balanceAdjustmentPayload
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("balance_adjust.invalid_body")
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

	txn, err := h.backoffice.AdjustBalance(r.Context(), operatorIDParam(r), claims.Subject, backoffice.AdjustmentParams{
		Type:   req.Type,
		Amount: amount,
		Reason: req.Reason,
	})
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"transaction": viewTransaction(txn),
	})
}

// adminListApplicationRequests handles GET /admin/application-requests.
func (h *handlers) adminListApplicationRequests(w http.ResponseWriter, r *http.Request) {
	filter := storage.ApplicationRequestFilter{OperatorID: r.URL.Query().Get("operator_id")}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st := storage.RequestStatus(raw)
		if !st.Valid() {
			errors.WriteErrorWithDetail(w, errors.ErrCodeInvalidField, "unknown request status", "field", "status")
			return
		}
		filter.Status = st
	}

	page := pageFromQuery(r)
	items, total, err := h.backoffice.ListApplicationRequests(r.Context(), filter, page)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, pagedResponse(viewApplicationRequests(items), total, page))
}

type requestReviewPayload struct {
	AdminNote string     `json:"admin_note"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func decodeRequestReview(w http.ResponseWriter, r *http.Request, event string) (requestReviewPayload, bool) {
	var req requestReviewPayload
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

// adminApproveApplicationRequest handles POST
// /admin/application-requests/{id}/approve. An expires_at in the body
// bounds the resulting grant; omitted, the grant never expires.
func (h *handlers) adminApproveApplicationRequest(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}
	req, ok := decodeRequestReview(w, r, "request_approve")
	if !ok {
		return
	}

	request, err := h.backoffice.ReviewApplicationRequest(r.Context(), chi.URLParam(r, "id"), claims.Subject, backoffice.ReviewParams{
		Approve:   true,
		AdminNote: req.AdminNote,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"request": viewApplicationRequest(request),
	})
}

// adminRejectApplicationRequest handles POST
// /admin/application-requests/{id}/reject.
func (h *handlers) adminRejectApplicationRequest(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}
	req, ok := decodeRequestReview(w, r, "request_reject")
	if !ok {
		return
	}

	request, err := h.backoffice.ReviewApplicationRequest(r.Context(), chi.URLParam(r, "id"), claims.Subject, backoffice.ReviewParams{
		Approve:   false,
		AdminNote: req.AdminNote,
	})
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"request": viewApplicationRequest(request),
	})
}

type applicationPayload struct {
	AppCode     string `json:"app_code"`
	AppName     string `json:"app_name"`
	Description string `json:"description"`
	UnitPrice   string `json:"unit_price"`
	MinPlayers  int    `json:"min_players"`
	MaxPlayers  int    `json:"max_players"`
}

// adminCreateApplication handles POST /admin/applications.
func (h *handlers) adminCreateApplication(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req applicationPayload
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("application_create.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}
	if req.UnitPrice == "" {
		errors.WriteErrorWithDetail(w, errors.ErrCodeMissingField, "unit_price is required", "field", "unit_price")
		return
	}
	unitPrice, err := money.Parse(req.UnitPrice)
	if err != nil {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidAmount, "unit_price must be a decimal with at most two fraction digits")
		return
	}

	app, err := h.backoffice.CreateApplication(r.Context(), backoffice.ApplicationParams{
		AppCode:     req.AppCode,
		AppName:     req.AppName,
		Description: req.Description,
		UnitPrice:   unitPrice,
		MinPlayers:  req.MinPlayers,
		MaxPlayers:  req.MaxPlayers,
	})
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusCreated, map[string]any{
		"application": viewApplication(app),
	})
}

type applicationUpdatePayload struct {
	AppName     *string `json:"app_name"`
	Description *string `json:"description"`
	UnitPrice   *string `json:"unit_price"`
	MinPlayers  *int    `json:"min_players"`
	MaxPlayers  *int    `json:"max_players"`
	IsActive    *bool   `json:"is_active"`
}

// adminUpdateApplication handles PUT /admin/applications/{id}. Nil
// fields keep their value; the app code is immutable.
func (h *handlers) adminUpdateApplication(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req applicationUpdatePayload
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("application_update.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}

	update := backoffice.ApplicationUpdate{
		AppName:     req.AppName,
		Description: req.Description,
		MinPlayers:  req.MinPlayers,
		MaxPlayers:  req.MaxPlayers,
		IsActive:    req.IsActive,
	}
	if req.UnitPrice != nil {
		parsed, err := money.Parse(*req.UnitPrice)
		if err != nil {
			errors.WriteSimpleError(w, errors.ErrCodeInvalidAmount, "unit_price must be a decimal with at most two fraction digits")
			return
		}
		update.UnitPrice = &parsed
	}

	app, err := h.backoffice.UpdateApplication(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"application": viewApplication(app),
	})
}

// adminListApplications handles GET /admin/applications. Unlike the
// operator catalog this listing includes disabled titles.
func (h *handlers) adminListApplications(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	items, total, err := h.backoffice.ListApplications(r.Context(), false, page)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, pagedResponse(viewApplications(items), total, page))
}
