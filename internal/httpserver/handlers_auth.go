package httpserver

import (
	"net/http"

	"github.com/mrgun/server/internal/auth"
	"github.com/mrgun/server/internal/backoffice"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/pkg/responders"
)

type registerRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	DisplayName   string `json:"display_name"`
	ContactPerson string `json:"contact_person"`
	ContactPhone  string `json:"contact_phone"`
	Email         string `json:"email"`
}

// registerOperator handles POST /auth/operators/register.
func (h *handlers) registerOperator(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req registerRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("register.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}

	op, err := h.backoffice.RegisterOperator(r.Context(), backoffice.RegisterParams{
		Username:      req.Username,
		Password:      req.Password,
		DisplayName:   req.DisplayName,
		ContactPerson: req.ContactPerson,
		ContactPhone:  req.ContactPhone,
		Email:         req.Email,
	})
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusCreated, map[string]any{
		"operator": viewOperator(op),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (req *loginRequest) validate(w http.ResponseWriter) bool {
	if req.Username == "" {
		errors.WriteErrorWithDetail(w, errors.ErrCodeMissingField, "username is required", "field", "username")
		return false
	}
	if req.Password == "" {
		errors.WriteErrorWithDetail(w, errors.ErrCodeMissingField, "password is required", "field", "password")
		return false
	}
	return true
}

// operatorLogin handles POST /auth/operators/login.
func (h *handlers) operatorLogin(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req loginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("login.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}
	if !req.validate(w) {
		return
	}

	op, err := h.backoffice.AuthenticateOperator(r.Context(), req.Username, req.Password)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	token, err := h.tokens.IssueOperatorToken(op.OperatorID)
	if err != nil {
		log.Error().Err(err).Str("operator_id", op.OperatorID).Msg("login.token_mint_failed")
		errors.WriteSimpleError(w, errors.ErrCodeInternalError, "could not issue session token")
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveTokenIssued(string(auth.TokenOperator))
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"expires_in":   int(h.tokens.TTL(auth.TokenOperator).Seconds()),
		"operator":     viewOperator(op),
	})
}

// adminLogin handles POST /auth/admins/login. The minted token carries
// the admin or finance type claim depending on the account's role.
func (h *handlers) adminLogin(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req loginRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("admin_login.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}
	if !req.validate(w) {
		return
	}

	admin, err := h.backoffice.AuthenticateAdmin(r.Context(), req.Username, req.Password)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	token, err := h.tokens.IssueAdminToken(admin.AdminID, admin.Role)
	if err != nil {
		log.Error().Err(err).Str("admin_id", admin.AdminID).Msg("admin_login.token_mint_failed")
		errors.WriteSimpleError(w, errors.ErrCodeInternalError, "could not issue session token")
		return
	}
	if h.metrics != nil {
		kind := auth.TokenAdmin
		if admin.Role.IsFinance() {
			kind = auth.TokenFinance
		}
		h.metrics.ObserveTokenIssued(string(kind))
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"expires_in":   int(h.tokens.TTL(auth.TokenAdmin).Seconds()),
		"user": map[string]any{
			"id":           admin.AdminID,
			"username":     admin.Username,
			"display_name": admin.DisplayName,
			"role":         string(admin.Role),
		},
	})
}
