package httpserver

import (
	"net/http"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/storage"
	"github.com/mrgun/server/pkg/responders"
)

// listCatalog handles GET /applications: the active game catalog every
// operator can browse. Disabled titles stay hidden here; admins see
// them through the back-office listing instead.
func (h *handlers) listCatalog(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r)
	items, total, err := h.backoffice.ListApplications(r.Context(), true, page)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, pagedResponse(viewApplications(items), total, page))
}

// listGrantedApplications handles GET /operators/me/applications.
func (h *handlers) listGrantedApplications(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	granted, err := h.backoffice.ListGrantedApplications(r.Context(), claims.OperatorID())
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"applications": viewGrantedApplications(granted),
	})
}

type applicationRequestPayload struct {
	ApplicationID string `json:"application_id"`
	Reason        string `json:"reason"`
}

// submitApplicationRequest handles POST /operators/me/application-requests.
func (h *handlers) submitApplicationRequest(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	var req applicationRequestPayload
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("application_request.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}
	if req.ApplicationID == "" {
		errors.WriteErrorWithDetail(w, errors.ErrCodeMissingField, "application_id is required", "field", "application_id")
		return
	}

	request, err := h.backoffice.SubmitApplicationRequest(r.Context(), claims.OperatorID(), req.ApplicationID, req.Reason)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusCreated, map[string]any{
		"request": viewApplicationRequest(request),
	})
}

// listOwnApplicationRequests handles GET /operators/me/application-requests.
func (h *handlers) listOwnApplicationRequests(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	filter := storage.ApplicationRequestFilter{OperatorID: claims.OperatorID()}
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
