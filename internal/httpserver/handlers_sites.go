package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mrgun/server/internal/backoffice"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/storage"
	"github.com/mrgun/server/pkg/responders"
)

type sitePayload struct {
	Name          string `json:"name"`
	Address       string `json:"address"`
	ContactPerson string `json:"contact_person"`
	ContactPhone  string `json:"contact_phone"`
}

// createSite handles POST /operators/me/sites.
func (h *handlers) createSite(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	var req sitePayload
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("site_create.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}

	site, err := h.backoffice.CreateSite(r.Context(), claims.OperatorID(), backoffice.SiteParams{
		Name:          req.Name,
		Address:       req.Address,
		ContactPerson: req.ContactPerson,
		ContactPhone:  req.ContactPhone,
	})
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusCreated, map[string]any{
		"site": viewSite(site),
	})
}

// listSites handles GET /operators/me/sites.
func (h *handlers) listSites(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	sites, err := h.backoffice.ListSites(r.Context(), claims.OperatorID())
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"sites": viewSites(sites),
	})
}

type siteUpdatePayload struct {
	Name          *string `json:"name"`
	Address       *string `json:"address"`
	ContactPerson *string `json:"contact_person"`
	ContactPhone  *string `json:"contact_phone"`
	IsActive      *bool   `json:"is_active"`
}

// updateSite handles PUT /operators/me/sites/{id}.
func (h *handlers) updateSite(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}
	siteID, ok := storage.NormalizeSiteID(chi.URLParam(r, "id"))
	if !ok {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidSiteID, "site_id must be site_<uuid> or a bare uuid")
		return
	}

	var req siteUpdatePayload
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("site_update.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}

	site, err := h.backoffice.UpdateSite(r.Context(), claims.OperatorID(), siteID, backoffice.SiteUpdate{
		Name:          req.Name,
		Address:       req.Address,
		ContactPerson: req.ContactPerson,
		ContactPhone:  req.ContactPhone,
		IsActive:      req.IsActive,
	})
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"site": viewSite(site),
	})
}

// deleteSite handles DELETE /operators/me/sites/{id}.
func (h *handlers) deleteSite(w http.ResponseWriter, r *http.Request) {
	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}
	siteID, ok := storage.NormalizeSiteID(chi.URLParam(r, "id"))
	if !ok {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidSiteID, "site_id must be site_<uuid> or a bare uuid")
		return
	}

	if err := h.backoffice.DeleteSite(r.Context(), claims.OperatorID(), siteID); err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"success": true})
}
