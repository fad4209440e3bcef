package httpserver

import (
	"net/http"
	"time"

	"github.com/mrgun/server/internal/auth"
	"github.com/mrgun/server/internal/authz"
	"github.com/mrgun/server/internal/billing"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/storage"
	"github.com/mrgun/server/pkg/responders"
)

type launchRequest struct {
	AppCode string `json:"app_code"`
	SiteID  string `json:"site_id"`
}

// gameLaunch handles POST /auth/game/launch. An operator session asks
// for a headset token bound to one application and one site; the token
// is what the headset server presents on the game endpoints. Player
// count and balance are not examined here, only standing, grant and
// site ownership.
func (h *handlers) gameLaunch(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	var req launchRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("launch.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}
	if req.AppCode == "" {
		errors.WriteErrorWithDetail(w, errors.ErrCodeMissingField, "app_code is required", "field", "app_code")
		return
	}
	siteID, ok := storage.NormalizeSiteID(req.SiteID)
	if !ok {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidSiteID, "site_id must be site_<uuid> or a bare uuid")
		return
	}

	res, err := h.billing.Launch(r.Context(), claims.OperatorID(), req.AppCode, siteID)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	token, err := h.tokens.IssueHeadsetToken(claims.OperatorID(), res.AppCode, res.SiteID)
	if err != nil {
		log.Error().Err(err).Str("operator_id", claims.OperatorID()).Msg("launch.token_mint_failed")
		errors.WriteSimpleError(w, errors.ErrCodeInternalError, "could not issue headset token")
		return
	}
	if h.metrics != nil {
		h.metrics.ObserveTokenIssued(string(auth.TokenHeadset))
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(h.tokens.TTL(auth.TokenHeadset).Seconds()),
		"app_code":   res.AppCode,
		"site_id":    res.SiteID,
	})
}

type gameAuthRequest struct {
	AppCode     string   `json:"app_code"`
	SiteID      string   `json:"site_id"`
	PlayerCount int      `json:"player_count"`
	HeadsetIDs  []string `json:"headset_ids"`
}

// toEngineRequest validates the shared authorisation body and writes
// the rejection itself when a field is unusable.
func (req *gameAuthRequest) toEngineRequest(w http.ResponseWriter) (authz.Request, bool) {
	if req.AppCode == "" {
		errors.WriteErrorWithDetail(w, errors.ErrCodeMissingField, "app_code is required", "field", "app_code")
		return authz.Request{}, false
	}
	siteID, ok := storage.NormalizeSiteID(req.SiteID)
	if !ok {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidSiteID, "site_id must be site_<uuid> or a bare uuid")
		return authz.Request{}, false
	}
	if req.PlayerCount < 1 {
		errors.WriteSimpleError(w, errors.ErrCodeInvalidPlayerCount, "player_count must be a positive integer")
		return authz.Request{}, false
	}
	return authz.Request{
		AppCode:     req.AppCode,
		SiteID:      siteID,
		PlayerCount: req.PlayerCount,
	}, true
}

// gamePreAuthorize handles POST /auth/game/pre-authorize. Prices the
// candidate session without reserving anything; a rule failure answers
// with that rule's error kind, not a soft can_authorize=false.
func (h *handlers) gamePreAuthorize(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	var req gameAuthRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("pre_authorize.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}
	engineReq, ok := req.toEngineRequest(w)
	if !ok {
		return
	}

	res, err := h.billing.PreAuthorize(r.Context(), claims.OperatorID(), engineReq)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"can_authorize":   res.CanAuthorize,
		"app_name":        res.AppName,
		"unit_price":      res.UnitPrice,
		"total_cost":      res.TotalCost,
		"current_balance": res.CurrentBalance,
	})
}

// gameAuthorize handles POST /auth/game/authorize: the paid settle. A
// repeat of the same business key inside the replay window answers with
// the already-settled session and moves no money.
func (h *handlers) gameAuthorize(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	var req gameAuthRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("authorize.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}
	engineReq, ok := req.toEngineRequest(w)
	if !ok {
		return
	}

	res, err := h.billing.Authorize(r.Context(), claims.OperatorID(), engineReq)
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"session_id":    res.SessionID,
		"app_name":      res.AppName,
		"player_count":  res.PlayerCount,
		"unit_price":    res.UnitPrice,
		"total_cost":    res.TotalCost,
		"balance_after": res.BalanceAfter,
		"authorized_at": wireTime(res.AuthorizedAt),
	})
}

type headsetRecordPayload struct {
	DeviceID    string     `json:"device_id"`
	DeviceName  string     `json:"device_name"`
	StartTime   *time.Time `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	ProcessInfo string     `json:"process_info"`
}

type sessionUploadRequest struct {
	SessionID      string                 `json:"session_id"`
	StartTime      *time.Time             `json:"start_time"`
	EndTime        *time.Time             `json:"end_time"`
	ProcessInfo    string                 `json:"process_info"`
	HeadsetDevices []headsetRecordPayload `json:"headset_devices"`
}

// gameSessionUpload handles POST /auth/game/session/upload. Telemetry
// replaces wholesale; money never moves here.
func (h *handlers) gameSessionUpload(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	claims, ok := requestClaims(w, r)
	if !ok {
		return
	}

	var req sessionUploadRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("session_upload.invalid_body")
		errors.WriteSimpleError(w, errors.ErrCodeInvalidField, "malformed request body")
		return
	}
	if req.SessionID == "" {
		errors.WriteErrorWithDetail(w, errors.ErrCodeMissingField, "session_id is required", "field", "session_id")
		return
	}

	headsets := make([]storage.HeadsetGameRecord, 0, len(req.HeadsetDevices))
	for _, d := range req.HeadsetDevices {
		rec := storage.HeadsetGameRecord{
			DeviceID:    d.DeviceID,
			DeviceName:  d.DeviceName,
			EndTime:     d.EndTime,
			ProcessInfo: d.ProcessInfo,
		}
		if d.StartTime != nil {
			rec.StartTime = *d.StartTime
		}
		headsets = append(headsets, rec)
	}

	err := h.billing.UploadSession(r.Context(), claims.OperatorID(), billing.SessionUpload{
		SessionID:   req.SessionID,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		ProcessInfo: req.ProcessInfo,
		Headsets:    headsets,
	})
	if err != nil {
		errors.WriteServiceError(w, err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{"success": true})
}
