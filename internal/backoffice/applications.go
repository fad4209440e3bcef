package backoffice

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
)

// appCodePattern is the shape headsets embed in launch URLs: short,
// lowercase, URL-safe.
var appCodePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

// ApplicationParams carries a new catalogue entry.
type ApplicationParams struct {
	AppCode     string
	AppName     string
	Description string
	UnitPrice   money.Amount
	MinPlayers  int
	MaxPlayers  int
}

// ApplicationUpdate holds a partial catalogue edit. Nil fields keep
// their current value. The app code is immutable once created because
// installed game builds carry it.
type ApplicationUpdate struct {
	AppName     *string
	Description *string
	UnitPrice   *money.Amount
	MinPlayers  *int
	MaxPlayers  *int
	IsActive    *bool
}

// CreateApplication adds a game to the catalogue.
func (s *Service) CreateApplication(ctx context.Context, p ApplicationParams) (*storage.Application, error) {
	code := strings.TrimSpace(p.AppCode)
	if code == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "app code is required").
			WithDetail("field", "app_code")
	}
	if !appCodePattern.MatchString(code) {
		return nil, errors.Newf(errors.ErrCodeInvalidField, "app code %q is not a valid code", code).
			WithDetail("field", "app_code")
	}
	name := strings.TrimSpace(p.AppName)
	if name == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "app name is required").
			WithDetail("field", "app_name")
	}
	if !p.UnitPrice.IsPositive() {
		return nil, errors.New(errors.ErrCodeInvalidAmount, "unit price must be positive")
	}
	if err := validPlayerRange(p.MinPlayers, p.MaxPlayers); err != nil {
		return nil, err
	}

	now := s.now()
	app := &storage.Application{
		ApplicationID: uuid.New().String(),
		AppCode:       code,
		AppName:       name,
		Description:   strings.TrimSpace(p.Description),
		UnitPrice:     p.UnitPrice,
		MinPlayers:    p.MinPlayers,
		MaxPlayers:    p.MaxPlayers,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.runTx(ctx, "app_create", func(ctx context.Context, tx storage.Tx) error {
		if err := tx.CreateApplication(ctx, app); err == storage.ErrDuplicateAppCode {
			return errors.Newf(errors.ErrCodeInvalidRequest, "app code %q already exists", code).
				WithDetail("field", "app_code")
		} else if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("application_id", app.ApplicationID).
		Str("app_code", app.AppCode).
		Str("unit_price", app.UnitPrice.String()).
		Msg("app_create.created")
	return app, nil
}

// UpdateApplication applies a partial catalogue edit.
func (s *Service) UpdateApplication(ctx context.Context, applicationID string, u ApplicationUpdate) (*storage.Application, error) {
	var app *storage.Application
	err := s.runTx(ctx, "app_update", func(ctx context.Context, tx storage.Tx) error {
		var err error
		app, err = tx.GetApplication(ctx, applicationID)
		if err == storage.ErrNotFound {
			return errors.New(errors.ErrCodeAppNotFound, "application not found")
		}
		if err != nil {
			return err
		}

		if u.AppName != nil {
			name := strings.TrimSpace(*u.AppName)
			if name == "" {
				return errors.New(errors.ErrCodeInvalidField, "app name cannot be empty").
					WithDetail("field", "app_name")
			}
			app.AppName = name
		}
		if u.Description != nil {
			app.Description = strings.TrimSpace(*u.Description)
		}
		if u.UnitPrice != nil {
			if !u.UnitPrice.IsPositive() {
				return errors.New(errors.ErrCodeInvalidAmount, "unit price must be positive")
			}
			app.UnitPrice = *u.UnitPrice
		}
		if u.MinPlayers != nil {
			app.MinPlayers = *u.MinPlayers
		}
		if u.MaxPlayers != nil {
			app.MaxPlayers = *u.MaxPlayers
		}
		if err := validPlayerRange(app.MinPlayers, app.MaxPlayers); err != nil {
			return err
		}
		if u.IsActive != nil {
			app.IsActive = *u.IsActive
		}
		app.UpdatedAt = s.now()
		return tx.UpdateApplication(ctx, app)
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// GetApplication loads one catalogue entry.
func (s *Service) GetApplication(ctx context.Context, applicationID string) (*storage.Application, error) {
	var app *storage.Application
	err := s.readTx(ctx, "app_get", func(ctx context.Context, tx storage.Tx) error {
		var err error
		app, err = tx.GetApplication(ctx, applicationID)
		if err == storage.ErrNotFound {
			return errors.New(errors.ErrCodeAppNotFound, "application not found")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// ListApplications pages through the catalogue. onlyActive hides
// withdrawn games, which is what the operator-facing catalogue wants;
// admins pass false and see everything.
func (s *Service) ListApplications(ctx context.Context, onlyActive bool, page storage.Page) ([]storage.Application, int, error) {
	var (
		apps  []storage.Application
		total int
	)
	err := s.readTx(ctx, "app_list", func(ctx context.Context, tx storage.Tx) error {
		var err error
		apps, total, err = tx.ListApplications(ctx, onlyActive, page)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return apps, total, nil
}

// GrantedApplication pairs a catalogue entry with the grant that makes
// it playable for the operator.
type GrantedApplication struct {
	Application storage.Application
	GrantedAt   time.Time
	ExpiresAt   *time.Time
}

// ListGrantedApplications returns the applications the operator may
// launch right now. Expired grants drop out of the list; a withdrawn
// app still shows with is_active false so venues can see why launches
// fail.
func (s *Service) ListGrantedApplications(ctx context.Context, operatorID string) ([]GrantedApplication, error) {
	now := s.now()
	var granted []GrantedApplication
	err := s.readTx(ctx, "granted_list", func(ctx context.Context, tx storage.Tx) error {
		apps, err := tx.ListAuthorizedApplications(ctx, operatorID)
		if err != nil {
			return err
		}
		out := make([]GrantedApplication, 0, len(apps))
		for _, app := range apps {
			grant, err := tx.GetAuthorization(ctx, operatorID, app.ApplicationID)
			if err == storage.ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if !grant.IsActiveAt(now) {
				continue
			}
			out = append(out, GrantedApplication{
				Application: app,
				GrantedAt:   grant.GrantedAt,
				ExpiresAt:   grant.ExpiresAt,
			})
		}
		granted = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return granted, nil
}

// SubmitApplicationRequest files an operator's request for access to a
// catalogue entry. One pending request per operator/application pair;
// a still-active grant makes a new request pointless and is rejected.
func (s *Service) SubmitApplicationRequest(ctx context.Context, operatorID, applicationID, reason string) (*storage.ApplicationRequest, error) {
	req := &storage.ApplicationRequest{
		RequestID:     uuid.New().String(),
		OperatorID:    operatorID,
		ApplicationID: applicationID,
		Reason:        strings.TrimSpace(reason),
		Status:        storage.RequestStatusPending,
		CreatedAt:     s.now(),
	}

	err := s.runTx(ctx, "app_request_submit", func(ctx context.Context, tx storage.Tx) error {
		app, err := tx.GetApplication(ctx, applicationID)
		if err == storage.ErrNotFound {
			return errors.New(errors.ErrCodeAppNotFound, "application not found")
		}
		if err != nil {
			return err
		}
		if !app.IsActive {
			return errors.Newf(errors.ErrCodeAppNotFound, "application %q is not available", app.AppCode)
		}

		grant, err := tx.GetAuthorization(ctx, operatorID, applicationID)
		if err == nil && grant.IsActiveAt(s.now()) {
			return errors.New(errors.ErrCodeInvalidState, "application is already authorised")
		}
		if err != nil && err != storage.ErrNotFound {
			return err
		}

		if _, err := tx.FindPendingApplicationRequest(ctx, operatorID, applicationID); err == nil {
			return errors.New(errors.ErrCodeInvalidState, "a request for this application is already pending")
		} else if err != storage.ErrNotFound {
			return err
		}

		return tx.CreateApplicationRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("operator_id", operatorID).
		Str("application_id", applicationID).
		Str("request_id", req.RequestID).
		Msg("app_request_submit.created")
	return req, nil
}

// ListApplicationRequests pages through grant requests. Operators see
// their own via the filter; admins filter by status.
func (s *Service) ListApplicationRequests(ctx context.Context, filter storage.ApplicationRequestFilter, page storage.Page) ([]storage.ApplicationRequest, int, error) {
	var (
		reqs  []storage.ApplicationRequest
		total int
	)
	err := s.readTx(ctx, "app_request_list", func(ctx context.Context, tx storage.Tx) error {
		var err error
		reqs, total, err = tx.ListApplicationRequests(ctx, filter, page)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return reqs, total, nil
}

// ReviewParams carries an admin's decision on a grant request.
type ReviewParams struct {
	Approve   bool
	AdminNote string
	// ExpiresAt bounds the grant when approving; nil grants forever.
	ExpiresAt *time.Time
}

// ReviewApplicationRequest settles a pending request. Approval writes
// the grant in the same transaction, so a request never reads as
// approved without its authorisation existing.
func (s *Service) ReviewApplicationRequest(ctx context.Context, requestID, reviewerID string, p ReviewParams) (*storage.ApplicationRequest, error) {
	var req *storage.ApplicationRequest
	err := s.runTx(ctx, "app_request_review", func(ctx context.Context, tx storage.Tx) error {
		var err error
		req, err = tx.GetApplicationRequest(ctx, requestID)
		if err == storage.ErrNotFound {
			return errors.New(errors.ErrCodeRequestNotFound, "application request not found")
		}
		if err != nil {
			return err
		}
		if req.Status != storage.RequestStatusPending {
			return errors.Newf(errors.ErrCodeInvalidState, "request is already %s", req.Status)
		}

		now := s.now()
		req.ReviewerID = reviewerID
		req.AdminNote = strings.TrimSpace(p.AdminNote)
		req.ReviewedAt = &now
		if p.Approve {
			req.Status = storage.RequestStatusApproved
			grant := &storage.Authorization{
				OperatorID:    req.OperatorID,
				ApplicationID: req.ApplicationID,
				GrantedBy:     reviewerID,
				GrantedAt:     now,
				ExpiresAt:     p.ExpiresAt,
			}
			if err := tx.UpsertAuthorization(ctx, grant); err != nil {
				return err
			}
		} else {
			req.Status = storage.RequestStatusRejected
		}
		return tx.UpdateApplicationRequest(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("request_id", requestID).
		Str("reviewer_id", reviewerID).
		Str("status", string(req.Status)).
		Msg("app_request_review.settled")
	return req, nil
}

// validPlayerRange enforces the catalogue's player count bounds.
func validPlayerRange(min, max int) error {
	if min < 1 {
		return errors.New(errors.ErrCodeInvalidField, "min players must be at least 1").
			WithDetail("field", "min_players")
	}
	if max < min {
		return errors.New(errors.ErrCodeInvalidField, "max players cannot be below min players").
			WithDetail("field", "max_players")
	}
	return nil
}
