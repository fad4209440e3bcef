package billing

import (
	"context"

	"github.com/mrgun/server/internal/authz"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/storage"
)

// LaunchResult names the application a headset token was cleared for.
type LaunchResult struct {
	AppCode string
	AppName string
	SiteID  string
}

// Launch checks that an operator may hand a headset a session token for
// an application at one of its sites: account standing, active catalog
// entry, unexpired grant and usable owned site. Balance is not part of
// the check; the debit path prices and enforces it per session.
func (s *Service) Launch(ctx context.Context, operatorID, appCode, siteID string) (*LaunchResult, error) {
	var app *storage.Application
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		op, err := tx.GetOperator(ctx, operatorID)
		if err == storage.ErrOperatorNotFound {
			return errors.New(errors.ErrCodeOperatorNotFound, "operator not found")
		}
		if err != nil {
			return err
		}
		app, err = authz.EvaluateLaunch(ctx, tx, op, appCode, siteID, s.now())
		return err
	})
	if err != nil {
		if _, ok := errors.AsError(err); ok {
			return nil, err
		}
		return nil, s.classified(ctx, "launch", err)
	}

	return &LaunchResult{
		AppCode: app.AppCode,
		AppName: app.AppName,
		SiteID:  siteID,
	}, nil
}
