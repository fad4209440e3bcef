// Package authz decides whether an operator may start a paid game
// session. The rules run in a fixed order against the caller's open
// transaction and evaluation stops at the first violation; the package
// itself holds no state and writes nothing.
package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
)

// Request carries the candidate session parameters. SiteID must already
// be in canonical form (see storage.NormalizeSiteID).
type Request struct {
	AppCode     string
	SiteID      string
	PlayerCount int
}

// Decision is the resolved outcome of a passing evaluation. UnitPrice is
// the catalog price the debit will snapshot; TotalCost is
// UnitPrice x PlayerCount in exact fen.
type Decision struct {
	ApplicationID  string
	AppName        string
	UnitPrice      money.Amount
	TotalCost      money.Amount
	CurrentBalance money.Amount
}

// Evaluate runs the full rule chain for one candidate session. The
// operator row is supplied by the caller, which has already loaded it
// (and locked it on the debit path). The same instant must be passed for
// grant-expiry checks as the caller will stamp on the usage record, so
// that a grant active at evaluation time is active at authorized_at.
//
// Rule violations come back as taxonomy errors; storage faults come back
// wrapped and unclassified.
func Evaluate(ctx context.Context, tx storage.Tx, op *storage.Operator, req Request, now time.Time) (*Decision, error) {
	app, err := evaluateGrant(ctx, tx, op, req.AppCode, req.SiteID, now)
	if err != nil {
		return nil, err
	}

	// 5. Player count inside the application's configured range.
	if !app.AllowsPlayerCount(req.PlayerCount) {
		return nil, errors.Newf(errors.ErrCodeInvalidPlayerCount,
			"player count %d outside allowed range %d-%d", req.PlayerCount, app.MinPlayers, app.MaxPlayers)
	}

	// 6. Balance covers the full session cost. A balance exactly equal
	// to the cost passes.
	total, err := app.UnitPrice.MulCount(int64(req.PlayerCount))
	if err != nil {
		return nil, fmt.Errorf("compute session cost: %w", err)
	}
	if op.Balance.LessThan(total) {
		return nil, errors.New(errors.ErrCodeInsufficientBalance, "balance does not cover the session cost").
			WithDetail("current_balance", op.Balance.String()).
			WithDetail("required", total.String())
	}

	return &Decision{
		ApplicationID:  app.ApplicationID,
		AppName:        app.AppName,
		UnitPrice:      app.UnitPrice,
		TotalCost:      total,
		CurrentBalance: op.Balance,
	}, nil
}

// EvaluateLaunch runs rules 1 through 4 for minting a headset session
// token, before any player count is known. Balance is deliberately not
// checked: an underfunded operator may still hand a headset its token
// and fail later at authorisation time, once the session has a price.
func EvaluateLaunch(ctx context.Context, tx storage.Tx, op *storage.Operator, appCode, siteID string, now time.Time) (*storage.Application, error) {
	return evaluateGrant(ctx, tx, op, appCode, siteID, now)
}

// evaluateGrant is rules 1-4: account standing, application, grant and
// site. Both the session rule chain and the launch check start here.
func evaluateGrant(ctx context.Context, tx storage.Tx, op *storage.Operator, appCode, siteID string, now time.Time) (*storage.Application, error) {
	// 1. Account standing. Locked and disabled accounts fail before
	// anything else is read.
	if !op.CanAuthorize() {
		return nil, accountLockedError(op)
	}

	// 2. The application exists by public code and is active.
	app, err := tx.GetApplicationByCode(ctx, appCode)
	if err == storage.ErrNotFound {
		return nil, errors.Newf(errors.ErrCodeAppNotFound, "application %q not found", appCode)
	}
	if err != nil {
		return nil, fmt.Errorf("load application: %w", err)
	}
	if !app.IsActive {
		return nil, errors.Newf(errors.ErrCodeAppNotFound, "application %q is not available", appCode)
	}

	// 3. The operator holds an unexpired grant for the application.
	grant, err := tx.GetAuthorization(ctx, op.OperatorID, app.ApplicationID)
	if err == storage.ErrNotFound {
		return nil, errors.Newf(errors.ErrCodeAppNotAuthorized, "application %q is not authorized for this operator", appCode)
	}
	if err != nil {
		return nil, fmt.Errorf("load authorization: %w", err)
	}
	if !grant.IsActiveAt(now) {
		return nil, errors.Newf(errors.ErrCodeAppNotAuthorized, "authorization for %q has expired", appCode)
	}

	// 4. The site exists, is usable, and belongs to the operator.
	// Deleted and deactivated sites are indistinguishable from missing
	// ones on purpose.
	site, err := tx.GetSite(ctx, siteID)
	if err == storage.ErrNotFound {
		return nil, errors.New(errors.ErrCodeSiteNotFound, "site not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load site: %w", err)
	}
	if !site.Usable() {
		return nil, errors.New(errors.ErrCodeSiteNotFound, "site not found")
	}
	if site.OperatorID != op.OperatorID {
		return nil, errors.New(errors.ErrCodeSiteNotOwned, "site belongs to another operator")
	}

	return app, nil
}

func accountLockedError(op *storage.Operator) error {
	if op.IsLocked {
		e := errors.New(errors.ErrCodeAccountLocked, "operator account is locked")
		if op.LockReason != "" {
			e = e.WithDetail("lock_reason", op.LockReason)
		}
		return e
	}
	return errors.New(errors.ErrCodeAccountLocked, "operator account is disabled")
}
