package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mrgun/server/internal/authz"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/storage"
)

// sessionIDAttempts bounds transaction restarts after a session id
// collision before the call fails as internal.
const sessionIDAttempts = 3

// PreAuthorize runs the rule chain inside a read-only transaction and
// prices the candidate session. Nothing is reserved or debited; a rule
// failure surfaces as its specific taxonomy error.
func (s *Service) PreAuthorize(ctx context.Context, operatorID string, req authz.Request) (*PreAuthorizeResult, error) {
	start := s.now()

	var dec *authz.Decision
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		op, err := tx.GetOperator(ctx, operatorID)
		if err == storage.ErrOperatorNotFound {
			return errors.New(errors.ErrCodeOperatorNotFound, "operator not found")
		}
		if err != nil {
			return err
		}
		dec, err = authz.Evaluate(ctx, tx, op, req, s.now())
		return err
	})
	if err != nil {
		if te, ok := errors.AsError(err); ok {
			if s.metrics != nil {
				s.metrics.ObserveAuthorization("pre_authorize", "denied", s.now().Sub(start), 0)
				s.metrics.ObserveAuthorizationDenied(string(te.Code))
			}
			return nil, err
		}
		return nil, s.classified(ctx, "pre_authorize", err)
	}

	if s.metrics != nil {
		s.metrics.ObserveAuthorization("pre_authorize", "authorized", s.now().Sub(start), 0)
	}
	return &PreAuthorizeResult{
		CanAuthorize:   true,
		AppName:        dec.AppName,
		UnitPrice:      dec.UnitPrice,
		TotalCost:      dec.TotalCost,
		CurrentBalance: dec.CurrentBalance,
	}, nil
}

// Authorize settles one paid game session: rule evaluation, the
// business-key idempotency check, the debit and the paired usage and
// ledger rows, all inside a single transaction holding the operator row
// lock. Serialisation failures and session id collisions restart the
// whole transaction, never a single statement.
func (s *Service) Authorize(ctx context.Context, operatorID string, req authz.Request) (*AuthorizeResult, error) {
	log := logger.FromContext(ctx)
	start := s.now()

	var (
		result    *AuthorizeResult
		conflicts int
		retries   int
	)

	for {
		result = nil
		err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			var txErr error
			result, txErr = s.authorizeTx(ctx, tx, operatorID, req)
			return txErr
		})
		if err == nil {
			break
		}

		if err == storage.ErrSessionConflict {
			conflicts++
			if conflicts >= sessionIDAttempts {
				log.Error().
					Str("operator_id", operatorID).
					Int("attempts", conflicts).
					Msg("authorize.session_id_exhausted")
				return nil, errors.New(errors.ErrCodeInternalError, "could not allocate a session id")
			}
			continue
		}

		if storage.IsRetryableTxError(err) {
			retries++
			if s.metrics != nil {
				s.metrics.ObserveTxRetry("authorize")
			}
			if retries >= s.txRetries {
				log.Error().
					Err(err).
					Str("operator_id", operatorID).
					Int("attempts", retries).
					Msg("authorize.tx_retries_exhausted")
				return nil, errors.New(errors.ErrCodeDatabaseError, "storage contention, please retry")
			}
			if err := s.sleepBackoff(ctx, retries); err != nil {
				return nil, s.classified(ctx, "authorize", err)
			}
			continue
		}

		if te, ok := errors.AsError(err); ok {
			if s.metrics != nil {
				s.metrics.ObserveAuthorization("authorize", "denied", s.now().Sub(start), 0)
				s.metrics.ObserveAuthorizationDenied(string(te.Code))
			}
			log.Info().
				Str("operator_id", operatorID).
				Str("app_code", req.AppCode).
				Str("code", string(te.Code)).
				Msg("authorize.denied")
			return nil, err
		}

		return nil, s.classified(ctx, "authorize", err)
	}

	outcome := "authorized"
	debited := result.TotalCost.Fen
	if result.Replayed {
		outcome = "replayed"
		debited = 0
	}
	if s.metrics != nil {
		s.metrics.ObserveAuthorization("authorize", outcome, s.now().Sub(start), debited)
	}
	log.Info().
		Str("operator_id", operatorID).
		Str("session_id", result.SessionID).
		Str("total_cost", result.TotalCost.String()).
		Str("balance_after", result.BalanceAfter.String()).
		Bool("replayed", result.Replayed).
		Msg("authorize.settled")
	return result, nil
}

// authorizeTx is one attempt at the settle, run inside an open
// transaction. Returning storage.ErrSessionConflict or a retryable
// serialisation error rolls the attempt back and the caller restarts it.
func (s *Service) authorizeTx(ctx context.Context, tx storage.Tx, operatorID string, req authz.Request) (*AuthorizeResult, error) {
	now := s.now()

	op, err := tx.LockOperatorForUpdate(ctx, operatorID)
	if err == storage.ErrOperatorNotFound {
		return nil, errors.New(errors.ErrCodeOperatorNotFound, "operator not found")
	}
	if err != nil {
		return nil, err
	}

	dec, err := authz.Evaluate(ctx, tx, op, req, now)
	if err != nil {
		return nil, err
	}

	// A record with the same business key inside the window means a
	// client retry after a lost response. Answer with the settled
	// session; the balance does not move again.
	key := storage.BusinessKey{
		OperatorID:    op.OperatorID,
		ApplicationID: dec.ApplicationID,
		SiteID:        req.SiteID,
		PlayerCount:   req.PlayerCount,
	}
	prior, err := tx.FindUsageByBusinessKey(ctx, key, now.Add(-s.window))
	if err == nil {
		return &AuthorizeResult{
			SessionID:    prior.SessionID,
			AppName:      dec.AppName,
			PlayerCount:  prior.PlayerCount,
			UnitPrice:    prior.UnitPrice,
			TotalCost:    prior.TotalCost,
			BalanceAfter: prior.BalanceAfter,
			AuthorizedAt: prior.AuthorizedAt,
			Replayed:     true,
		}, nil
	}
	if err != storage.ErrNotFound {
		return nil, err
	}

	sessionID, err := storage.NewSessionID(op.OperatorID, now)
	if err != nil {
		return nil, err
	}

	balanceAfter, err := op.Balance.Sub(dec.TotalCost)
	if err != nil {
		return nil, err
	}
	totalConsumed, err := op.TotalConsumed.Add(dec.TotalCost)
	if err != nil {
		return nil, err
	}

	op.Balance = balanceAfter
	op.TotalConsumed = totalConsumed
	op.UpdatedAt = now
	if err := tx.UpdateOperatorBalance(ctx, op); err != nil {
		return nil, err
	}

	usage := &storage.UsageRecord{
		UsageRecordID: uuid.New().String(),
		SessionID:     sessionID,
		OperatorID:    op.OperatorID,
		ApplicationID: dec.ApplicationID,
		SiteID:        req.SiteID,
		PlayerCount:   req.PlayerCount,
		UnitPrice:     dec.UnitPrice,
		TotalCost:     dec.TotalCost,
		BalanceAfter:  balanceAfter,
		AuthorizedAt:  now,
		CreatedAt:     now,
	}
	txn := &storage.Transaction{
		TransactionID: uuid.New().String(),
		OperatorID:    op.OperatorID,
		Type:          storage.TransactionConsumption,
		Amount:        dec.TotalCost.Negate(),
		BalanceBefore: dec.CurrentBalance,
		BalanceAfter:  balanceAfter,
		Description:   fmt.Sprintf("game session %s x%d", dec.AppName, req.PlayerCount),
		RelatedID:     usage.UsageRecordID,
		CreatedAt:     now,
	}
	if err := tx.InsertUsageAndTransaction(ctx, usage, txn); err != nil {
		return nil, err
	}

	return &AuthorizeResult{
		SessionID:    sessionID,
		AppName:      dec.AppName,
		PlayerCount:  req.PlayerCount,
		UnitPrice:    dec.UnitPrice,
		TotalCost:    dec.TotalCost,
		BalanceAfter: balanceAfter,
		AuthorizedAt: now,
	}, nil
}
