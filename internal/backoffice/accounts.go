package backoffice

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mrgun/server/internal/auth"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
)

// RegisterParams carries the self-service signup form. Contact fields
// are optional.
type RegisterParams struct {
	Username      string
	Password      string
	DisplayName   string
	ContactPerson string
	ContactPhone  string
	Email         string
}

// RegisterOperator creates a venue account. New accounts start on the
// trial tier with a zero balance; the first recharge happens later
// through a recharge order.
func (s *Service) RegisterOperator(ctx context.Context, p RegisterParams) (*storage.Operator, error) {
	username := strings.TrimSpace(p.Username)
	if username == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "username is required").
			WithDetail("field", "username")
	}
	if len(p.Password) < 8 {
		return nil, errors.New(errors.ErrCodeInvalidField, "password must be at least 8 characters").
			WithDetail("field", "password")
	}
	displayName := strings.TrimSpace(p.DisplayName)
	if displayName == "" {
		displayName = username
	}

	hash, err := auth.HashPassword(p.Password, s.bcryptCost)
	if err != nil {
		return nil, s.classified(ctx, "operator_register", err)
	}

	now := s.now()
	op := &storage.Operator{
		OperatorID:     storage.NewOperatorID(),
		Username:       username,
		PasswordHash:   hash,
		DisplayName:    displayName,
		ContactPerson:  strings.TrimSpace(p.ContactPerson),
		ContactPhone:   strings.TrimSpace(p.ContactPhone),
		Email:          strings.TrimSpace(p.Email),
		Balance:        money.Zero(),
		TotalRecharged: money.Zero(),
		TotalConsumed:  money.Zero(),
		TotalRefunded:  money.Zero(),
		Tier:           storage.TierTrial,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.runTx(ctx, "operator_register", func(ctx context.Context, tx storage.Tx) error {
		if err := tx.CreateOperator(ctx, op); err == storage.ErrDuplicateUsername {
			return errors.New(errors.ErrCodeInvalidRequest, "username already taken").
				WithDetail("field", "username")
		} else if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("operator_id", op.OperatorID).
		Str("username", op.Username).
		Msg("register.created")
	return op, nil
}

// AuthenticateOperator checks a login attempt. Unknown usernames and
// wrong passwords collapse to the same invalid_credentials error so the
// response does not reveal which accounts exist. A locked operator may
// still log in to recharge or read records; lock only blocks game
// authorisation. Deactivated accounts cannot log in at all.
func (s *Service) AuthenticateOperator(ctx context.Context, username, password string) (*storage.Operator, error) {
	var op *storage.Operator
	err := s.readTx(ctx, "operator_login", func(ctx context.Context, tx storage.Tx) error {
		var err error
		op, err = tx.GetOperatorByUsername(ctx, strings.TrimSpace(username))
		if err == storage.ErrOperatorNotFound || err == storage.ErrNotFound {
			return errors.New(errors.ErrCodeInvalidCredentials, "invalid username or password")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := auth.CheckPassword(op.PasswordHash, password); err != nil {
		logger.FromContext(ctx).Info().
			Str("username", username).
			Msg("login.denied")
		return nil, errors.New(errors.ErrCodeInvalidCredentials, "invalid username or password")
	}
	if !op.IsActive {
		return nil, errors.New(errors.ErrCodeAccountLocked, "account is deactivated")
	}
	return op, nil
}

// AuthenticateAdmin checks a back-office login attempt.
func (s *Service) AuthenticateAdmin(ctx context.Context, username, password string) (*storage.Admin, error) {
	var admin *storage.Admin
	err := s.readTx(ctx, "admin_login", func(ctx context.Context, tx storage.Tx) error {
		var err error
		admin, err = tx.GetAdminByUsername(ctx, strings.TrimSpace(username))
		if err == storage.ErrNotFound {
			return errors.New(errors.ErrCodeInvalidCredentials, "invalid username or password")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := auth.CheckPassword(admin.PasswordHash, password); err != nil {
		logger.FromContext(ctx).Info().
			Str("username", username).
			Msg("admin_login.denied")
		return nil, errors.New(errors.ErrCodeInvalidCredentials, "invalid username or password")
	}
	if !admin.IsActive {
		return nil, errors.New(errors.ErrCodeAccountLocked, "account is deactivated")
	}
	return admin, nil
}

// GetOperator loads one operator.
func (s *Service) GetOperator(ctx context.Context, operatorID string) (*storage.Operator, error) {
	var op *storage.Operator
	err := s.readTx(ctx, "operator_get", func(ctx context.Context, tx storage.Tx) error {
		var err error
		op, err = tx.GetOperator(ctx, operatorID)
		if err == storage.ErrOperatorNotFound {
			return errors.New(errors.ErrCodeOperatorNotFound, "operator not found")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// LockOperator marks an operator as locked, which denies new game
// authorisations while leaving login and recharge available. Locking
// an already locked operator refreshes the reason and timestamp.
func (s *Service) LockOperator(ctx context.Context, operatorID, reason string) (*storage.Operator, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "lock reason is required").
			WithDetail("field", "reason")
	}

	var op *storage.Operator
	err := s.runTx(ctx, "operator_lock", func(ctx context.Context, tx storage.Tx) error {
		var err error
		op, err = tx.GetOperator(ctx, operatorID)
		if err == storage.ErrOperatorNotFound {
			return errors.New(errors.ErrCodeOperatorNotFound, "operator not found")
		}
		if err != nil {
			return err
		}
		now := s.now()
		op.IsLocked = true
		op.LockReason = reason
		op.LockedAt = &now
		op.UpdatedAt = now
		return tx.UpdateOperator(ctx, op)
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("operator_id", operatorID).
		Str("reason", reason).
		Msg("operator_lock.applied")
	return op, nil
}

// UnlockOperator clears the lock. Unlocking an unlocked operator is a
// no-op that still succeeds.
func (s *Service) UnlockOperator(ctx context.Context, operatorID string) (*storage.Operator, error) {
	var op *storage.Operator
	err := s.runTx(ctx, "operator_unlock", func(ctx context.Context, tx storage.Tx) error {
		var err error
		op, err = tx.GetOperator(ctx, operatorID)
		if err == storage.ErrOperatorNotFound {
			return errors.New(errors.ErrCodeOperatorNotFound, "operator not found")
		}
		if err != nil {
			return err
		}
		op.IsLocked = false
		op.LockReason = ""
		op.LockedAt = nil
		op.UpdatedAt = s.now()
		return tx.UpdateOperator(ctx, op)
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("operator_id", operatorID).
		Msg("operator_unlock.applied")
	return op, nil
}

// AdjustmentParams describes a manual balance correction.
type AdjustmentParams struct {
	Type   string // "add" or "subtract"
	Amount money.Amount
	Reason string
}

// AdjustBalance applies a manual correction to an operator balance and
// writes the matching adjustment row to the ledger. Subtractions may
// not overdraw. RelatedID on the ledger row carries the acting admin's
// id for audit. Lifetime totals track real recharge, consumption and
// refund flows, so adjustments leave them untouched.
func (s *Service) AdjustBalance(ctx context.Context, operatorID, adminID string, p AdjustmentParams) (*storage.Transaction, error) {
	if p.Type != "add" && p.Type != "subtract" {
		return nil, errors.New(errors.ErrCodeInvalidField, "adjustment type must be add or subtract").
			WithDetail("field", "type")
	}
	if !p.Amount.IsPositive() {
		return nil, errors.New(errors.ErrCodeInvalidAmount, "adjustment amount must be positive")
	}
	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "adjustment reason is required").
			WithDetail("field", "reason")
	}

	var txn *storage.Transaction
	err := s.runTx(ctx, "balance_adjust", func(ctx context.Context, tx storage.Tx) error {
		op, err := tx.LockOperatorForUpdate(ctx, operatorID)
		if err == storage.ErrOperatorNotFound {
			return errors.New(errors.ErrCodeOperatorNotFound, "operator not found")
		}
		if err != nil {
			return err
		}

		now := s.now()
		before := op.Balance
		signed := p.Amount
		var after money.Amount
		if p.Type == "add" {
			after, err = op.Balance.Add(p.Amount)
		} else {
			if op.Balance.LessThan(p.Amount) {
				return errors.New(errors.ErrCodeInvalidRequest, "subtraction exceeds current balance").
					WithDetail("reason", "insufficient_balance").
					WithDetail("current_balance", op.Balance.String())
			}
			signed = p.Amount.Negate()
			after, err = op.Balance.Sub(p.Amount)
		}
		if err != nil {
			return err
		}

		op.Balance = after
		op.UpdatedAt = now
		if err := tx.UpdateOperatorBalance(ctx, op); err != nil {
			return err
		}

		txn = &storage.Transaction{
			TransactionID: uuid.New().String(),
			OperatorID:    operatorID,
			Type:          storage.TransactionAdjustment,
			Amount:        signed,
			BalanceBefore: before,
			BalanceAfter:  after,
			Description:   fmt.Sprintf("manual %s: %s", p.Type, reason),
			RelatedID:     adminID,
			CreatedAt:     now,
		}
		return tx.InsertTransaction(ctx, txn)
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info().
		Str("operator_id", operatorID).
		Str("admin_id", adminID).
		Str("type", p.Type).
		Str("amount", p.Amount.String()).
		Str("balance_after", txn.BalanceAfter.String()).
		Msg("balance_adjust.applied")
	return txn, nil
}
