package backoffice

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mrgun/server/internal/callbacks"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
)

// ApplyRefund files an operator's request to get prepaid money back.
// A nil amount asks for the full current balance. The balance check
// here is a courtesy for the operator; the authoritative check runs
// again under the row lock when finance approves.
func (s *Service) ApplyRefund(ctx context.Context, operatorID string, amount *money.Amount, reason string) (*storage.Refund, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "refund reason is required").
			WithDetail("field", "reason")
	}
	if amount != nil && !amount.IsPositive() {
		return nil, errors.New(errors.ErrCodeInvalidAmount, "refund amount must be positive")
	}

	var refund *storage.Refund
	err := s.runTx(ctx, "refund_apply", func(ctx context.Context, tx storage.Tx) error {
		op, err := tx.GetOperator(ctx, operatorID)
		if err == storage.ErrOperatorNotFound {
			return errors.New(errors.ErrCodeOperatorNotFound, "operator not found")
		}
		if err != nil {
			return err
		}

		requested := op.Balance
		if amount != nil {
			requested = *amount
		}
		if !requested.IsPositive() {
			return errors.New(errors.ErrCodeInvalidAmount, "nothing to refund").
				WithDetail("current_balance", op.Balance.String())
		}
		if op.Balance.LessThan(requested) {
			return errors.New(errors.ErrCodeInvalidAmount, "refund amount exceeds current balance").
				WithDetail("current_balance", op.Balance.String())
		}

		refund = &storage.Refund{
			RefundID:   uuid.New().String(),
			OperatorID: operatorID,
			Amount:     requested,
			Reason:     reason,
			Status:     storage.RefundStatusPending,
			CreatedAt:  s.now(),
		}
		return tx.CreateRefund(ctx, refund)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveRefund("applied", refund.Amount.Fen)
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("operator_id", operatorID).
		Str("refund_id", refund.RefundID).
		Str("amount", refund.Amount.String()).
		Msg("refund_apply.created")
	return refund, nil
}

// ListRefunds pages through refund requests. Operators filter by their
// own id; finance filters by status.
func (s *Service) ListRefunds(ctx context.Context, filter storage.RefundFilter, page storage.Page) ([]storage.Refund, int, error) {
	var (
		refunds []storage.Refund
		total   int
	)
	err := s.readTx(ctx, "refund_list", func(ctx context.Context, tx storage.Tx) error {
		var err error
		refunds, total, err = tx.ListRefunds(ctx, filter, page)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return refunds, total, nil
}

// ApproveRefund moves a pending refund to approved and takes the money
// out of the prepaid pool: balance decreases, total_refunded grows, and
// the ledger gains a negative refund row. The operator row lock makes
// the re-checked balance authoritative; a balance that shrank below the
// requested amount since apply fails the approval.
func (s *Service) ApproveRefund(ctx context.Context, refundID, reviewerID, adminNote string) (*storage.Refund, error) {
	var (
		refund  *storage.Refund
		balance money.Amount
	)
	err := s.runTx(ctx, "refund_approve", func(ctx context.Context, tx storage.Tx) error {
		var err error
		refund, err = tx.GetRefund(ctx, refundID)
		if err == storage.ErrNotFound {
			return errors.New(errors.ErrCodeRefundNotFound, "refund not found")
		}
		if err != nil {
			return err
		}
		if refund.Status != storage.RefundStatusPending {
			return errors.Newf(errors.ErrCodeInvalidState, "refund is already %s", refund.Status)
		}

		op, err := tx.LockOperatorForUpdate(ctx, refund.OperatorID)
		if err != nil {
			return err
		}
		if op.Balance.LessThan(refund.Amount) {
			return errors.New(errors.ErrCodeInvalidState, "balance no longer covers the refund").
				WithDetail("reason", "insufficient_balance").
				WithDetail("current_balance", op.Balance.String())
		}

		now := s.now()
		before := op.Balance
		after, err := op.Balance.Sub(refund.Amount)
		if err != nil {
			return err
		}
		refunded, err := op.TotalRefunded.Add(refund.Amount)
		if err != nil {
			return err
		}

		op.Balance = after
		op.TotalRefunded = refunded
		op.UpdatedAt = now
		if err := tx.UpdateOperatorBalance(ctx, op); err != nil {
			return err
		}

		refund.Status = storage.RefundStatusApproved
		refund.ReviewerID = reviewerID
		refund.AdminNote = strings.TrimSpace(adminNote)
		refund.ReviewedAt = &now
		if err := tx.UpdateRefund(ctx, refund); err != nil {
			return err
		}

		txn := &storage.Transaction{
			TransactionID: uuid.New().String(),
			OperatorID:    refund.OperatorID,
			Type:          storage.TransactionRefund,
			Amount:        refund.Amount.Negate(),
			BalanceBefore: before,
			BalanceAfter:  after,
			Description:   fmt.Sprintf("refund: %s", refund.Reason),
			RelatedID:     refund.RefundID,
			CreatedAt:     now,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		balance = after
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveRefund("approved", refund.Amount.Fen)
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("refund_id", refundID).
		Str("operator_id", refund.OperatorID).
		Str("amount", refund.Amount.String()).
		Str("balance_after", balance.String()).
		Msg("refund_approve.settled")
	s.notifier.RefundReviewed(ctx, callbacks.RefundEvent{
		RefundID:   refund.RefundID,
		OperatorID: refund.OperatorID,
		Amount:     refund.Amount,
		Status:     string(refund.Status),
		AdminNote:  refund.AdminNote,
		ReviewedAt: *refund.ReviewedAt,
	})
	return refund, nil
}

// RejectRefund declines a pending refund. Terminal; no balance
// movement.
func (s *Service) RejectRefund(ctx context.Context, refundID, reviewerID, rejectReason string) (*storage.Refund, error) {
	rejectReason = strings.TrimSpace(rejectReason)
	if rejectReason == "" {
		return nil, errors.New(errors.ErrCodeMissingField, "reject reason is required").
			WithDetail("field", "reject_reason")
	}

	var refund *storage.Refund
	err := s.runTx(ctx, "refund_reject", func(ctx context.Context, tx storage.Tx) error {
		var err error
		refund, err = tx.GetRefund(ctx, refundID)
		if err == storage.ErrNotFound {
			return errors.New(errors.ErrCodeRefundNotFound, "refund not found")
		}
		if err != nil {
			return err
		}
		if refund.Status != storage.RefundStatusPending {
			return errors.Newf(errors.ErrCodeInvalidState, "refund is already %s", refund.Status)
		}

		now := s.now()
		refund.Status = storage.RefundStatusRejected
		refund.ReviewerID = reviewerID
		refund.RejectReason = rejectReason
		refund.ReviewedAt = &now
		return tx.UpdateRefund(ctx, refund)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveRefund("rejected", refund.Amount.Fen)
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("refund_id", refundID).
		Str("reviewer_id", reviewerID).
		Msg("refund_reject.settled")
	s.notifier.RefundReviewed(ctx, callbacks.RefundEvent{
		RefundID:   refund.RefundID,
		OperatorID: refund.OperatorID,
		Amount:     refund.Amount,
		Status:     string(refund.Status),
		AdminNote:  refund.RejectReason,
		ReviewedAt: *refund.ReviewedAt,
	})
	return refund, nil
}

// CompleteRefund records that the payout reached the operator's bank
// or wallet. Only approved refunds complete; the balance already moved
// at approval.
func (s *Service) CompleteRefund(ctx context.Context, refundID string) (*storage.Refund, error) {
	var refund *storage.Refund
	err := s.runTx(ctx, "refund_complete", func(ctx context.Context, tx storage.Tx) error {
		var err error
		refund, err = tx.GetRefund(ctx, refundID)
		if err == storage.ErrNotFound {
			return errors.New(errors.ErrCodeRefundNotFound, "refund not found")
		}
		if err != nil {
			return err
		}
		if refund.Status != storage.RefundStatusApproved {
			return errors.Newf(errors.ErrCodeInvalidState, "refund is %s, not approved", refund.Status)
		}

		now := s.now()
		refund.Status = storage.RefundStatusCompleted
		refund.CompletedAt = &now
		return tx.UpdateRefund(ctx, refund)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveRefund("completed", refund.Amount.Fen)
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("refund_id", refundID).
		Msg("refund_complete.settled")
	return refund, nil
}
