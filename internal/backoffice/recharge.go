package backoffice

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mrgun/server/internal/callbacks"
	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
)

// CreateRechargeOrder opens a pending top-up order. The balance moves
// only when the payment gateway later confirms the order.
func (s *Service) CreateRechargeOrder(ctx context.Context, operatorID string, amount money.Amount, method storage.PaymentMethod) (*storage.RechargeOrder, error) {
	if !amount.IsPositive() {
		return nil, errors.New(errors.ErrCodeInvalidAmount, "recharge amount must be positive")
	}
	if !method.Valid() {
		return nil, errors.New(errors.ErrCodeInvalidField, "payment method must be wechat or alipay").
			WithDetail("field", "method")
	}

	now := s.now()
	order := &storage.RechargeOrder{
		OrderID:    uuid.New().String(),
		OperatorID: operatorID,
		Amount:     amount,
		Method:     method,
		Status:     storage.OrderStatusPending,
		ExpiresAt:  now.Add(s.rechargeTTL),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.runTx(ctx, "recharge_create", func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateRechargeOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ObserveRecharge("created", amount.Fen)
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("operator_id", operatorID).
		Str("order_id", order.OrderID).
		Str("amount", amount.String()).
		Str("method", string(method)).
		Msg("recharge_create.created")
	return order, nil
}

// ListRechargeOrders pages through the operator's top-up orders.
func (s *Service) ListRechargeOrders(ctx context.Context, operatorID string, page storage.Page) ([]storage.RechargeOrder, int, error) {
	var (
		orders []storage.RechargeOrder
		total  int
	)
	err := s.readTx(ctx, "recharge_list", func(ctx context.Context, tx storage.Tx) error {
		var err error
		orders, total, err = tx.ListRechargeOrders(ctx, operatorID, page)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// HandleGatewayNotification settles a payment gateway callback. The
// gateway retries callbacks until acknowledged, so every terminal state
// answers as a successful no-op: a paid order is credited exactly once.
// A pending order past its deadline flips to expired even when the
// gateway reports success; the money will bounce back on the gateway
// side. Unknown orders are the only error case.
func (s *Service) HandleGatewayNotification(ctx context.Context, orderID string, success bool) (*storage.RechargeOrder, error) {
	log := logger.FromContext(ctx)

	var (
		order    *storage.RechargeOrder
		credited money.Amount
		balance  money.Amount
	)
	err := s.runTx(ctx, "recharge_notify", func(ctx context.Context, tx storage.Tx) error {
		credited = money.Zero()

		var err error
		order, err = tx.LockRechargeOrderForUpdate(ctx, orderID)
		if err == storage.ErrNotFound {
			return errors.New(errors.ErrCodeOrderNotFound, "recharge order not found")
		}
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return nil
		}

		now := s.now()
		if order.IsExpiredAt(now) {
			order.Status = storage.OrderStatusExpired
			order.UpdatedAt = now
			return tx.UpdateRechargeOrder(ctx, order)
		}
		if !success {
			order.Status = storage.OrderStatusCancelled
			order.UpdatedAt = now
			return tx.UpdateRechargeOrder(ctx, order)
		}

		op, err := tx.LockOperatorForUpdate(ctx, order.OperatorID)
		if err != nil {
			return err
		}
		before := op.Balance
		after, err := op.Balance.Add(order.Amount)
		if err != nil {
			return err
		}
		recharged, err := op.TotalRecharged.Add(order.Amount)
		if err != nil {
			return err
		}

		op.Balance = after
		op.TotalRecharged = recharged
		op.UpdatedAt = now
		if err := tx.UpdateOperatorBalance(ctx, op); err != nil {
			return err
		}

		order.Status = storage.OrderStatusPaid
		order.PaidAt = &now
		order.UpdatedAt = now
		if err := tx.UpdateRechargeOrder(ctx, order); err != nil {
			return err
		}

		txn := &storage.Transaction{
			TransactionID: uuid.New().String(),
			OperatorID:    order.OperatorID,
			Type:          storage.TransactionRecharge,
			Amount:        order.Amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			Description:   fmt.Sprintf("recharge via %s", order.Method),
			RelatedID:     order.OrderID,
			CreatedAt:     now,
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		credited = order.Amount
		balance = after
		return nil
	})
	if err != nil {
		return nil, err
	}

	if credited.IsPositive() {
		if s.metrics != nil {
			s.metrics.ObserveRecharge("paid", credited.Fen)
		}
		log.Info().
			Str("order_id", order.OrderID).
			Str("operator_id", order.OperatorID).
			Str("amount", credited.String()).
			Str("balance_after", balance.String()).
			Msg("recharge_notify.credited")
		s.notifier.RechargeCompleted(ctx, callbacks.RechargeEvent{
			OrderID:    order.OrderID,
			OperatorID: order.OperatorID,
			Amount:     credited,
			Method:     string(order.Method),
			Balance:    balance,
			PaidAt:     *order.PaidAt,
		})
	} else {
		log.Info().
			Str("order_id", order.OrderID).
			Str("status", string(order.Status)).
			Bool("success", success).
			Msg("recharge_notify.acked")
	}
	return order, nil
}
