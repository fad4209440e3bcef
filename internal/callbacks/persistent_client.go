package callbacks

import (
	"context"

	"github.com/rs/zerolog"
)

// PersistentNotifier writes events to the database-backed webhook queue
// instead of delivering them from a goroutine, so notifications survive
// a restart that would lose an in-flight delivery. The wrapped worker
// does the actual posting; the worker's lifecycle belongs to the caller.
type PersistentNotifier struct {
	worker *QueueWorker
	logger zerolog.Logger
}

// NewPersistentNotifier wraps an already-constructed queue worker.
func NewPersistentNotifier(worker *QueueWorker, logger zerolog.Logger) *PersistentNotifier {
	if worker == nil {
		return nil
	}
	return &PersistentNotifier{worker: worker, logger: logger}
}

// RechargeCompleted queues a recharge.completed event.
func (n *PersistentNotifier) RechargeCompleted(ctx context.Context, event RechargeEvent) {
	if n == nil || n.worker == nil {
		return
	}
	if err := n.worker.EnqueueRechargeWebhook(ctx, event); err != nil {
		n.logger.Error().
			Err(err).
			Str("event_id", event.EventID).
			Str("order_id", event.OrderID).
			Msg("callbacks: enqueue recharge event")
	}
}

// RefundReviewed queues a refund.reviewed event.
func (n *PersistentNotifier) RefundReviewed(ctx context.Context, event RefundEvent) {
	if n == nil || n.worker == nil {
		return
	}
	if err := n.worker.EnqueueRefundWebhook(ctx, event); err != nil {
		n.logger.Error().
			Err(err).
			Str("event_id", event.EventID).
			Str("refund_id", event.RefundID).
			Msg("callbacks: enqueue refund event")
	}
}

// BalanceLow queues a balance.low event.
func (n *PersistentNotifier) BalanceLow(ctx context.Context, event BalanceLowEvent) {
	if n == nil || n.worker == nil {
		return
	}
	if err := n.worker.EnqueueBalanceLowWebhook(ctx, event); err != nil {
		n.logger.Error().
			Err(err).
			Str("event_id", event.EventID).
			Str("operator_id", event.OperatorID).
			Msg("callbacks: enqueue balance low event")
	}
}
