package storage

import (
	"time"

	"github.com/mrgun/server/internal/money"
)

// PaymentMethod names the external gateway a recharge goes through.
type PaymentMethod string

const (
	PaymentWechat PaymentMethod = "wechat"
	PaymentAlipay PaymentMethod = "alipay"
)

// Valid reports whether the method is one of the closed set.
func (m PaymentMethod) Valid() bool {
	return m == PaymentWechat || m == PaymentAlipay
}

// OrderStatus tracks a recharge order's lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCancelled || s == OrderStatusExpired
}

// RechargeOrder is a pending top-up awaiting gateway confirmation.
// A paid order yields exactly one recharge transaction; repeated gateway
// callbacks after that are acknowledged without moving money again.
type RechargeOrder struct {
	OrderID    string
	OperatorID string
	Amount     money.Amount
	Method     PaymentMethod
	Status     OrderStatus
	ExpiresAt  time.Time
	PaidAt     *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsExpiredAt reports whether the payment window has passed. Expiry only
// matters while the order is still pending.
func (o *RechargeOrder) IsExpiredAt(now time.Time) bool {
	return o.Status == OrderStatusPending && now.After(o.ExpiresAt)
}
