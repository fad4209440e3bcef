package storage

import (
	"time"

	"github.com/mrgun/server/internal/money"
)

// RefundStatus tracks a refund application's lifecycle.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusApproved  RefundStatus = "approved"
	RefundStatusRejected  RefundStatus = "rejected"
	RefundStatusCompleted RefundStatus = "completed"
)

// Valid reports whether the status is one of the closed set.
func (s RefundStatus) Valid() bool {
	switch s {
	case RefundStatusPending, RefundStatusApproved, RefundStatusRejected, RefundStatusCompleted:
		return true
	}
	return false
}

// Refund is an operator's request to pull money back out of the prepaid
// pool. Approval debits the balance immediately; completion only records
// that the payout reached the operator's bank.
type Refund struct {
	RefundID     string
	OperatorID   string
	Amount       money.Amount // requested amount, fixed at application time
	Reason       string
	Status       RefundStatus
	ReviewerID   string // finance account that reviewed, empty while pending
	AdminNote    string
	RejectReason string
	CreatedAt    time.Time
	ReviewedAt   *time.Time
	CompletedAt  *time.Time
}
