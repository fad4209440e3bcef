package storage

import (
	"time"

	"github.com/mrgun/server/internal/money"
)

// TransactionType classifies a ledger movement.
type TransactionType string

const (
	TransactionRecharge    TransactionType = "recharge"
	TransactionConsumption TransactionType = "consumption"
	TransactionRefund      TransactionType = "refund"
	TransactionAdjustment  TransactionType = "adjustment"
)

// Valid reports whether the type is one of the closed set.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionRecharge, TransactionConsumption, TransactionRefund, TransactionAdjustment:
		return true
	}
	return false
}

// Transaction is one append-only ledger row. Amount is signed: positive
// raises the operator balance, negative lowers it. The operator balance
// always equals the sum of its transaction amounts.
type Transaction struct {
	TransactionID string
	OperatorID    string
	Type          TransactionType
	Amount        money.Amount // signed
	BalanceBefore money.Amount
	BalanceAfter  money.Amount
	Description   string
	RelatedID     string // usage record, recharge order or refund id
	CreatedAt     time.Time
}
