package backoffice

import (
	"context"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/storage"
)

// ListOperators pages through all venue accounts for the admin panel.
func (s *Service) ListOperators(ctx context.Context, page storage.Page) ([]storage.Operator, int, error) {
	var (
		ops   []storage.Operator
		total int
	)
	err := s.readTx(ctx, "operator_list", func(ctx context.Context, tx storage.Tx) error {
		var err error
		ops, total, err = tx.ListOperators(ctx, page)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return ops, total, nil
}

// ListTransactions pages through a slice of the ledger. An empty type
// in the filter matches every movement.
func (s *Service) ListTransactions(ctx context.Context, filter storage.TransactionFilter, page storage.Page) ([]storage.Transaction, int, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, 0, errors.Newf(errors.ErrCodeInvalidField, "unknown transaction type %q", filter.Type).
			WithDetail("field", "type")
	}

	var (
		txns  []storage.Transaction
		total int
	)
	err := s.readTx(ctx, "transaction_list", func(ctx context.Context, tx storage.Tx) error {
		var err error
		txns, total, err = tx.ListTransactions(ctx, filter, page)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

// ListUsageRecords pages through the operator's settled sessions.
func (s *Service) ListUsageRecords(ctx context.Context, operatorID string, page storage.Page) ([]storage.UsageRecord, int, error) {
	var (
		records []storage.UsageRecord
		total   int
	)
	err := s.readTx(ctx, "usage_list", func(ctx context.Context, tx storage.Tx) error {
		var err error
		records, total, err = tx.ListUsageRecords(ctx, operatorID, page)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
