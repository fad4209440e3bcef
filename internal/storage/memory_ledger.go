package storage

import (
	"context"
	"sort"
	"time"
)

func (t *memTx) FindUsageByBusinessKey(ctx context.Context, key BusinessKey, since time.Time) (*UsageRecord, error) {
	var newest *UsageRecord
	for _, u := range t.data.usageRecords {
		if u.Key() != key || u.AuthorizedAt.Before(since) {
			continue
		}
		cp := u
		if newest == nil || cp.AuthorizedAt.After(newest.AuthorizedAt) {
			newest = &cp
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	return newest, nil
}

func (t *memTx) InsertUsageAndTransaction(ctx context.Context, usage *UsageRecord, txn *Transaction) error {
	if _, exists := t.data.sessionIndex[usage.SessionID]; exists {
		return ErrSessionConflict
	}
	t.data.usageRecords[usage.UsageRecordID] = *usage
	t.data.sessionIndex[usage.SessionID] = usage.UsageRecordID
	t.data.transactions = append(t.data.transactions, *txn)
	return nil
}

func (t *memTx) GetUsageBySessionID(ctx context.Context, sessionID string) (*UsageRecord, error) {
	recordID, ok := t.data.sessionIndex[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	u, ok := t.data.usageRecords[recordID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &u, nil
}

func (t *memTx) ListUsageRecords(ctx context.Context, operatorID string, page Page) ([]UsageRecord, int, error) {
	var all []UsageRecord
	for _, u := range t.data.usageRecords {
		if u.OperatorID == operatorID {
			all = append(all, u)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].AuthorizedAt.Equal(all[j].AuthorizedAt) {
			return all[i].AuthorizedAt.After(all[j].AuthorizedAt)
		}
		return all[i].UsageRecordID < all[j].UsageRecordID
	})
	lo, hi := pageBounds(len(all), page)
	return all[lo:hi], len(all), nil
}

func (t *memTx) UpsertGameSession(ctx context.Context, sessionID string, session *GameSession, headsets []HeadsetGameRecord) error {
	if _, ok := t.data.sessionIndex[sessionID]; !ok {
		return ErrSessionNotFound
	}
	t.data.gameSessions[sessionID] = *session
	t.data.headsetRecords[sessionID] = append([]HeadsetGameRecord(nil), headsets...)
	return nil
}

func (t *memTx) GetGameSession(ctx context.Context, sessionID string) (*GameSession, []HeadsetGameRecord, error) {
	gs, ok := t.data.gameSessions[sessionID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	headsets := append([]HeadsetGameRecord(nil), t.data.headsetRecords[sessionID]...)
	return &gs, headsets, nil
}

func (t *memTx) UpsertHeadsetDevice(ctx context.Context, device *HeadsetDevice) error {
	key := deviceKey(device.OperatorID, device.DeviceID)
	existing, ok := t.data.devices[key]
	if !ok {
		t.data.devices[key] = *device
		return nil
	}
	if device.DeviceName != "" {
		existing.DeviceName = device.DeviceName
	}
	existing.LastSeen = device.LastSeen
	t.data.devices[key] = existing
	return nil
}

func (t *memTx) ListHeadsetDevices(ctx context.Context, operatorID string) ([]HeadsetDevice, error) {
	var devices []HeadsetDevice
	for _, d := range t.data.devices {
		if d.OperatorID == operatorID {
			devices = append(devices, d)
		}
	}
	sort.Slice(devices, func(i, j int) bool {
		if !devices[i].LastSeen.Equal(devices[j].LastSeen) {
			return devices[i].LastSeen.After(devices[j].LastSeen)
		}
		return devices[i].DeviceID < devices[j].DeviceID
	})
	return devices, nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *Transaction) error {
	t.data.transactions = append(t.data.transactions, *txn)
	return nil
}

func (t *memTx) GetTransactionByRelatedID(ctx context.Context, relatedID string, txType TransactionType) (*Transaction, error) {
	// Newest wins; the slice is append-ordered.
	for i := len(t.data.transactions) - 1; i >= 0; i-- {
		txn := t.data.transactions[i]
		if txn.RelatedID == relatedID && txn.Type == txType {
			return &txn, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) ListTransactions(ctx context.Context, filter TransactionFilter, page Page) ([]Transaction, int, error) {
	var all []Transaction
	for i := len(t.data.transactions) - 1; i >= 0; i-- {
		txn := t.data.transactions[i]
		if filter.OperatorID != "" && txn.OperatorID != filter.OperatorID {
			continue
		}
		if filter.Type != "" && txn.Type != filter.Type {
			continue
		}
		all = append(all, txn)
	}
	lo, hi := pageBounds(len(all), page)
	return all[lo:hi], len(all), nil
}

func (t *memTx) CreateRechargeOrder(ctx context.Context, order *RechargeOrder) error {
	t.data.rechargeOrders[order.OrderID] = *order
	return nil
}

func (t *memTx) GetRechargeOrder(ctx context.Context, orderID string) (*RechargeOrder, error) {
	o, ok := t.data.rechargeOrders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

// LockRechargeOrderForUpdate is a plain read here; the store mutex already
// serialises whole transactions.
func (t *memTx) LockRechargeOrderForUpdate(ctx context.Context, orderID string) (*RechargeOrder, error) {
	return t.GetRechargeOrder(ctx, orderID)
}

func (t *memTx) UpdateRechargeOrder(ctx context.Context, order *RechargeOrder) error {
	existing, ok := t.data.rechargeOrders[order.OrderID]
	if !ok {
		return ErrNotFound
	}
	existing.Status = order.Status
	existing.PaidAt = order.PaidAt
	existing.UpdatedAt = order.UpdatedAt
	t.data.rechargeOrders[order.OrderID] = existing
	return nil
}

func (t *memTx) ListRechargeOrders(ctx context.Context, operatorID string, page Page) ([]RechargeOrder, int, error) {
	var all []RechargeOrder
	for _, o := range t.data.rechargeOrders {
		if o.OperatorID == operatorID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].OrderID < all[j].OrderID
	})
	lo, hi := pageBounds(len(all), page)
	return all[lo:hi], len(all), nil
}

func (t *memTx) CreateRefund(ctx context.Context, refund *Refund) error {
	t.data.refunds[refund.RefundID] = *refund
	return nil
}

func (t *memTx) GetRefund(ctx context.Context, refundID string) (*Refund, error) {
	r, ok := t.data.refunds[refundID]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (t *memTx) UpdateRefund(ctx context.Context, refund *Refund) error {
	existing, ok := t.data.refunds[refund.RefundID]
	if !ok {
		return ErrNotFound
	}
	existing.Status = refund.Status
	existing.ReviewerID = refund.ReviewerID
	existing.AdminNote = refund.AdminNote
	existing.RejectReason = refund.RejectReason
	existing.ReviewedAt = refund.ReviewedAt
	existing.CompletedAt = refund.CompletedAt
	t.data.refunds[refund.RefundID] = existing
	return nil
}

func (t *memTx) ListRefunds(ctx context.Context, filter RefundFilter, page Page) ([]Refund, int, error) {
	var all []Refund
	for _, r := range t.data.refunds {
		if filter.OperatorID != "" && r.OperatorID != filter.OperatorID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].RefundID < all[j].RefundID
	})
	lo, hi := pageBounds(len(all), page)
	return all[lo:hi], len(all), nil
}

func (t *memTx) CreateInvoice(ctx context.Context, inv *Invoice) error {
	t.data.invoices[inv.InvoiceID] = *inv
	return nil
}

func (t *memTx) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	inv, ok := t.data.invoices[invoiceID]
	if !ok {
		return nil, ErrNotFound
	}
	return &inv, nil
}

func (t *memTx) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	existing, ok := t.data.invoices[inv.InvoiceID]
	if !ok {
		return ErrNotFound
	}
	existing.Status = inv.Status
	existing.InvoiceNumber = inv.InvoiceNumber
	existing.InvoiceURL = inv.InvoiceURL
	existing.ReviewerID = inv.ReviewerID
	existing.AdminNote = inv.AdminNote
	existing.ReviewedAt = inv.ReviewedAt
	existing.IssuedAt = inv.IssuedAt
	t.data.invoices[inv.InvoiceID] = existing
	return nil
}

func (t *memTx) ListInvoices(ctx context.Context, filter InvoiceFilter, page Page) ([]Invoice, int, error) {
	var all []Invoice
	for _, inv := range t.data.invoices {
		if filter.OperatorID != "" && inv.OperatorID != filter.OperatorID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		all = append(all, inv)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].InvoiceID < all[j].InvoiceID
	})
	lo, hi := pageBounds(len(all), page)
	return all[lo:hi], len(all), nil
}
