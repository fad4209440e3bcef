package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const usageColumns = `usage_record_id, session_id, operator_id, application_id, site_id,
	player_count, unit_price, total_cost, balance_after, authorized_at, created_at`

func scanUsageRecord(s scanner) (*UsageRecord, error) {
	var u UsageRecord
	err := s.Scan(
		&u.UsageRecordID, &u.SessionID, &u.OperatorID, &u.ApplicationID, &u.SiteID,
		&u.PlayerCount, &u.UnitPrice, &u.TotalCost, &u.BalanceAfter, &u.AuthorizedAt,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUsageByBusinessKey returns the newest usage record matching the key
// authorised at or after the since cutoff. The authorise path treats a hit
// as a duplicate of an already-billed request.
func (t *pgTx) FindUsageByBusinessKey(ctx context.Context, key BusinessKey, since time.Time) (*UsageRecord, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + usageColumns + ` FROM usage_records
		WHERE operator_id = $1 AND application_id = $2 AND site_id = $3 AND player_count = $4
			AND authorized_at >= $5
		ORDER BY authorized_at DESC
		LIMIT 1`
	u, err := scanUsageRecord(t.tx.QueryRowContext(ctx, query,
		key.OperatorID, key.ApplicationID, key.SiteID, key.PlayerCount, since.UTC()))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find usage by business key: %w", err)
	}
	return u, nil
}

// InsertUsageAndTransaction writes a usage record together with its paired
// consumption transaction. A session_id collision returns
// ErrSessionConflict and writes nothing; the surrounding transaction stays
// usable only if the caller rolls back and retries wholesale.
func (t *pgTx) InsertUsageAndTransaction(ctx context.Context, usage *UsageRecord, txn *Transaction) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO usage_records (usage_record_id, session_id, operator_id, application_id, site_id,
			player_count, unit_price, total_cost, balance_after, authorized_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := t.tx.ExecContext(ctx, query,
		usage.UsageRecordID, usage.SessionID, usage.OperatorID, usage.ApplicationID, usage.SiteID,
		usage.PlayerCount, usage.UnitPrice, usage.TotalCost, usage.BalanceAfter,
		usage.AuthorizedAt.UTC(), usage.CreatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrSessionConflict
	}
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	return t.InsertTransaction(ctx, txn)
}

// GetUsageBySessionID retrieves the usage record behind a session id.
func (t *pgTx) GetUsageBySessionID(ctx context.Context, sessionID string) (*UsageRecord, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + usageColumns + ` FROM usage_records WHERE session_id = $1`
	u, err := scanUsageRecord(t.tx.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get usage by session id: %w", err)
	}
	return u, nil
}

// ListUsageRecords returns one page of an operator's sessions, newest first.
func (t *pgTx) ListUsageRecords(ctx context.Context, operatorID string, page Page) ([]UsageRecord, int, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var total int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM usage_records WHERE operator_id = $1`, operatorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count usage records: %w", err)
	}

	query := `SELECT ` + usageColumns + ` FROM usage_records
		WHERE operator_id = $1
		ORDER BY authorized_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := t.tx.QueryContext(ctx, query, operatorID, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list usage records: %w", err)
	}
	defer rows.Close()

	var records []UsageRecord
	for rows.Next() {
		u, err := scanUsageRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list usage records: %w", err)
	}
	return records, total, nil
}

// UpsertGameSession replaces the uploaded telemetry for a session
// wholesale: the previous session row and all headset records are deleted
// before the new set is inserted.
func (t *pgTx) UpsertGameSession(ctx context.Context, sessionID string, session *GameSession, headsets []HeadsetGameRecord) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM usage_records WHERE session_id = $1)`, sessionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check session exists: %w", err)
	}
	if !exists {
		return ErrSessionNotFound
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM game_sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete game session: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM headset_game_records WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete headset records: %w", err)
	}

	query := `
		INSERT INTO game_sessions (session_id, start_time, end_time, process_info, uploaded_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = t.tx.ExecContext(ctx, query,
		sessionID, session.StartTime.UTC(), nullTime(session.EndTime), session.ProcessInfo,
		session.UploadedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert game session: %w", err)
	}

	if len(headsets) == 0 {
		return nil
	}

	valueStrings := make([]string, 0, len(headsets))
	valueArgs := make([]interface{}, 0, len(headsets)*6)
	for i, h := range headsets {
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			i*6+1, i*6+2, i*6+3, i*6+4, i*6+5, i*6+6))
		valueArgs = append(valueArgs,
			sessionID, h.DeviceID, h.DeviceName, h.StartTime.UTC(), nullTime(h.EndTime), h.ProcessInfo)
	}
	batch := fmt.Sprintf(`
		INSERT INTO headset_game_records (session_id, device_id, device_name, start_time, end_time, process_info)
		VALUES %s
	`, strings.Join(valueStrings, ","))
	if _, err := t.tx.ExecContext(ctx, batch, valueArgs...); err != nil {
		return fmt.Errorf("insert headset records: %w", err)
	}
	return nil
}

// GetGameSession retrieves the uploaded telemetry for a session.
// ErrNotFound when nothing has been uploaded yet.
func (t *pgTx) GetGameSession(ctx context.Context, sessionID string) (*GameSession, []HeadsetGameRecord, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var gs GameSession
	var endTime sql.NullTime
	err := t.tx.QueryRowContext(ctx,
		`SELECT session_id, start_time, end_time, process_info, uploaded_at FROM game_sessions WHERE session_id = $1`,
		sessionID).Scan(&gs.SessionID, &gs.StartTime, &endTime, &gs.ProcessInfo, &gs.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get game session: %w", err)
	}
	gs.EndTime = nullTimePtr(endTime)

	rows, err := t.tx.QueryContext(ctx,
		`SELECT session_id, device_id, device_name, start_time, end_time, process_info
		FROM headset_game_records WHERE session_id = $1 ORDER BY start_time ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("get headset records: %w", err)
	}
	defer rows.Close()

	var headsets []HeadsetGameRecord
	for rows.Next() {
		var h HeadsetGameRecord
		var hEnd sql.NullTime
		if err := rows.Scan(&h.SessionID, &h.DeviceID, &h.DeviceName, &h.StartTime, &hEnd, &h.ProcessInfo); err != nil {
			return nil, nil, fmt.Errorf("scan headset record: %w", err)
		}
		h.EndTime = nullTimePtr(hEnd)
		headsets = append(headsets, h)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("get headset records: %w", err)
	}
	return &gs, headsets, nil
}

// UpsertHeadsetDevice registers a device the first time it appears and
// refreshes last_seen afterwards. An empty uploaded name never clobbers a
// known one.
func (t *pgTx) UpsertHeadsetDevice(ctx context.Context, device *HeadsetDevice) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO headset_devices (device_id, operator_id, device_name, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (operator_id, device_id)
		DO UPDATE SET
			device_name = CASE WHEN EXCLUDED.device_name <> '' THEN EXCLUDED.device_name ELSE headset_devices.device_name END,
			last_seen = EXCLUDED.last_seen
	`
	_, err := t.tx.ExecContext(ctx, query,
		device.DeviceID, device.OperatorID, device.DeviceName, device.FirstSeen.UTC(),
		device.LastSeen.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert headset device: %w", err)
	}
	return nil
}

// ListHeadsetDevices returns an operator's known devices, most recently
// seen first.
func (t *pgTx) ListHeadsetDevices(ctx context.Context, operatorID string) ([]HeadsetDevice, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT device_id, operator_id, device_name, first_seen, last_seen
		FROM headset_devices WHERE operator_id = $1 ORDER BY last_seen DESC`
	rows, err := t.tx.QueryContext(ctx, query, operatorID)
	if err != nil {
		return nil, fmt.Errorf("list headset devices: %w", err)
	}
	defer rows.Close()

	var devices []HeadsetDevice
	for rows.Next() {
		var d HeadsetDevice
		if err := rows.Scan(&d.DeviceID, &d.OperatorID, &d.DeviceName, &d.FirstSeen, &d.LastSeen); err != nil {
			return nil, fmt.Errorf("scan headset device: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list headset devices: %w", err)
	}
	return devices, nil
}

const transactionColumns = `transaction_id, operator_id, type, amount, balance_before,
	balance_after, description, related_id, created_at`

func scanTransaction(s scanner) (*Transaction, error) {
	var txn Transaction
	err := s.Scan(
		&txn.TransactionID, &txn.OperatorID, &txn.Type, &txn.Amount, &txn.BalanceBefore,
		&txn.BalanceAfter, &txn.Description, &txn.RelatedID, &txn.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// InsertTransaction appends one ledger row. Rows are never updated or
// deleted.
func (t *pgTx) InsertTransaction(ctx context.Context, txn *Transaction) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO transactions (transaction_id, operator_id, type, amount, balance_before,
			balance_after, description, related_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := t.tx.ExecContext(ctx, query,
		txn.TransactionID, txn.OperatorID, txn.Type, txn.Amount, txn.BalanceBefore,
		txn.BalanceAfter, txn.Description, txn.RelatedID, txn.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetTransactionByRelatedID finds the ledger row a usage record, recharge
// order or refund produced.
func (t *pgTx) GetTransactionByRelatedID(ctx context.Context, relatedID string, txType TransactionType) (*Transaction, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE related_id = $1 AND type = $2
		ORDER BY created_at DESC LIMIT 1`
	txn, err := scanTransaction(t.tx.QueryRowContext(ctx, query, relatedID, txType))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction by related id: %w", err)
	}
	return txn, nil
}

// ListTransactions returns one ledger page, newest first.
func (t *pgTx) ListTransactions(ctx context.Context, filter TransactionFilter, page Page) ([]Transaction, int, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var conds []string
	var args []interface{}
	if filter.OperatorID != "" {
		args = append(args, filter.OperatorID)
		conds = append(conds, fmt.Sprintf("operator_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, page.Limit(), page.Offset())
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return txns, total, nil
}

const rechargeColumns = `order_id, operator_id, amount, method, status, expires_at, paid_at,
	created_at, updated_at`

func scanRechargeOrder(s scanner) (*RechargeOrder, error) {
	var o RechargeOrder
	var paidAt sql.NullTime
	err := s.Scan(
		&o.OrderID, &o.OperatorID, &o.Amount, &o.Method, &o.Status, &o.ExpiresAt,
		&paidAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.PaidAt = nullTimePtr(paidAt)
	return &o, nil
}

// CreateRechargeOrder inserts a pending top-up order.
func (t *pgTx) CreateRechargeOrder(ctx context.Context, order *RechargeOrder) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO recharge_orders (order_id, operator_id, amount, method, status, expires_at,
			paid_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := t.tx.ExecContext(ctx, query,
		order.OrderID, order.OperatorID, order.Amount, order.Method, order.Status,
		order.ExpiresAt.UTC(), nullTime(order.PaidAt), order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create recharge order: %w", err)
	}
	return nil
}

// GetRechargeOrder retrieves an order by id.
func (t *pgTx) GetRechargeOrder(ctx context.Context, orderID string) (*RechargeOrder, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + rechargeColumns + ` FROM recharge_orders WHERE order_id = $1`
	o, err := scanRechargeOrder(t.tx.QueryRowContext(ctx, query, orderID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get recharge order: %w", err)
	}
	return o, nil
}

// LockRechargeOrderForUpdate takes the row lock the gateway callback path
// serialises on, so repeated callbacks for one order apply once.
func (t *pgTx) LockRechargeOrderForUpdate(ctx context.Context, orderID string) (*RechargeOrder, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + rechargeColumns + ` FROM recharge_orders WHERE order_id = $1 FOR UPDATE`
	o, err := scanRechargeOrder(t.tx.QueryRowContext(ctx, query, orderID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock recharge order: %w", err)
	}
	return o, nil
}

// UpdateRechargeOrder rewrites the order status fields.
func (t *pgTx) UpdateRechargeOrder(ctx context.Context, order *RechargeOrder) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		UPDATE recharge_orders
		SET status = $2, paid_at = $3, updated_at = $4
		WHERE order_id = $1
	`
	res, err := t.tx.ExecContext(ctx, query,
		order.OrderID, order.Status, nullTime(order.PaidAt), order.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("update recharge order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update recharge order: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRechargeOrders returns one page of an operator's orders, newest first.
func (t *pgTx) ListRechargeOrders(ctx context.Context, operatorID string, page Page) ([]RechargeOrder, int, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var total int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recharge_orders WHERE operator_id = $1`, operatorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count recharge orders: %w", err)
	}

	query := `SELECT ` + rechargeColumns + ` FROM recharge_orders
		WHERE operator_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := t.tx.QueryContext(ctx, query, operatorID, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("list recharge orders: %w", err)
	}
	defer rows.Close()

	var orders []RechargeOrder
	for rows.Next() {
		o, err := scanRechargeOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan recharge order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list recharge orders: %w", err)
	}
	return orders, total, nil
}

const refundColumns = `refund_id, operator_id, amount, reason, status, reviewer_id,
	admin_note, reject_reason, created_at, reviewed_at, completed_at`

func scanRefund(s scanner) (*Refund, error) {
	var r Refund
	var reviewedAt, completedAt sql.NullTime
	err := s.Scan(
		&r.RefundID, &r.OperatorID, &r.Amount, &r.Reason, &r.Status, &r.ReviewerID,
		&r.AdminNote, &r.RejectReason, &r.CreatedAt, &reviewedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ReviewedAt = nullTimePtr(reviewedAt)
	r.CompletedAt = nullTimePtr(completedAt)
	return &r, nil
}

// CreateRefund inserts a pending refund application.
func (t *pgTx) CreateRefund(ctx context.Context, refund *Refund) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO refunds (refund_id, operator_id, amount, reason, status, reviewer_id,
			admin_note, reject_reason, created_at, reviewed_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := t.tx.ExecContext(ctx, query,
		refund.RefundID, refund.OperatorID, refund.Amount, refund.Reason, refund.Status,
		refund.ReviewerID, refund.AdminNote, refund.RejectReason, refund.CreatedAt.UTC(),
		nullTime(refund.ReviewedAt), nullTime(refund.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create refund: %w", err)
	}
	return nil
}

// GetRefund retrieves a refund by id.
func (t *pgTx) GetRefund(ctx context.Context, refundID string) (*Refund, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + refundColumns + ` FROM refunds WHERE refund_id = $1`
	r, err := scanRefund(t.tx.QueryRowContext(ctx, query, refundID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refund: %w", err)
	}
	return r, nil
}

// UpdateRefund rewrites the review fields.
func (t *pgTx) UpdateRefund(ctx context.Context, refund *Refund) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		UPDATE refunds
		SET status = $2, reviewer_id = $3, admin_note = $4, reject_reason = $5,
			reviewed_at = $6, completed_at = $7
		WHERE refund_id = $1
	`
	res, err := t.tx.ExecContext(ctx, query,
		refund.RefundID, refund.Status, refund.ReviewerID, refund.AdminNote, refund.RejectReason,
		nullTime(refund.ReviewedAt), nullTime(refund.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update refund: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRefunds returns one page of refunds, newest first.
func (t *pgTx) ListRefunds(ctx context.Context, filter RefundFilter, page Page) ([]Refund, int, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var conds []string
	var args []interface{}
	if filter.OperatorID != "" {
		args = append(args, filter.OperatorID)
		conds = append(conds, fmt.Sprintf("operator_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM refunds`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count refunds: %w", err)
	}

	query := `SELECT ` + refundColumns + ` FROM refunds` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, page.Limit(), page.Offset())
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var refunds []Refund
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan refund: %w", err)
		}
		refunds = append(refunds, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list refunds: %w", err)
	}
	return refunds, total, nil
}

const invoiceColumns = `invoice_id, operator_id, invoice_type, amount, title, tax_number,
	address, phone, bank_name, bank_account, status, invoice_number, invoice_url,
	reviewer_id, admin_note, created_at, reviewed_at, issued_at`

func scanInvoice(s scanner) (*Invoice, error) {
	var inv Invoice
	var reviewedAt, issuedAt sql.NullTime
	err := s.Scan(
		&inv.InvoiceID, &inv.OperatorID, &inv.Type, &inv.Amount, &inv.Title, &inv.TaxNumber,
		&inv.Address, &inv.Phone, &inv.BankName, &inv.BankAccount, &inv.Status,
		&inv.InvoiceNumber, &inv.InvoiceURL, &inv.ReviewerID, &inv.AdminNote,
		&inv.CreatedAt, &reviewedAt, &issuedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.ReviewedAt = nullTimePtr(reviewedAt)
	inv.IssuedAt = nullTimePtr(issuedAt)
	return &inv, nil
}

// CreateInvoice inserts a pending invoice application.
func (t *pgTx) CreateInvoice(ctx context.Context, inv *Invoice) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO invoices (invoice_id, operator_id, invoice_type, amount, title, tax_number,
			address, phone, bank_name, bank_account, status, invoice_number, invoice_url,
			reviewer_id, admin_note, created_at, reviewed_at, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := t.tx.ExecContext(ctx, query,
		inv.InvoiceID, inv.OperatorID, inv.Type, inv.Amount, inv.Title, inv.TaxNumber,
		inv.Address, inv.Phone, inv.BankName, inv.BankAccount, inv.Status, inv.InvoiceNumber,
		inv.InvoiceURL, inv.ReviewerID, inv.AdminNote, inv.CreatedAt.UTC(),
		nullTime(inv.ReviewedAt), nullTime(inv.IssuedAt),
	)
	if err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}
	return nil
}

// GetInvoice retrieves an invoice by id.
func (t *pgTx) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE invoice_id = $1`
	inv, err := scanInvoice(t.tx.QueryRowContext(ctx, query, invoiceID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

// UpdateInvoice rewrites the review and issue fields.
func (t *pgTx) UpdateInvoice(ctx context.Context, inv *Invoice) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	query := `
		UPDATE invoices
		SET status = $2, invoice_number = $3, invoice_url = $4, reviewer_id = $5,
			admin_note = $6, reviewed_at = $7, issued_at = $8
		WHERE invoice_id = $1
	`
	res, err := t.tx.ExecContext(ctx, query,
		inv.InvoiceID, inv.Status, inv.InvoiceNumber, inv.InvoiceURL, inv.ReviewerID,
		inv.AdminNote, nullTime(inv.ReviewedAt), nullTime(inv.IssuedAt),
	)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListInvoices returns one page of invoices, newest first.
func (t *pgTx) ListInvoices(ctx context.Context, filter InvoiceFilter, page Page) ([]Invoice, int, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var conds []string
	var args []interface{}
	if filter.OperatorID != "" {
		args = append(args, filter.OperatorID)
		conds = append(conds, fmt.Sprintf("operator_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, page.Limit(), page.Offset())
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list invoices: %w", err)
	}
	return invoices, total, nil
}
