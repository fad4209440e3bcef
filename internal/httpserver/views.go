package httpserver

import (
	"encoding/json"
	"time"

	"github.com/mrgun/server/internal/backoffice"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
)

// wireTime renders timestamps as ISO-8601 UTC with millisecond
// precision, the only timestamp format this API speaks.
type wireTime time.Time

func (t wireTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format("2006-01-02T15:04:05.000Z07:00"))
}

func wireTimePtr(t *time.Time) *wireTime {
	if t == nil {
		return nil
	}
	wt := wireTime(*t)
	return &wt
}

// operatorView is the account representation logins, the profile
// endpoint and the admin detail pages share. The password hash never
// appears on the wire.
type operatorView struct {
	OperatorID     string       `json:"operator_id"`
	Username       string       `json:"username"`
	DisplayName    string       `json:"display_name"`
	ContactPerson  string       `json:"contact_person,omitempty"`
	ContactPhone   string       `json:"contact_phone,omitempty"`
	Email          string       `json:"email,omitempty"`
	Balance        money.Amount `json:"balance"`
	TotalRecharged money.Amount `json:"total_recharged"`
	TotalConsumed  money.Amount `json:"total_consumed"`
	TotalRefunded  money.Amount `json:"total_refunded"`
	Tier           string       `json:"customer_tier"`
	IsActive       bool         `json:"is_active"`
	IsLocked       bool         `json:"is_locked"`
	LockReason     string       `json:"lock_reason,omitempty"`
	LockedAt       *wireTime    `json:"locked_at,omitempty"`
	CreatedAt      wireTime     `json:"created_at"`
	UpdatedAt      wireTime     `json:"updated_at"`
}

func viewOperator(op *storage.Operator) operatorView {
	return operatorView{
		OperatorID:     op.OperatorID,
		Username:       op.Username,
		DisplayName:    op.DisplayName,
		ContactPerson:  op.ContactPerson,
		ContactPhone:   op.ContactPhone,
		Email:          op.Email,
		Balance:        op.Balance,
		TotalRecharged: op.TotalRecharged,
		TotalConsumed:  op.TotalConsumed,
		TotalRefunded:  op.TotalRefunded,
		Tier:           string(op.Tier),
		IsActive:       op.IsActive,
		IsLocked:       op.IsLocked,
		LockReason:     op.LockReason,
		LockedAt:       wireTimePtr(op.LockedAt),
		CreatedAt:      wireTime(op.CreatedAt),
		UpdatedAt:      wireTime(op.UpdatedAt),
	}
}

func viewOperators(ops []storage.Operator) []operatorView {
	views := make([]operatorView, len(ops))
	for i := range ops {
		views[i] = viewOperator(&ops[i])
	}
	return views
}

// applicationView is a catalog entry. Headsets only ever see app_code;
// the UUID travels on the web portal surfaces, where grant requests
// reference it.
type applicationView struct {
	ApplicationID string       `json:"application_id"`
	AppCode       string       `json:"app_code"`
	AppName       string       `json:"app_name"`
	Description   string       `json:"description,omitempty"`
	UnitPrice     money.Amount `json:"unit_price"`
	MinPlayers    int          `json:"min_players"`
	MaxPlayers    int          `json:"max_players"`
	IsActive      bool         `json:"is_active"`
	CreatedAt     wireTime     `json:"created_at"`
	UpdatedAt     wireTime     `json:"updated_at"`
}

func viewApplication(app *storage.Application) applicationView {
	return applicationView{
		ApplicationID: app.ApplicationID,
		AppCode:       app.AppCode,
		AppName:       app.AppName,
		Description:   app.Description,
		UnitPrice:     app.UnitPrice,
		MinPlayers:    app.MinPlayers,
		MaxPlayers:    app.MaxPlayers,
		IsActive:      app.IsActive,
		CreatedAt:     wireTime(app.CreatedAt),
		UpdatedAt:     wireTime(app.UpdatedAt),
	}
}

func viewApplications(apps []storage.Application) []applicationView {
	views := make([]applicationView, len(apps))
	for i := range apps {
		views[i] = viewApplication(&apps[i])
	}
	return views
}

// grantedApplicationView pairs a catalog entry with the grant window the
// operator holds on it.
type grantedApplicationView struct {
	applicationView
	GrantedAt wireTime  `json:"granted_at"`
	ExpiresAt *wireTime `json:"expires_at,omitempty"`
}

func viewGrantedApplications(grants []backoffice.GrantedApplication) []grantedApplicationView {
	views := make([]grantedApplicationView, len(grants))
	for i := range grants {
		views[i] = grantedApplicationView{
			applicationView: viewApplication(&grants[i].Application),
			GrantedAt:       wireTime(grants[i].GrantedAt),
			ExpiresAt:       wireTimePtr(grants[i].ExpiresAt),
		}
	}
	return views
}

type siteView struct {
	SiteID        string   `json:"site_id"`
	Name          string   `json:"name"`
	Address       string   `json:"address,omitempty"`
	ContactPerson string   `json:"contact_person,omitempty"`
	ContactPhone  string   `json:"contact_phone,omitempty"`
	IsActive      bool     `json:"is_active"`
	CreatedAt     wireTime `json:"created_at"`
	UpdatedAt     wireTime `json:"updated_at"`
}

func viewSite(site *storage.Site) siteView {
	return siteView{
		SiteID:        site.SiteID,
		Name:          site.Name,
		Address:       site.Address,
		ContactPerson: site.ContactPerson,
		ContactPhone:  site.ContactPhone,
		IsActive:      site.IsActive,
		CreatedAt:     wireTime(site.CreatedAt),
		UpdatedAt:     wireTime(site.UpdatedAt),
	}
}

func viewSites(sites []storage.Site) []siteView {
	views := make([]siteView, len(sites))
	for i := range sites {
		views[i] = viewSite(&sites[i])
	}
	return views
}

type transactionView struct {
	TransactionID string       `json:"transaction_id"`
	OperatorID    string       `json:"operator_id"`
	Type          string       `json:"type"`
	Amount        money.Amount `json:"amount"`
	BalanceBefore money.Amount `json:"balance_before"`
	BalanceAfter  money.Amount `json:"balance_after"`
	Description   string       `json:"description,omitempty"`
	RelatedID     string       `json:"related_id,omitempty"`
	CreatedAt     wireTime     `json:"created_at"`
}

func viewTransaction(txn *storage.Transaction) transactionView {
	return transactionView{
		TransactionID: txn.TransactionID,
		OperatorID:    txn.OperatorID,
		Type:          string(txn.Type),
		Amount:        txn.Amount,
		BalanceBefore: txn.BalanceBefore,
		BalanceAfter:  txn.BalanceAfter,
		Description:   txn.Description,
		RelatedID:     txn.RelatedID,
		CreatedAt:     wireTime(txn.CreatedAt),
	}
}

func viewTransactions(txns []storage.Transaction) []transactionView {
	views := make([]transactionView, len(txns))
	for i := range txns {
		views[i] = viewTransaction(&txns[i])
	}
	return views
}

type usageRecordView struct {
	UsageRecordID string       `json:"usage_record_id"`
	SessionID     string       `json:"session_id"`
	ApplicationID string       `json:"application_id"`
	SiteID        string       `json:"site_id"`
	PlayerCount   int          `json:"player_count"`
	UnitPrice     money.Amount `json:"unit_price"`
	TotalCost     money.Amount `json:"total_cost"`
	BalanceAfter  money.Amount `json:"balance_after"`
	AuthorizedAt  wireTime     `json:"authorized_at"`
}

func viewUsageRecords(records []storage.UsageRecord) []usageRecordView {
	views := make([]usageRecordView, len(records))
	for i, rec := range records {
		views[i] = usageRecordView{
			UsageRecordID: rec.UsageRecordID,
			SessionID:     rec.SessionID,
			ApplicationID: rec.ApplicationID,
			SiteID:        rec.SiteID,
			PlayerCount:   rec.PlayerCount,
			UnitPrice:     rec.UnitPrice,
			TotalCost:     rec.TotalCost,
			BalanceAfter:  rec.BalanceAfter,
			AuthorizedAt:  wireTime(rec.AuthorizedAt),
		}
	}
	return views
}

type applicationRequestView struct {
	RequestID     string    `json:"request_id"`
	OperatorID    string    `json:"operator_id"`
	ApplicationID string    `json:"application_id"`
	Reason        string    `json:"reason,omitempty"`
	Status        string    `json:"status"`
	ReviewerID    string    `json:"reviewer_id,omitempty"`
	AdminNote     string    `json:"admin_note,omitempty"`
	CreatedAt     wireTime  `json:"created_at"`
	ReviewedAt    *wireTime `json:"reviewed_at,omitempty"`
}

func viewApplicationRequest(req *storage.ApplicationRequest) applicationRequestView {
	return applicationRequestView{
		RequestID:     req.RequestID,
		OperatorID:    req.OperatorID,
		ApplicationID: req.ApplicationID,
		Reason:        req.Reason,
		Status:        string(req.Status),
		ReviewerID:    req.ReviewerID,
		AdminNote:     req.AdminNote,
		CreatedAt:     wireTime(req.CreatedAt),
		ReviewedAt:    wireTimePtr(req.ReviewedAt),
	}
}

func viewApplicationRequests(reqs []storage.ApplicationRequest) []applicationRequestView {
	views := make([]applicationRequestView, len(reqs))
	for i := range reqs {
		views[i] = viewApplicationRequest(&reqs[i])
	}
	return views
}

type rechargeOrderView struct {
	OrderID    string       `json:"order_id"`
	OperatorID string       `json:"operator_id"`
	Amount     money.Amount `json:"amount"`
	Method     string       `json:"payment_method"`
	Status     string       `json:"status"`
	ExpiresAt  wireTime     `json:"expires_at"`
	PaidAt     *wireTime    `json:"paid_at,omitempty"`
	CreatedAt  wireTime     `json:"created_at"`
}

func viewRechargeOrder(order *storage.RechargeOrder) rechargeOrderView {
	return rechargeOrderView{
		OrderID:    order.OrderID,
		OperatorID: order.OperatorID,
		Amount:     order.Amount,
		Method:     string(order.Method),
		Status:     string(order.Status),
		ExpiresAt:  wireTime(order.ExpiresAt),
		PaidAt:     wireTimePtr(order.PaidAt),
		CreatedAt:  wireTime(order.CreatedAt),
	}
}

func viewRechargeOrders(orders []storage.RechargeOrder) []rechargeOrderView {
	views := make([]rechargeOrderView, len(orders))
	for i := range orders {
		views[i] = viewRechargeOrder(&orders[i])
	}
	return views
}

type refundView struct {
	RefundID     string       `json:"refund_id"`
	OperatorID   string       `json:"operator_id"`
	Amount       money.Amount `json:"amount"`
	Reason       string       `json:"reason,omitempty"`
	Status       string       `json:"status"`
	ReviewerID   string       `json:"reviewer_id,omitempty"`
	AdminNote    string       `json:"admin_note,omitempty"`
	RejectReason string       `json:"reject_reason,omitempty"`
	CreatedAt    wireTime     `json:"created_at"`
	ReviewedAt   *wireTime    `json:"reviewed_at,omitempty"`
	CompletedAt  *wireTime    `json:"completed_at,omitempty"`
}

func viewRefund(refund *storage.Refund) refundView {
	return refundView{
		RefundID:     refund.RefundID,
		OperatorID:   refund.OperatorID,
		Amount:       refund.Amount,
		Reason:       refund.Reason,
		Status:       string(refund.Status),
		ReviewerID:   refund.ReviewerID,
		AdminNote:    refund.AdminNote,
		RejectReason: refund.RejectReason,
		CreatedAt:    wireTime(refund.CreatedAt),
		ReviewedAt:   wireTimePtr(refund.ReviewedAt),
		CompletedAt:  wireTimePtr(refund.CompletedAt),
	}
}

func viewRefunds(refunds []storage.Refund) []refundView {
	views := make([]refundView, len(refunds))
	for i := range refunds {
		views[i] = viewRefund(&refunds[i])
	}
	return views
}

type invoiceView struct {
	InvoiceID     string       `json:"invoice_id"`
	OperatorID    string       `json:"operator_id"`
	Type          string       `json:"invoice_type"`
	Amount        money.Amount `json:"amount"`
	Title         string       `json:"title"`
	TaxNumber     string       `json:"tax_number,omitempty"`
	Address       string       `json:"address,omitempty"`
	Phone         string       `json:"phone,omitempty"`
	BankName      string       `json:"bank_name,omitempty"`
	BankAccount   string       `json:"bank_account,omitempty"`
	Status        string       `json:"status"`
	InvoiceNumber string       `json:"invoice_number,omitempty"`
	InvoiceURL    string       `json:"invoice_url,omitempty"`
	ReviewerID    string       `json:"reviewer_id,omitempty"`
	AdminNote     string       `json:"admin_note,omitempty"`
	CreatedAt     wireTime     `json:"created_at"`
	ReviewedAt    *wireTime    `json:"reviewed_at,omitempty"`
	IssuedAt      *wireTime    `json:"issued_at,omitempty"`
}

func viewInvoice(inv *storage.Invoice) invoiceView {
	return invoiceView{
		InvoiceID:     inv.InvoiceID,
		OperatorID:    inv.OperatorID,
		Type:          string(inv.Type),
		Amount:        inv.Amount,
		Title:         inv.Title,
		TaxNumber:     inv.TaxNumber,
		Address:       inv.Address,
		Phone:         inv.Phone,
		BankName:      inv.BankName,
		BankAccount:   inv.BankAccount,
		Status:        string(inv.Status),
		InvoiceNumber: inv.InvoiceNumber,
		InvoiceURL:    inv.InvoiceURL,
		ReviewerID:    inv.ReviewerID,
		AdminNote:     inv.AdminNote,
		CreatedAt:     wireTime(inv.CreatedAt),
		ReviewedAt:    wireTimePtr(inv.ReviewedAt),
		IssuedAt:      wireTimePtr(inv.IssuedAt),
	}
}

func viewInvoices(invs []storage.Invoice) []invoiceView {
	views := make([]invoiceView, len(invs))
	for i := range invs {
		views[i] = viewInvoice(&invs[i])
	}
	return views
}
