package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mrgun/server/internal/config"
	"github.com/mrgun/server/internal/money"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// Page selects one slice of a list query. Page numbers are 1-based.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page to the supported range: number >= 1, size
// defaulting to 20 and capped at 100.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = 20
	}
	if p.Size > 100 {
		p.Size = 100
	}
	return p
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

// Limit returns the number of rows to fetch.
func (p Page) Limit() int {
	return p.Normalize().Size
}

// TransactionFilter narrows a ledger listing.
type TransactionFilter struct {
	OperatorID string
	Type       TransactionType // empty matches all types
}

// RefundFilter narrows a refund listing.
type RefundFilter struct {
	OperatorID string       // empty matches all operators
	Status     RefundStatus // empty matches all statuses
}

// InvoiceFilter narrows an invoice listing.
type InvoiceFilter struct {
	OperatorID string
	Status     InvoiceStatus
}

// ApplicationRequestFilter narrows an application request listing.
type ApplicationRequestFilter struct {
	OperatorID string
	Status     RequestStatus
}

// Tx is the entity surface available inside one unit of work. Every method
// sees the transaction's own uncommitted writes; nothing is visible to
// other callers until WithTx commits.
//
// List methods return the page slice plus the total row count, newest
// first unless stated otherwise.
type Tx interface {
	// Operators.
	//
	// CreateOperator returns ErrDuplicateUsername when the username is
	// taken. LockOperatorForUpdate takes the exclusive row lock that
	// orders all balance movements for the operator; it returns
	// ErrOperatorNotFound when absent. UpdateOperatorBalance writes only
	// the balance, running totals and updated_at, and is only valid after
	// the caller holds the row lock.
	CreateOperator(ctx context.Context, op *Operator) error
	GetOperator(ctx context.Context, operatorID string) (*Operator, error)
	GetOperatorByUsername(ctx context.Context, username string) (*Operator, error)
	LockOperatorForUpdate(ctx context.Context, operatorID string) (*Operator, error)
	UpdateOperator(ctx context.Context, op *Operator) error
	UpdateOperatorBalance(ctx context.Context, op *Operator) error
	ListOperators(ctx context.Context, page Page) ([]Operator, int, error)
	ListOperatorsBelowBalance(ctx context.Context, threshold money.Amount) ([]Operator, error)

	// Admin accounts.
	CreateAdmin(ctx context.Context, admin *Admin) error
	GetAdmin(ctx context.Context, adminID string) (*Admin, error)
	GetAdminByUsername(ctx context.Context, username string) (*Admin, error)

	// Application catalog. CreateApplication returns ErrDuplicateAppCode
	// when the app code is taken.
	CreateApplication(ctx context.Context, app *Application) error
	GetApplication(ctx context.Context, applicationID string) (*Application, error)
	GetApplicationByCode(ctx context.Context, appCode string) (*Application, error)
	UpdateApplication(ctx context.Context, app *Application) error
	ListApplications(ctx context.Context, onlyActive bool, page Page) ([]Application, int, error)

	// Grants. UpsertAuthorization replaces any existing grant for the
	// (operator, application) pair.
	UpsertAuthorization(ctx context.Context, grant *Authorization) error
	GetAuthorization(ctx context.Context, operatorID, applicationID string) (*Authorization, error)
	ListAuthorizedApplications(ctx context.Context, operatorID string) ([]Application, error)

	// Application requests.
	CreateApplicationRequest(ctx context.Context, req *ApplicationRequest) error
	GetApplicationRequest(ctx context.Context, requestID string) (*ApplicationRequest, error)
	UpdateApplicationRequest(ctx context.Context, req *ApplicationRequest) error
	ListApplicationRequests(ctx context.Context, filter ApplicationRequestFilter, page Page) ([]ApplicationRequest, int, error)
	FindPendingApplicationRequest(ctx context.Context, operatorID, applicationID string) (*ApplicationRequest, error)

	// Sites. SoftDeleteSite marks the row deleted but keeps it resolvable
	// for usage history.
	CreateSite(ctx context.Context, site *Site) error
	GetSite(ctx context.Context, siteID string) (*Site, error)
	UpdateSite(ctx context.Context, site *Site) error
	SoftDeleteSite(ctx context.Context, siteID string, now time.Time) error
	ListSites(ctx context.Context, operatorID string) ([]Site, error)

	// Usage records and game sessions.
	//
	// FindUsageByBusinessKey returns the most recent record matching the
	// key with authorized_at >= since, or ErrNotFound.
	// InsertUsageAndTransaction writes the usage record and its paired
	// consumption transaction together; a session_id collision returns
	// ErrSessionConflict and writes nothing.
	// UpsertGameSession replaces the uploaded session and all headset
	// records wholesale; ErrSessionNotFound when no usage record carries
	// the session id.
	FindUsageByBusinessKey(ctx context.Context, key BusinessKey, since time.Time) (*UsageRecord, error)
	InsertUsageAndTransaction(ctx context.Context, usage *UsageRecord, txn *Transaction) error
	GetUsageBySessionID(ctx context.Context, sessionID string) (*UsageRecord, error)
	ListUsageRecords(ctx context.Context, operatorID string, page Page) ([]UsageRecord, int, error)
	UpsertGameSession(ctx context.Context, sessionID string, session *GameSession, headsets []HeadsetGameRecord) error
	GetGameSession(ctx context.Context, sessionID string) (*GameSession, []HeadsetGameRecord, error)
	UpsertHeadsetDevice(ctx context.Context, device *HeadsetDevice) error
	ListHeadsetDevices(ctx context.Context, operatorID string) ([]HeadsetDevice, error)

	// Ledger. Transactions are append-only; GetTransactionByRelatedID
	// finds the movement a usage record, recharge order or refund caused.
	InsertTransaction(ctx context.Context, txn *Transaction) error
	GetTransactionByRelatedID(ctx context.Context, relatedID string, txType TransactionType) (*Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter, page Page) ([]Transaction, int, error)

	// Recharge orders. LockRechargeOrderForUpdate takes the row lock the
	// gateway callback path serialises on.
	CreateRechargeOrder(ctx context.Context, order *RechargeOrder) error
	GetRechargeOrder(ctx context.Context, orderID string) (*RechargeOrder, error)
	LockRechargeOrderForUpdate(ctx context.Context, orderID string) (*RechargeOrder, error)
	UpdateRechargeOrder(ctx context.Context, order *RechargeOrder) error
	ListRechargeOrders(ctx context.Context, operatorID string, page Page) ([]RechargeOrder, int, error)

	// Refunds.
	CreateRefund(ctx context.Context, refund *Refund) error
	GetRefund(ctx context.Context, refundID string) (*Refund, error)
	UpdateRefund(ctx context.Context, refund *Refund) error
	ListRefunds(ctx context.Context, filter RefundFilter, page Page) ([]Refund, int, error)

	// Invoices.
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	ListInvoices(ctx context.Context, filter InvoiceFilter, page Page) ([]Invoice, int, error)
}

// Store opens units of work against the ledger database.
type Store interface {
	// WithTx runs fn inside one transaction: commit when fn returns nil,
	// rollback otherwise. A WithTx call made with a context already inside
	// a transaction joins the parent instead of opening a nested one.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// The notification queue rides on the same backend so queued events
	// survive restarts together with the ledger.
	WebhookQueue

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// StoreConfig holds storage backend configuration.
type StoreConfig struct {
	Backend      string // "postgres" or "memory"
	PostgresURL  string
	PostgresPool config.PostgresPoolConfig
}

// NewStore creates a Store instance based on the provided configuration.
func NewStore(cfg StoreConfig) (Store, error) {
	return NewStoreWithDB(cfg, nil)
}

// NewStoreWithDB creates a Store instance with an optional shared database
// pool. If sharedDB is non-nil for the postgres backend it is used instead
// of opening a new connection; pass nil to let the store own its pool.
func NewStoreWithDB(cfg StoreConfig, sharedDB *sql.DB) (Store, error) {
	switch cfg.Backend {
	case "memory":
		// Memory backend loses the whole ledger on restart. Tests and
		// local development only.
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.PostgresURL == "" && sharedDB == nil {
			return nil, fmt.Errorf("postgres backend requires postgres_url")
		}
		if sharedDB != nil {
			return NewPostgresStoreWithDB(sharedDB)
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.PostgresPool)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
