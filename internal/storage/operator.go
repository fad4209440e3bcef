package storage

import (
	"errors"
	"time"

	"github.com/mrgun/server/internal/money"
)

// ErrOperatorNotFound is returned when an operator lookup misses.
var ErrOperatorNotFound = errors.New("operator not found")

// ErrDuplicateUsername is returned when a username is already taken.
var ErrDuplicateUsername = errors.New("username already exists")

// CustomerTier classifies an operator account for back-office reporting.
// The tier never changes billing maths; pricing comes from the application
// catalog alone.
type CustomerTier string

const (
	TierTrial   CustomerTier = "trial"
	TierRegular CustomerTier = "regular"
	TierVIP     CustomerTier = "vip"
)

// Valid reports whether the tier is one of the closed set.
func (t CustomerTier) Valid() bool {
	switch t {
	case TierTrial, TierRegular, TierVIP:
		return true
	}
	return false
}

// Operator is a venue account holding a prepaid CNY balance.
// Balance and the running totals move only inside ledger transactions.
type Operator struct {
	OperatorID     string
	Username       string // unique login name
	PasswordHash   string // bcrypt
	DisplayName    string
	ContactPerson  string
	ContactPhone   string
	Email          string
	Balance        money.Amount // never negative once committed
	TotalRecharged money.Amount
	TotalConsumed  money.Amount
	TotalRefunded  money.Amount
	Tier           CustomerTier
	IsActive       bool
	IsLocked       bool
	LockReason     string
	LockedAt       *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanAuthorize reports whether the account may start paid game sessions.
// Locked and deactivated accounts both fail the same way.
func (o *Operator) CanAuthorize() bool {
	return o.IsActive && !o.IsLocked
}

// AdminRole identifies what a back-office account may do. The capability
// matrix is fixed in code; there is no per-account permission store.
type AdminRole string

const (
	RoleSuperAdmin        AdminRole = "super_admin"
	RoleAdmin             AdminRole = "admin"
	RoleFinanceSpecialist AdminRole = "finance_specialist"
	RoleFinanceManager    AdminRole = "finance_manager"
	RoleFinanceAuditor    AdminRole = "finance_auditor"
)

// Valid reports whether the role is one of the closed set.
func (r AdminRole) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleFinanceSpecialist, RoleFinanceManager, RoleFinanceAuditor:
		return true
	}
	return false
}

// CanManageOperators reports whether the role may use /admin endpoints.
func (r AdminRole) CanManageOperators() bool {
	return r == RoleSuperAdmin || r == RoleAdmin
}

// CanViewFinance reports whether the role may read /finance queues.
func (r AdminRole) CanViewFinance() bool {
	switch r {
	case RoleSuperAdmin, RoleFinanceSpecialist, RoleFinanceManager, RoleFinanceAuditor:
		return true
	}
	return false
}

// CanReviewFinance reports whether the role may approve, reject or settle
// refunds and invoices. Auditors read the queues but never act on them.
func (r AdminRole) CanReviewFinance() bool {
	switch r {
	case RoleSuperAdmin, RoleFinanceSpecialist, RoleFinanceManager:
		return true
	}
	return false
}

// IsFinance reports whether the role belongs to the finance desk at all.
// Token verification uses this to pick the finance type claim.
func (r AdminRole) IsFinance() bool {
	switch r {
	case RoleFinanceSpecialist, RoleFinanceManager, RoleFinanceAuditor:
		return true
	}
	return false
}

// Admin is a back-office account.
type Admin struct {
	AdminID      string
	Username     string // unique login name
	PasswordHash string // bcrypt
	DisplayName  string
	Role         AdminRole
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
