package storage

import (
	"errors"
	"time"

	"github.com/mrgun/server/internal/money"
)

// ErrDuplicateAppCode is returned when an app code is already registered.
var ErrDuplicateAppCode = errors.New("app code already exists")

// Application is a catalog entry for a licensed MR game title.
// AppCode is the immutable identifier headsets send; the UUID primary key
// is internal and never leaves the back office.
type Application struct {
	ApplicationID string
	AppCode       string // unique, immutable, sent by headsets
	AppName       string
	Description   string
	UnitPrice     money.Amount // per player per session
	MinPlayers    int
	MaxPlayers    int
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AllowsPlayerCount reports whether the count falls inside the configured
// player range. Both bounds are inclusive.
func (a *Application) AllowsPlayerCount(n int) bool {
	return n >= a.MinPlayers && n <= a.MaxPlayers
}

// Authorization grants one operator the right to run one application.
// At most one grant exists per (operator, application) pair; re-granting
// replaces the previous row.
type Authorization struct {
	OperatorID    string
	ApplicationID string
	GrantedBy     string // admin who approved the request
	GrantedAt     time.Time
	ExpiresAt     *time.Time // nil = does not expire
}

// IsActiveAt reports whether the grant is usable at the given moment.
func (g *Authorization) IsActiveAt(now time.Time) bool {
	return g.ExpiresAt == nil || now.Before(*g.ExpiresAt)
}

// RequestStatus tracks the review state of an application request.
type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusApproved RequestStatus = "approved"
	RequestStatusRejected RequestStatus = "rejected"
)

// Valid reports whether the status is one of the closed set.
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending, RequestStatusApproved, RequestStatusRejected:
		return true
	}
	return false
}

// ApplicationRequest is an operator's ask for access to a catalog title.
// Approval upserts the Authorization in the same transaction.
type ApplicationRequest struct {
	RequestID     string
	OperatorID    string
	ApplicationID string
	Reason        string
	Status        RequestStatus
	ReviewerID    string // admin who reviewed, empty while pending
	AdminNote     string
	CreatedAt     time.Time
	ReviewedAt    *time.Time
}
