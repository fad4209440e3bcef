package billing

import (
	"time"

	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
)

// PreAuthorizeResult is the priced answer to an eligibility check.
// It reserves nothing.
type PreAuthorizeResult struct {
	CanAuthorize   bool
	AppName        string
	UnitPrice      money.Amount
	TotalCost      money.Amount
	CurrentBalance money.Amount
}

// AuthorizeResult is the settled outcome of an authorise call. Replayed
// marks answers served from the business-key window: the session was
// debited by an earlier request and no money moved this time.
type AuthorizeResult struct {
	SessionID    string
	AppName      string
	PlayerCount  int
	UnitPrice    money.Amount
	TotalCost    money.Amount
	BalanceAfter money.Amount
	AuthorizedAt time.Time
	Replayed     bool
}

// SessionUpload is the telemetry a headset posts after play ends.
// StartTime is optional; absent values default to the authorisation
// instant of the session being annotated.
type SessionUpload struct {
	SessionID   string
	StartTime   *time.Time
	EndTime     *time.Time
	ProcessInfo string
	Headsets    []storage.HeadsetGameRecord
}
