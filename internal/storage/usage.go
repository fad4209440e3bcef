package storage

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/mrgun/server/internal/money"
)

// ErrSessionConflict is returned when an inserted session_id already exists.
var ErrSessionConflict = errors.New("session id already exists")

// ErrSessionNotFound is returned when no usage record carries the session id.
var ErrSessionNotFound = errors.New("session not found")

// BusinessKey identifies an authorisation attempt for idempotency purposes.
// Two requests with the same key inside the dedupe window are the same
// business event and must debit once.
type BusinessKey struct {
	OperatorID    string
	ApplicationID string
	SiteID        string
	PlayerCount   int
}

// UsageRecord is the billing fact written by a successful authorisation.
// Exactly one consumption transaction references it. UnitPrice and
// TotalCost are snapshots; later catalog price changes never touch them.
type UsageRecord struct {
	UsageRecordID string
	SessionID     string // globally unique, {operator}_{ms}_{16 hex}
	OperatorID    string
	ApplicationID string
	SiteID        string
	PlayerCount   int
	UnitPrice     money.Amount // catalog price at authorisation time
	TotalCost     money.Amount // unit price x player count
	BalanceAfter  money.Amount // operator balance after the debit
	AuthorizedAt  time.Time
	CreatedAt     time.Time
}

// Key returns the business key this record answers for.
func (u *UsageRecord) Key() BusinessKey {
	return BusinessKey{
		OperatorID:    u.OperatorID,
		ApplicationID: u.ApplicationID,
		SiteID:        u.SiteID,
		PlayerCount:   u.PlayerCount,
	}
}

// GameSession is the telemetry a headset uploads after play ends.
// Each upload replaces the previous session wholesale.
type GameSession struct {
	SessionID   string
	StartTime   time.Time
	EndTime     *time.Time // nil when the client never saw a clean shutdown
	ProcessInfo string
	UploadedAt  time.Time
}

// HeadsetGameRecord is one device's slice of an uploaded game session.
type HeadsetGameRecord struct {
	SessionID   string
	DeviceID    string
	DeviceName  string
	StartTime   time.Time
	EndTime     *time.Time
	ProcessInfo string
}

// HeadsetDevice is a headset known to belong to an operator. Rows appear
// the first time a device shows up in a session upload.
type HeadsetDevice struct {
	DeviceID   string
	OperatorID string
	DeviceName string
	FirstSeen  time.Time
	LastSeen   time.Time
}

// NewSessionID builds a session identifier in the wire format headsets and
// venue tooling parse: operator id, millisecond timestamp, 16 hex chars of
// randomness. Collisions are possible in theory; the insert path treats
// ErrSessionConflict as a cue to regenerate.
func NewSessionID(operatorID string, now time.Time) (string, error) {
	b := make([]byte, 8) // 16 hex characters
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return fmt.Sprintf("%s_%d_%s", operatorID, now.UnixMilli(), hex.EncodeToString(b)), nil
}
