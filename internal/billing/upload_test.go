package billing

import (
	"context"
	"testing"
	"time"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/money"
	"github.com/mrgun/server/internal/storage"
)

func authorizeSession(t *testing.T, svc *Service) string {
	res, err := svc.Authorize(context.Background(), "op_main", baseReq)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	return res.SessionID
}

func getSession(t *testing.T, store storage.Store, sessionID string) (*storage.GameSession, []storage.HeadsetGameRecord) {
	var (
		session  *storage.GameSession
		headsets []storage.HeadsetGameRecord
	)
	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		var err error
		session, headsets, err = tx.GetGameSession(ctx, sessionID)
		return err
	})
	if err != nil {
		t.Fatalf("get game session: %v", err)
	}
	return session, headsets
}

func TestUploadSession_RecordsTelemetry(t *testing.T) {
	svc, store := newTestService(t)
	sessionID := authorizeSession(t, svc)

	start := authNow.Add(time.Minute)
	end := authNow.Add(20 * time.Minute)
	err := svc.UploadSession(context.Background(), "op_main", SessionUpload{
		SessionID:   sessionID,
		StartTime:   &start,
		EndTime:     &end,
		ProcessInfo: "round 1 complete",
		Headsets: []storage.HeadsetGameRecord{
			{DeviceID: "hs_1", DeviceName: "Quest Left", StartTime: start, EndTime: &end},
			{DeviceID: "hs_2", DeviceName: "Quest Right", StartTime: start, EndTime: &end},
		},
	})
	if err != nil {
		t.Fatalf("UploadSession failed: %v", err)
	}

	session, headsets := getSession(t, store, sessionID)
	if !session.StartTime.Equal(start) {
		t.Errorf("StartTime = %v, want %v", session.StartTime, start)
	}
	if session.EndTime == nil || !session.EndTime.Equal(end) {
		t.Errorf("EndTime = %v, want %v", session.EndTime, end)
	}
	if session.ProcessInfo != "round 1 complete" {
		t.Errorf("ProcessInfo = %q", session.ProcessInfo)
	}
	if len(headsets) != 2 {
		t.Fatalf("headset count = %d, want 2", len(headsets))
	}
	for _, h := range headsets {
		if h.SessionID != sessionID {
			t.Errorf("headset %s carries session %s, want %s", h.DeviceID, h.SessionID, sessionID)
		}
	}

	// Both devices are now registered to the operator.
	err = store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		devices, err := tx.ListHeadsetDevices(ctx, "op_main")
		if err != nil {
			return err
		}
		if len(devices) != 2 {
			t.Errorf("device count = %d, want 2", len(devices))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
}

func TestUploadSession_ReplacesWholesale(t *testing.T) {
	svc, store := newTestService(t)
	sessionID := authorizeSession(t, svc)
	ctx := context.Background()

	err := svc.UploadSession(ctx, "op_main", SessionUpload{
		SessionID:   sessionID,
		ProcessInfo: "v1",
		Headsets: []storage.HeadsetGameRecord{
			{DeviceID: "hs_1", DeviceName: "Quest Left"},
			{DeviceID: "hs_2", DeviceName: "Quest Right"},
		},
	})
	if err != nil {
		t.Fatalf("first upload failed: %v", err)
	}

	// A re-upload replaces everything, including dropping hs_1/hs_2 from
	// the session in favour of the single new record.
	err = svc.UploadSession(ctx, "op_main", SessionUpload{
		SessionID:   sessionID,
		ProcessInfo: "v2",
		Headsets: []storage.HeadsetGameRecord{
			{DeviceID: "hs_3", DeviceName: "Quest Spare"},
		},
	})
	if err != nil {
		t.Fatalf("second upload failed: %v", err)
	}

	session, headsets := getSession(t, store, sessionID)
	if session.ProcessInfo != "v2" {
		t.Errorf("ProcessInfo = %q, want v2", session.ProcessInfo)
	}
	if len(headsets) != 1 || headsets[0].DeviceID != "hs_3" {
		t.Errorf("headsets after re-upload = %+v, want only hs_3", headsets)
	}
}

func TestUploadSession_DefaultsStartToAuthorization(t *testing.T) {
	svc, store := newTestService(t)
	sessionID := authorizeSession(t, svc)

	err := svc.UploadSession(context.Background(), "op_main", SessionUpload{
		SessionID: sessionID,
		Headsets:  []storage.HeadsetGameRecord{{DeviceID: "hs_1"}},
	})
	if err != nil {
		t.Fatalf("UploadSession failed: %v", err)
	}

	session, headsets := getSession(t, store, sessionID)
	if !session.StartTime.Equal(authNow) {
		t.Errorf("StartTime = %v, want authorisation instant %v", session.StartTime, authNow)
	}
	if len(headsets) != 1 || !headsets[0].StartTime.Equal(authNow) {
		t.Errorf("headset start = %+v, want %v", headsets, authNow)
	}
}

func TestUploadSession_UnknownSession(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.UploadSession(context.Background(), "op_main", SessionUpload{SessionID: "op_main_1_ffff"})
	if !errors.Is(err, errors.ErrCodeSessionNotFound) {
		t.Fatalf("error = %v, want session_not_found", err)
	}
}

func TestUploadSession_ForeignOperatorDenied(t *testing.T) {
	svc, store := newTestService(t)
	sessionID := authorizeSession(t, svc)
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateOperator(ctx, &storage.Operator{
			OperatorID:   "op_other",
			Username:     "venue-other",
			PasswordHash: "x",
			Balance:      money.Zero(),
			Tier:         storage.TierRegular,
			IsActive:     true,
			CreatedAt:    authNow,
			UpdatedAt:    authNow,
		})
	})
	if err != nil {
		t.Fatalf("create second operator: %v", err)
	}

	err = svc.UploadSession(ctx, "op_other", SessionUpload{
		SessionID:   sessionID,
		ProcessInfo: "hijack",
	})
	if !errors.Is(err, errors.ErrCodeSessionAccessDenied) {
		t.Fatalf("error = %v, want session_access_denied", err)
	}

	// The denied upload left no telemetry behind.
	err = store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, _, err := tx.GetGameSession(ctx, sessionID)
		return err
	})
	if err != storage.ErrNotFound {
		t.Fatalf("game session lookup = %v, want ErrNotFound", err)
	}
}
