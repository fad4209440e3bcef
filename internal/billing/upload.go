package billing

import (
	"context"

	"github.com/mrgun/server/internal/errors"
	"github.com/mrgun/server/internal/logger"
	"github.com/mrgun/server/internal/storage"
)

// UploadSession replaces the telemetry attached to a settled session.
// Re-uploads overwrite wholesale: the previous game session row and all
// its headset records are gone afterwards. Devices named in the upload
// are registered to the uploading operator; known ones get their name
// and last-seen time refreshed.
func (s *Service) UploadSession(ctx context.Context, operatorID string, up SessionUpload) error {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		usage, err := tx.GetUsageBySessionID(ctx, up.SessionID)
		if err == storage.ErrSessionNotFound {
			return errors.New(errors.ErrCodeSessionNotFound, "session not found")
		}
		if err != nil {
			return err
		}
		if usage.OperatorID != operatorID {
			return errors.New(errors.ErrCodeSessionAccessDenied, "session belongs to another operator")
		}

		now := s.now()
		start := usage.AuthorizedAt
		if up.StartTime != nil {
			start = *up.StartTime
		}
		session := &storage.GameSession{
			SessionID:   up.SessionID,
			StartTime:   start,
			EndTime:     up.EndTime,
			ProcessInfo: up.ProcessInfo,
			UploadedAt:  now,
		}

		headsets := make([]storage.HeadsetGameRecord, 0, len(up.Headsets))
		for _, h := range up.Headsets {
			h.SessionID = up.SessionID
			if h.StartTime.IsZero() {
				h.StartTime = start
			}
			headsets = append(headsets, h)
		}

		if err := tx.UpsertGameSession(ctx, up.SessionID, session, headsets); err != nil {
			return err
		}

		for _, h := range headsets {
			if h.DeviceID == "" {
				continue
			}
			device := &storage.HeadsetDevice{
				DeviceID:   h.DeviceID,
				OperatorID: operatorID,
				DeviceName: h.DeviceName,
				FirstSeen:  now,
				LastSeen:   now,
			}
			if err := tx.UpsertHeadsetDevice(ctx, device); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.ObserveSessionUpload("rejected")
		}
		if _, ok := errors.AsError(err); ok {
			return err
		}
		return s.classified(ctx, "session_upload", err)
	}

	if s.metrics != nil {
		s.metrics.ObserveSessionUpload("accepted")
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("session_id", up.SessionID).
		Int("headsets", len(up.Headsets)).
		Msg("session_upload.recorded")
	return nil
}
