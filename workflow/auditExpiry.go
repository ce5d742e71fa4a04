package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/sirupsen/logrus"
)

type ExpirySweepResult struct {
	Expired   []models.AuditSession
	Cancelled int
	Failed    int
}

// ExpireAuditSessions cancels active sessions whose expires_at is at or before now.
// dryRun only lists them. A session finished concurrently is skipped, not counted as failed.
func ExpireAuditSessions(ctx context.Context, logger *logrus.Logger, now time.Time, limit int, dryRun bool) (*ExpirySweepResult, error) {
	expired, err := models.ListExpiredAuditSessions(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	result := &ExpirySweepResult{Expired: expired}
	if dryRun {
		return result, nil
	}

	for _, s := range expired {
		err := models.CancelAuditSession(ctx, s.OwnerId, s.ID)
		switch {
		case err == nil:
			result.Cancelled++
		case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrInvalidState):
			// resolved elsewhere since the listing
		default:
			result.Failed++
			if logger != nil {
				config.LogError(logger, "AuditExpiry", "ExpireAuditSessions", "cancel", s.ID, err)
			}
		}
	}
	return result, nil
}
