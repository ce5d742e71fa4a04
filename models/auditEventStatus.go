package models

import (
	"context"
	"time"

	"github.com/mmdatafocus/card_audit_backend/config"
)

// AuditEventStatus is a UI-facing view of one outbox row of a session.
type AuditEventStatus struct {
	RecordId         int            `json:"record_id"`
	EventType        AuditEventType `json:"event_type"`
	PublishStatus    string         `json:"publish_status"`
	PublishAttempts  int            `json:"publish_attempts"`
	NextAttemptAt    *time.Time     `json:"next_attempt_at"`
	LastPublishError *string        `json:"last_publish_error"`
	CreatedAt        time.Time      `json:"created_at"`
	PublishedAt      *time.Time     `json:"published_at"`
}

// GetAuditEventStatuses lists the lifecycle events of a session in the order they were written.
// Cancelled sessions are gone, so their events are only reachable through ops tooling.
func GetAuditEventStatuses(ctx context.Context, ownerId string, sessionId int) ([]AuditEventStatus, error) {
	session, err := GetAuditSession(ctx, ownerId, sessionId)
	if err != nil {
		return nil, err
	}
	var records []AuditEventRecord
	if err := config.GetDB().WithContext(ctx).
		Where("owner_id = ? AND session_id = ?", ownerId, session.ID).
		Order("id").
		Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]AuditEventStatus, 0, len(records))
	for _, r := range records {
		out = append(out, AuditEventStatus{
			RecordId:         r.ID,
			EventType:        r.EventType,
			PublishStatus:    r.PublishStatus,
			PublishAttempts:  r.PublishAttempts,
			NextAttemptAt:    r.NextAttemptAt,
			LastPublishError: r.LastPublishError,
			CreatedAt:        r.CreatedAt,
			PublishedAt:      r.PublishedAt,
		})
	}
	return out, nil
}
