package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/card_audit_backend/utils"
	"gorm.io/gorm"
)

// AuditEventRecord is the transactional outbox for session lifecycle events.
// Rows are written inside the state change's transaction and published after commit.
type AuditEventRecord struct {
	ID               int            `gorm:"primary_key;index:idx_audit_outbox_dispatch,priority:3" json:"id"`
	OwnerId          string         `gorm:"size:64;not null;index" json:"owner_id"`
	SessionId        int            `gorm:"not null;index" json:"session_id"`
	EventType        AuditEventType `gorm:"size:64;not null" json:"event_type"`
	Payload          []byte         `gorm:"type:blob" json:"payload"`
	CorrelationId    string         `gorm:"size:64;index" json:"correlation_id"`
	PublishStatus    string         `gorm:"size:20;index;not null;default:'PENDING';index:idx_audit_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time     `gorm:"index" json:"published_at"`
	PubSubMessageId  *string        `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int            `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time     `gorm:"index;index:idx_audit_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time     `gorm:"index" json:"locked_at"`
	LockedBy         *string        `gorm:"size:100" json:"locked_by"`
	LastPublishError *string        `gorm:"type:text" json:"last_publish_error"`
	CreatedAt        time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// AuditEventMessage is the Pub/Sub wire form of an AuditEventRecord.
type AuditEventMessage struct {
	ID            int             `json:"id"`
	OwnerId       string          `json:"owner_id"`
	SessionId     int             `json:"session_id"`
	EventType     AuditEventType  `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationId string          `json:"correlation_id"`
}

func ConvertToAuditEventMessage(record AuditEventRecord) AuditEventMessage {
	msg := AuditEventMessage{
		ID:            record.ID,
		OwnerId:       record.OwnerId,
		SessionId:     record.SessionId,
		EventType:     record.EventType,
		OccurredAt:    record.CreatedAt,
		CorrelationId: record.CorrelationId,
	}
	if len(record.Payload) > 0 && json.Valid(record.Payload) {
		msg.Payload = json.RawMessage(record.Payload)
	}
	return msg
}

// PublishAuditEvent enqueues an event in tx; it becomes visible to the dispatcher only on commit.
func PublishAuditEvent(ctx context.Context, tx *gorm.DB, session *AuditSession, eventType AuditEventType, payload any) error {
	var data []byte
	if payload != nil {
		raw, err := utils.MarshalToJSON(payload)
		if err != nil {
			return err
		}
		data = []byte(raw)
	}
	now := time.Now().UTC()
	record := AuditEventRecord{
		OwnerId:       session.OwnerId,
		SessionId:     session.ID,
		EventType:     eventType,
		Payload:       data,
		CorrelationId: correlationId(ctx),
		PublishStatus: OutboxPublishStatusPending,
		NextAttemptAt: &now,
	}
	return tx.WithContext(ctx).Create(&record).Error
}
