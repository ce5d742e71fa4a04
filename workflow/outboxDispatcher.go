package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Publisher delivers one audit event and returns the broker's message id.
type Publisher interface {
	Publish(ctx context.Context, msg models.AuditEventMessage) (string, error)
}

// PubSubPublisher publishes audit events to a Google Pub/Sub topic.
type PubSubPublisher struct {
	Topic string
}

func NewPubSubPublisher(topic string) *PubSubPublisher {
	return &PubSubPublisher{Topic: topic}
}

func (p *PubSubPublisher) Publish(ctx context.Context, msg models.AuditEventMessage) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	return config.PublishWithResult(ctx, p.Topic, data, map[string]string{
		"event_type": string(msg.EventType),
		"owner_id":   msg.OwnerId,
	})
}

type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Publisher    Publisher
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger, publisher Publisher) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		Publisher:      publisher,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch, publishes it and records the outcome. Returns the number of rows claimed.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) int {
	db := d.DB
	if db == nil || d.Publisher == nil {
		return 0
	}
	now := time.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)

	var claimed []models.AuditEventRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING with a stale lock (dispatcher died mid-batch)
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now, models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize)
		if config.IsMySQL(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			// poison messages go terminal (DLQ equivalent)
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				if err := tx.Model(&models.AuditEventRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":     models.OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &d.DispatcherID
			claimed[i].PublishAttempts++
			if err := tx.Model(&models.AuditEventRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":     claimed[i].PublishStatus,
				"locked_at":          claimed[i].LockedAt,
				"locked_by":          claimed[i].LockedBy,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if d.Logger != nil {
			config.LogError(d.Logger, "OutboxDispatcher", "DispatchOnce", "claim batch", nil, err)
		}
		return 0
	}

	for _, rec := range claimed {
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			continue
		}
		pubID, pubErr := d.Publisher.Publish(ctx, models.ConvertToAuditEventMessage(rec))
		if pubErr != nil {
			d.markPublishFailed(ctx, rec, pubErr)
			continue
		}
		d.markPublishSent(ctx, rec.ID, pubID)
	}
	return len(claimed)
}

func (d *OutboxDispatcher) markPublishSent(ctx context.Context, recordID int, pubsubMsgID string) {
	now := time.Now().UTC()
	id := pubsubMsgID
	err := d.DB.WithContext(ctx).Model(&models.AuditEventRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusSent,
			"published_at":       &now,
			"pub_sub_message_id": &id,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error
	if err != nil && d.Logger != nil {
		config.LogError(d.Logger, "OutboxDispatcher", "markPublishSent", "update record", recordID, err)
	}
}

func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, rec models.AuditEventRecord, err error) {
	db := d.DB.WithContext(ctx)
	msg := err.Error()
	attempt := rec.PublishAttempts

	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		_ = db.Model(&models.AuditEventRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusDead,
				"last_publish_error": &msg,
				"next_attempt_at":    nil,
				"locked_at":          nil,
				"locked_by":          nil,
			}).Error

		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":      "OutboxDispatcher",
				"owner_id":   rec.OwnerId,
				"session_id": rec.SessionId,
				"record_id":  rec.ID,
				"attempt":    attempt,
			}).Error("audit event moved to DEAD after max attempts: " + msg)
		}
		return
	}

	next := time.Now().UTC().Add(backoffFor(d.InitialBackoff, attempt))
	_ = db.Model(&models.AuditEventRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusFailed,
			"last_publish_error": &msg,
			"next_attempt_at":    &next,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error

	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":           "OutboxDispatcher",
			"owner_id":        rec.OwnerId,
			"session_id":      rec.SessionId,
			"record_id":       rec.ID,
			"attempt":         attempt,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Error("audit event publish failed: " + msg)
	}
}

// doubles per attempt, capped at 10 minutes
func backoffFor(initial time.Duration, attempt int) time.Duration {
	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return backoff
}
