package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/mmdatafocus/card_audit_backend/testutil"
	"github.com/mmdatafocus/card_audit_backend/utils"
	"github.com/mmdatafocus/card_audit_backend/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakePublisher struct {
	err  error
	sent []models.AuditEventMessage
}

func (p *fakePublisher) Publish(ctx context.Context, msg models.AuditEventMessage) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.sent = append(p.sent, msg)
	return "msg-" + string(msg.EventType), nil
}

func startedSession(t *testing.T, ctx context.Context, db *gorm.DB) *models.AuditSession {
	t.Helper()
	testutil.SeedCards(t, db, testutil.Card(owner, "sf-alpha", "Alpha", "m11", 1))
	session, err := models.StartAuditSession(ctx, owner, &models.NewAuditSession{Scope: models.AuditScopeCollection})
	require.NoError(t, err)
	return session
}

func outboxRecord(t *testing.T, db *gorm.DB, sessionId int) models.AuditEventRecord {
	t.Helper()
	var rec models.AuditEventRecord
	require.NoError(t, db.Where("session_id = ?", sessionId).First(&rec).Error)
	return rec
}

func TestOutboxDispatcher_PublishesAfterCommit(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := utils.SetCorrelationIdInContext(context.Background(), "cid-1")
	session := startedSession(t, ctx, db)

	pub := &fakePublisher{}
	d := workflow.NewOutboxDispatcher(db, config.GetLogger(), pub)
	assert.Equal(t, 1, d.DispatchOnce(ctx))

	require.Len(t, pub.sent, 1)
	msg := pub.sent[0]
	assert.Equal(t, models.AuditEventSessionStarted, msg.EventType)
	assert.Equal(t, owner, msg.OwnerId)
	assert.Equal(t, session.ID, msg.SessionId)
	assert.Equal(t, "cid-1", msg.CorrelationId)
	assert.Contains(t, string(msg.Payload), `"item_count":1`)

	rec := outboxRecord(t, db, session.ID)
	assert.Equal(t, models.OutboxPublishStatusSent, rec.PublishStatus)
	require.NotNil(t, rec.PubSubMessageId)
	assert.Equal(t, "msg-audit.session.started", *rec.PubSubMessageId)
	assert.Nil(t, rec.LockedAt)

	// nothing left to claim
	assert.Equal(t, 0, d.DispatchOnce(ctx))
}

func TestOutboxDispatcher_FailureBacksOffThenDies(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	session := startedSession(t, ctx, db)

	pub := &fakePublisher{err: errors.New("topic not found")}
	d := workflow.NewOutboxDispatcher(db, config.GetLogger(), pub)
	d.MaxAttempts = 2

	before := time.Now().UTC()
	assert.Equal(t, 1, d.DispatchOnce(ctx))
	rec := outboxRecord(t, db, session.ID)
	assert.Equal(t, models.OutboxPublishStatusFailed, rec.PublishStatus)
	assert.Equal(t, 1, rec.PublishAttempts)
	require.NotNil(t, rec.NextAttemptAt)
	assert.True(t, rec.NextAttemptAt.After(before))
	require.NotNil(t, rec.LastPublishError)
	assert.Equal(t, "topic not found", *rec.LastPublishError)

	// not due yet
	assert.Equal(t, 0, d.DispatchOnce(ctx))

	require.NoError(t, db.Model(&models.AuditEventRecord{}).Where("id = ?", rec.ID).
		Update("next_attempt_at", time.Now().UTC().Add(-time.Second)).Error)
	assert.Equal(t, 1, d.DispatchOnce(ctx))
	rec = outboxRecord(t, db, session.ID)
	assert.Equal(t, models.OutboxPublishStatusDead, rec.PublishStatus)
	assert.Equal(t, 2, rec.PublishAttempts)
	assert.Nil(t, rec.NextAttemptAt)

	assert.Equal(t, 0, d.DispatchOnce(ctx))
}

func TestOutboxDispatcher_ReclaimsStaleLocks(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	session := startedSession(t, ctx, db)

	stale := time.Now().UTC().Add(-time.Hour)
	someone := "dead-dispatcher"
	require.NoError(t, db.Model(&models.AuditEventRecord{}).Where("session_id = ?", session.ID).Updates(map[string]interface{}{
		"publish_status": models.OutboxPublishStatusProcessing,
		"locked_at":      &stale,
		"locked_by":      &someone,
	}).Error)

	pub := &fakePublisher{}
	d := workflow.NewOutboxDispatcher(db, config.GetLogger(), pub)
	assert.Equal(t, 1, d.DispatchOnce(ctx))
	assert.Len(t, pub.sent, 1)
	assert.Equal(t, models.OutboxPublishStatusSent, outboxRecord(t, db, session.ID).PublishStatus)
}

func TestOutboxDispatcher_NoPublisherIsIdle(t *testing.T) {
	db := testutil.OpenDB(t)
	d := workflow.NewOutboxDispatcher(db, config.GetLogger(), nil)
	assert.Equal(t, 0, d.DispatchOnce(context.Background()))
}

func TestOutboxDispatcher_LogPublisher(t *testing.T) {
	db := testutil.OpenDB(t)
	ctx := context.Background()
	session := startedSession(t, ctx, db)

	d := workflow.NewOutboxDispatcher(db, config.GetLogger(), workflow.NewLogPublisher(config.GetLogger()))
	assert.Equal(t, 1, d.DispatchOnce(ctx))
	rec := outboxRecord(t, db, session.ID)
	assert.Equal(t, models.OutboxPublishStatusSent, rec.PublishStatus)
	assert.Equal(t, fmt.Sprintf("log-%d", rec.ID), *rec.PubSubMessageId)

	statuses, err := models.GetAuditEventStatuses(ctx, owner, session.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, models.OutboxPublishStatusSent, statuses[0].PublishStatus)
	assert.NotNil(t, statuses[0].PublishedAt)
}
