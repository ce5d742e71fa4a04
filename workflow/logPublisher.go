package workflow

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/card_audit_backend/models"
	"github.com/sirupsen/logrus"
)

// LogPublisher "publishes" audit events to the log. It is intended for
// local/dev environments where Pub/Sub is not configured.
type LogPublisher struct {
	Logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{Logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, msg models.AuditEventMessage) (string, error) {
	if p.Logger != nil {
		p.Logger.WithFields(logrus.Fields{
			"field":          "LogPublisher",
			"event_type":     msg.EventType,
			"owner_id":       msg.OwnerId,
			"session_id":     msg.SessionId,
			"record_id":      msg.ID,
			"correlation_id": msg.CorrelationId,
			"payload":        string(msg.Payload),
		}).Info("audit event")
	}
	return fmt.Sprintf("log-%d", msg.ID), nil
}
