// Package audit records moderation-relevant actions on a dedicated logger.
package audit

import (
	"context"
	"time"

	"github.com/campusnet/forum/internal/common/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ActionMessageDelete = "message.delete"

type Event struct {
	ID           uuid.UUID
	UserID       string
	Action       string
	ResourceID   string
	ResourceType string
	Metadata     map[string]any
	Timestamp    time.Time
}

type Logger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{
		logger: logger.Named("audit"),
		now:    time.Now,
	}
}

func (al *Logger) Log(ctx context.Context, event Event) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = al.now().UTC()
	}
	if event.UserID == "" {
		event.UserID = "unknown"
	}

	fields := []zap.Field{
		zap.String("event_id", event.ID.String()),
		zap.String("user_id", event.UserID),
		zap.String("action", event.Action),
		zap.String("resource_id", event.ResourceID),
		zap.String("resource_type", event.ResourceType),
		zap.Time("at", event.Timestamp),
	}
	if rid := logging.GetRequestID(ctx); rid != "" {
		fields = append(fields, zap.String("request_id", rid))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	al.logger.Info("audit event", fields...)
}

// LogMessageDeleted records a delete with the size of the cascade it
// triggered.
func (al *Logger) LogMessageDeleted(ctx context.Context, userID, messageID string, replies int) {
	al.Log(ctx, Event{
		UserID:       userID,
		Action:       ActionMessageDelete,
		ResourceID:   messageID,
		ResourceType: "message",
		Metadata: map[string]any{
			"replies_deleted": replies,
		},
	})
}
