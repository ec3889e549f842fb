package audit

import (
	"context"
	"testing"
	"time"

	"github.com/campusnet/forum/internal/common/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogMessageDeleted(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	al := NewLogger(zap.New(core))
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	al.now = func() time.Time { return fixed }

	ctx := logging.WithRequestID(context.Background(), "req-1")
	al.LogMessageDeleted(ctx, "", "42", 3)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "audit", entry.LoggerName)

	fields := entry.ContextMap()
	assert.Equal(t, "unknown", fields["user_id"])
	assert.Equal(t, ActionMessageDelete, fields["action"])
	assert.Equal(t, "42", fields["resource_id"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, fixed, fields["at"])
	assert.Equal(t, map[string]any{"replies_deleted": 3}, fields["metadata"])
}
