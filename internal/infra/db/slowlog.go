package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type contextKeyType string

const queryStartKey contextKeyType = "query_start"

// SlowQueryLogger is a pgx tracer warning about statements slower than the
// threshold. Arguments are never logged since they carry message bodies.
type SlowQueryLogger struct {
	logger    *zap.Logger
	threshold time.Duration
}

type queryStart struct {
	sql string
	at  time.Time
}

func NewSlowQueryLogger(logger *zap.Logger, threshold time.Duration) *SlowQueryLogger {
	return &SlowQueryLogger{
		logger:    logger,
		threshold: threshold,
	}
}

func (s *SlowQueryLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey, queryStart{sql: data.SQL, at: time.Now()})
}

func (s *SlowQueryLogger) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey).(queryStart)
	if !ok {
		return
	}

	duration := time.Since(start.at)
	if duration <= s.threshold {
		return
	}

	fields := []zap.Field{
		zap.Duration("duration", duration),
		zap.String("sql", start.sql),
		zap.String("command_tag", data.CommandTag.String()),
	}
	if data.Err != nil {
		fields = append(fields, zap.Error(data.Err))
	}
	s.logger.Warn("slow query detected", fields...)
}
