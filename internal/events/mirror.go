package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/campusnet/forum/internal/common/config"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

type amqpPublisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Mirror copies every event to a durable AMQP queue for offline consumers
// such as the notification service. Only the forum-room copy of an event
// is mirrored so each event is queued once.
type Mirror struct {
	mu     sync.Mutex
	conn   *amqp.Connection
	ch     amqpPublisher
	queue  string
	logger *zap.Logger
}

func DialMirror(cfg config.AMQPConfig, logger *zap.Logger) (*Mirror, error) {
	conn, err := amqp.Dial(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", cfg.Queue, err)
	}

	return &Mirror{conn: conn, ch: ch, queue: cfg.Queue, logger: logger}, nil
}

func (m *Mirror) Name() string { return "amqp" }

func (m *Mirror) Publish(_ context.Context, env *Envelope) error {
	if !strings.HasPrefix(env.Room, forumRoomPrefix) {
		return nil
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.ch.Publish("", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID,
		Type:         string(env.Type),
		Timestamp:    env.CreatedAt,
		Body:         body,
	})
}

func (m *Mirror) Close() error {
	if m.conn == nil {
		return nil
	}
	return m.conn.Close()
}
