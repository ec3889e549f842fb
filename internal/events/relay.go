package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/campusnet/forum/internal/circuitbreaker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	relayChannelPrefix = "forum:rt:"
	relayPublishWait   = 2 * time.Second
)

// Relay shares rooms between API instances over redis pub/sub. Local
// envelopes are published to one channel per room; envelopes from other
// instances are delivered into the local hub.
type Relay struct {
	client  *redis.Client
	hub     *Hub
	breaker *circuitbreaker.CircuitBreaker
	origin  string
	logger  *zap.Logger
}

func NewRelay(client *redis.Client, hub *Hub, origin string, logger *zap.Logger) *Relay {
	return &Relay{
		client:  client,
		hub:     hub,
		breaker: circuitbreaker.New(5, 30*time.Second),
		origin:  origin,
		logger:  logger,
	}
}

func (r *Relay) Name() string { return "redis" }

// Ping fails while the publish breaker is open.
func (r *Relay) Ping(ctx context.Context) error {
	if r.breaker.GetState() == circuitbreaker.StateOpen {
		return errors.New("relay circuit open")
	}
	return r.client.Ping(ctx).Err()
}

func (r *Relay) Publish(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, relayPublishWait)
	defer cancel()

	return r.breaker.Call(func() error {
		return r.client.Publish(ctx, relayChannelPrefix+env.Room, data).Err()
	})
}

// Run consumes envelopes published by other instances until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, relayChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe relay channels: %w", err)
	}
	r.breaker.Reset()
	r.logger.Info("realtime relay subscribed", zap.String("origin", r.origin))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle([]byte(msg.Payload))
		}
	}
}

func (r *Relay) handle(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("discarding malformed relay message", zap.Error(err))
		return
	}
	if env.Origin == r.origin || !ValidRoom(env.Room) || !r.hub.RoomHasSubscribers(env.Room) {
		return
	}
	r.hub.Deliver(&env)
}
