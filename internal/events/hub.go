package events

import (
	"context"
	"sync"

	"github.com/campusnet/forum/internal/common/logging"
	"github.com/campusnet/forum/internal/messaging"
	"go.uber.org/zap"
)

type DeliveryRecorder interface {
	RecordDelivery(eventType string, delivered, dropped int)
}

// Hub fans envelopes out to the local clients subscribed to a room.
// Delivery is at most once: a client whose buffer is full misses the event.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	rooms    map[string]map[string]bool
	buffer   int
	recorder DeliveryRecorder
	logger   *zap.Logger
	shutdown bool
}

type Client struct {
	ID       string
	roomSubs map[string]bool
	send     chan *Envelope
	ctx      context.Context
	cancel   context.CancelFunc
}

// Events yields the envelopes routed to the client. It is closed when the
// client is removed or the hub shuts down.
func (c *Client) Events() <-chan *Envelope {
	return c.send
}

func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func NewHub(buffer int, recorder DeliveryRecorder, logger *zap.Logger) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[string]bool),
		buffer:   buffer,
		recorder: recorder,
		logger:   logger,
	}
}

// AddClient registers a client. It returns nil during shutdown or when the
// id is already connected.
func (h *Hub) AddClient(clientID string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.shutdown {
		h.logger.Warn("rejecting new client during shutdown", zap.String("client_id", clientID))
		return nil
	}
	if _, exists := h.clients[clientID]; exists {
		h.logger.Warn("client id already connected", zap.String("client_id", clientID))
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		ID:       clientID,
		roomSubs: make(map[string]bool),
		send:     make(chan *Envelope, h.buffer),
		ctx:      ctx,
		cancel:   cancel,
	}
	h.clients[clientID] = client

	h.logger.Debug("client connected", zap.String("client_id", clientID))
	return client
}

func (h *Hub) RemoveClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return
	}

	for room := range client.roomSubs {
		h.leave(room, clientID)
	}

	client.cancel()
	close(client.send)
	delete(h.clients, clientID)

	h.logger.Debug("client disconnected", zap.String("client_id", clientID))
}

func (h *Hub) Subscribe(clientID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		h.logger.Warn("attempted to subscribe non-existent client",
			zap.String("client_id", clientID),
			logging.Room(room),
		)
		return false
	}

	client.roomSubs[room] = true
	if _, exists := h.rooms[room]; !exists {
		h.rooms[room] = make(map[string]bool)
	}
	h.rooms[room][clientID] = true

	return true
}

func (h *Hub) Unsubscribe(clientID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return
	}
	delete(client.roomSubs, room)
	h.leave(room, clientID)
}

func (h *Hub) leave(room, clientID string) {
	if members, exists := h.rooms[room]; exists {
		delete(members, clientID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Publish builds an envelope for room and delivers it locally.
func (h *Hub) Publish(room string, eventType messaging.EventType, payload any) error {
	env, err := NewEnvelope(room, eventType, payload)
	if err != nil {
		return err
	}
	h.Deliver(env)
	return nil
}

// Deliver hands env to every client subscribed to env.Room without
// blocking. Sends happen under the read lock so a client cannot be closed
// mid-delivery.
func (h *Hub) Deliver(env *Envelope) (delivered, dropped int) {
	h.mu.RLock()
	for clientID := range h.rooms[env.Room] {
		client, ok := h.clients[clientID]
		if !ok {
			continue
		}
		select {
		case client.send <- env:
			delivered++
		default:
			dropped++
			h.logger.Warn("client buffer full, dropping event",
				zap.String("client_id", clientID),
				logging.Room(env.Room),
				zap.String("event_id", env.ID),
				zap.String("event_type", string(env.Type)),
			)
		}
	}
	h.mu.RUnlock()

	if h.recorder != nil {
		h.recorder.RecordDelivery(string(env.Type), delivered, dropped)
	}
	return delivered, dropped
}

func (h *Hub) RoomHasSubscribers(room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room]) > 0
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects every client and rejects new ones.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	h.shutdown = true
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[string]bool)

	for _, client := range clients {
		client.cancel()
		close(client.send)
	}
	h.mu.Unlock()

	h.logger.Info("event hub shut down", zap.Int("clients", len(clients)))
	return nil
}
