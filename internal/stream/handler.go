// Package stream exposes the realtime hub to browsers as a server-sent
// events endpoint.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/campusnet/forum/internal/common/logging"
	"github.com/campusnet/forum/internal/events"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultHeartbeat = 25 * time.Second

// Recorder tracks open streams; observability.Metrics satisfies it.
type Recorder interface {
	StreamOpened()
	StreamClosed()
}

type Handler struct {
	hub       *events.Hub
	recorder  Recorder
	heartbeat time.Duration
	logger    *zap.Logger
}

func NewHandler(hub *events.Hub, recorder Recorder, heartbeat time.Duration, logger *zap.Logger) *Handler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Handler{
		hub:       hub,
		recorder:  recorder,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// ServeHTTP subscribes the connection to the rooms listed in the "rooms"
// query parameter (repeated or comma separated) and writes every routed
// envelope as an SSE frame until the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	rooms, err := parseRooms(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	logger := h.logger.With(zap.String("request_id", logging.GetRequestID(r.Context())))

	clientID := uuid.NewString()
	client := h.hub.AddClient(clientID)
	if client == nil {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.hub.RemoveClient(clientID)

	for _, room := range rooms {
		h.hub.Subscribe(clientID, room)
	}

	if h.recorder != nil {
		h.recorder.StreamOpened()
		defer h.recorder.StreamClosed()
	}

	// The server write timeout would otherwise cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	hello, _ := json.Marshal(map[string]any{"clientId": clientID, "rooms": rooms})
	if _, err := fmt.Fprintf(w, "event: ready\ndata: %s\n\n", hello); err != nil {
		return
	}
	flusher.Flush()

	logger.Info("stream connection established",
		zap.String("client_id", clientID),
		zap.Strings("rooms", rooms),
	)
	defer logger.Info("stream connection closed", zap.String("client_id", clientID))

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case env, ok := <-client.Events():
			if !ok {
				return
			}
			if err := writeFrame(w, env); err != nil {
				logger.Debug("stream write failed", zap.String("client_id", clientID), zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, env *events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", env.ID, env.Type, data)
	return err
}

func parseRooms(r *http.Request) ([]string, error) {
	seen := make(map[string]bool)
	var rooms []string
	for _, v := range r.URL.Query()["rooms"] {
		for _, room := range strings.Split(v, ",") {
			room = strings.TrimSpace(room)
			if room == "" || seen[room] {
				continue
			}
			if !events.ValidRoom(room) {
				return nil, fmt.Errorf("invalid room %q", room)
			}
			seen[room] = true
			rooms = append(rooms, room)
		}
	}
	if len(rooms) == 0 {
		return nil, fmt.Errorf("at least one room is required")
	}
	return rooms, nil
}
