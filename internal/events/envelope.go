package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/campusnet/forum/internal/messaging"
	"github.com/google/uuid"
)

const (
	forumRoomPrefix   = "forum:"
	messageRoomPrefix = "message:"
)

func ForumRoom(forumID uuid.UUID) string {
	return forumRoomPrefix + forumID.String()
}

func MessageRoom(messageID int64) string {
	return messageRoomPrefix + strconv.FormatInt(messageID, 10)
}

// Envelope is one event addressed to one room, as sent to clients.
type Envelope struct {
	ID        string              `json:"id"`
	Type      messaging.EventType `json:"type"`
	Room      string              `json:"room"`
	CreatedAt time.Time           `json:"createdAt"`
	Payload   json.RawMessage     `json:"payload"`
	// Origin names the node that produced the event; relays use it to skip
	// their own messages.
	Origin string `json:"origin,omitempty"`
}

func NewEnvelope(room string, eventType messaging.EventType, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Type:      eventType,
		Room:      room,
		CreatedAt: time.Now().UTC(),
		Payload:   data,
	}, nil
}

// Route lists the rooms an event is published to.
func Route(e messaging.Event) []string {
	forum := ForumRoom(e.ForumID)

	switch e.Type {
	case messaging.EventReplyCreated:
		if e.ParentID != nil {
			return []string{MessageRoom(*e.ParentID), forum}
		}
		return []string{forum}
	case messaging.EventPollUpdated, messaging.EventMessageDeleted:
		if e.ParentID != nil {
			return []string{forum, MessageRoom(*e.ParentID)}
		}
		return []string{forum}
	default:
		return []string{forum}
	}
}

// ValidRoom reports whether room names a forum or a message room with a
// well-formed id.
func ValidRoom(room string) bool {
	switch {
	case strings.HasPrefix(room, forumRoomPrefix):
		id, err := uuid.Parse(strings.TrimPrefix(room, forumRoomPrefix))
		return err == nil && id != uuid.Nil
	case strings.HasPrefix(room, messageRoomPrefix):
		id, err := strconv.ParseInt(strings.TrimPrefix(room, messageRoomPrefix), 10, 64)
		return err == nil && id > 0
	}
	return false
}
