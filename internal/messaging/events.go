package messaging

import (
	"github.com/google/uuid"
)

type EventType string

const (
	EventMessageCreated EventType = "message.created"
	EventReplyCreated   EventType = "reply.created"
	EventPollUpdated    EventType = "poll.updated"
	EventMessageDeleted EventType = "message.deleted"
)

// Event is the value a committed write hands to the realtime dispatcher.
// ParentID is set whenever the subject message is a reply.
type Event struct {
	Type      EventType
	ForumID   uuid.UUID
	MessageID int64
	ParentID  *int64
	Message   *Message
}

type MessageCreatedPayload struct {
	Message *Message `json:"message"`
}

type ReplyCreatedPayload struct {
	ParentID int64    `json:"parentId,string"`
	Reply    *Message `json:"reply"`
}

type PollUpdatedPayload struct {
	Message *Message `json:"message"`
}

type MessageDeletedPayload struct {
	MessageID int64 `json:"messageId,string"`
}

func MessageCreated(msg *Message) Event {
	return Event{Type: EventMessageCreated, ForumID: msg.ForumID, MessageID: msg.ID, Message: msg}
}

func ReplyCreated(reply *Message) Event {
	return Event{Type: EventReplyCreated, ForumID: reply.ForumID, MessageID: reply.ID, ParentID: reply.ParentID, Message: reply}
}

func PollUpdated(msg *Message) Event {
	return Event{Type: EventPollUpdated, ForumID: msg.ForumID, MessageID: msg.ID, ParentID: msg.ParentID, Message: msg}
}

func MessageDeleted(msg *Message) Event {
	return Event{Type: EventMessageDeleted, ForumID: msg.ForumID, MessageID: msg.ID, ParentID: msg.ParentID}
}

// Payload returns the wire body for the event type.
func (e Event) Payload() any {
	switch e.Type {
	case EventReplyCreated:
		var parent int64
		if e.ParentID != nil {
			parent = *e.ParentID
		}
		return ReplyCreatedPayload{ParentID: parent, Reply: e.Message}
	case EventPollUpdated:
		return PollUpdatedPayload{Message: e.Message}
	case EventMessageDeleted:
		return MessageDeletedPayload{MessageID: e.MessageID}
	default:
		return MessageCreatedPayload{Message: e.Message}
	}
}
