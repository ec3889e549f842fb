package messaging

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/campusnet/forum/internal/common/errors"
	"github.com/google/uuid"
)

type Kind string

const (
	KindText  Kind = "text"
	KindFile  Kind = "file"
	KindAudio Kind = "audio"
	KindPoll  Kind = "poll"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindFile, KindAudio, KindPoll:
		return true
	}
	return false
}

type PollMode string

const (
	PollSingle PollMode = "single"
	PollMulti  PollMode = "multi"
)

// Message is a forum post. Top-level messages carry ReplyIDs (never nil),
// replies carry ParentID and no ReplyIDs.
type Message struct {
	ID         int64          `json:"id,string" bson:"_id"`
	ForumID    uuid.UUID      `json:"forumId" bson:"forum_id"`
	AuthorID   uuid.UUID      `json:"authorId" bson:"author_id"`
	Anonymous  bool           `json:"anonymous,omitempty" bson:"anonymous,omitempty"`
	Kind       Kind           `json:"kind" bson:"kind"`
	Body       string         `json:"body,omitempty" bson:"body,omitempty"`
	Attachment *AttachmentRef `json:"attachment,omitempty" bson:"attachment,omitempty"`
	Audio      *AttachmentRef `json:"audio,omitempty" bson:"audio,omitempty"`
	ParentID   *int64         `json:"parentId,string,omitempty" bson:"parent_id"`
	ReplyIDs   IDList         `json:"replyIds,omitempty" bson:"reply_ids"`
	Poll       *Poll          `json:"poll,omitempty" bson:"poll,omitempty"`
	Version    int64          `json:"version" bson:"version"`
	CreatedAt  time.Time      `json:"createdAt" bson:"created_at"`
}

func (m *Message) IsReply() bool {
	return m.ParentID != nil
}

// Attachments lists every stored object owned by the message.
func (m *Message) Attachments() []*AttachmentRef {
	var refs []*AttachmentRef
	if m.Attachment != nil {
		refs = append(refs, m.Attachment)
	}
	if m.Audio != nil {
		refs = append(refs, m.Audio)
	}
	return refs
}

// Clone returns a deep copy so callers never share poll or reply slices with
// a repository.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.ParentID != nil {
		pid := *m.ParentID
		c.ParentID = &pid
	}
	if m.ReplyIDs != nil {
		c.ReplyIDs = append(make(IDList, 0, len(m.ReplyIDs)), m.ReplyIDs...)
	}
	if m.Attachment != nil {
		a := *m.Attachment
		c.Attachment = &a
	}
	if m.Audio != nil {
		a := *m.Audio
		c.Audio = &a
	}
	if m.Poll != nil {
		p := m.Poll.Clone()
		c.Poll = &p
	}
	return &c
}

type Poll struct {
	Question   string       `json:"question" bson:"question"`
	Mode       PollMode     `json:"mode" bson:"mode"`
	Options    []PollOption `json:"options" bson:"options"`
	Votes      []Vote       `json:"votes" bson:"votes"`
	TotalVotes int          `json:"totalVotes" bson:"total_votes"`
}

type PollOption struct {
	Text      string `json:"text" bson:"text"`
	VoteCount int    `json:"voteCount" bson:"vote_count"`
}

type Vote struct {
	UserID      uuid.UUID `json:"userId" bson:"user_id"`
	OptionIndex int       `json:"optionIndex" bson:"option_index"`
}

func (p Poll) Clone() Poll {
	c := p
	c.Options = append(make([]PollOption, 0, len(p.Options)), p.Options...)
	c.Votes = append(make([]Vote, 0, len(p.Votes)), p.Votes...)
	return c
}

// AttachmentRef points at an object held by the attachment store.
type AttachmentRef struct {
	OriginalName string `json:"originalName" bson:"original_name"`
	StorageKey   string `json:"storageKey" bson:"storage_key"`
	MimeType     string `json:"mimeType" bson:"mime_type"`
	SizeBytes    int64  `json:"sizeBytes" bson:"size_bytes"`
	PublicPath   string `json:"publicPath" bson:"public_path"`
	Kind         Kind   `json:"kind" bson:"kind"`
}

// Payload is the primary content supplied when posting. Exactly the field
// matching the message kind must be set.
type Payload struct {
	Body       string
	Attachment *AttachmentRef
	Audio      *AttachmentRef
	Poll       *PollDefinition
}

type PollDefinition struct {
	Question string
	Mode     PollMode
	Options  []string
}

func (d *PollDefinition) build() (*Poll, error) {
	if strings.TrimSpace(d.Question) == "" {
		return nil, errors.InvalidArgument("poll question is required")
	}
	mode := d.Mode
	if mode == "" {
		mode = PollSingle
	}
	if mode != PollSingle && mode != PollMulti {
		return nil, errors.InvalidArgument("unknown poll mode")
	}
	if len(d.Options) < 2 {
		return nil, errors.InvalidArgument("poll needs at least two options")
	}

	options := make([]PollOption, 0, len(d.Options))
	for _, text := range d.Options {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, errors.InvalidArgument("poll options must not be blank")
		}
		options = append(options, PollOption{Text: text})
	}

	return &Poll{
		Question: strings.TrimSpace(d.Question),
		Mode:     mode,
		Options:  options,
		Votes:    []Vote{},
	}, nil
}

// NewMessage validates kind/payload consistency and assembles an unsaved
// message. A nil author mints an anonymous identity: a random v4 UUID with
// Anonymous set, so AuthorID is never empty.
func NewMessage(forumID uuid.UUID, authorID *uuid.UUID, kind Kind, payload Payload) (*Message, error) {
	if !kind.Valid() {
		return nil, errors.InvalidArgument("unknown message kind")
	}

	msg := &Message{
		ForumID: forumID,
		Kind:    kind,
	}

	if authorID != nil && *authorID != uuid.Nil {
		msg.AuthorID = *authorID
	} else {
		msg.AuthorID = uuid.New()
		msg.Anonymous = true
	}

	present := 0
	if strings.TrimSpace(payload.Body) != "" {
		present++
	}
	if payload.Attachment != nil {
		present++
	}
	if payload.Audio != nil {
		present++
	}
	if payload.Poll != nil {
		present++
	}
	if present != 1 {
		return nil, errors.InvalidArgument("exactly one primary payload is required")
	}

	switch kind {
	case KindText:
		if strings.TrimSpace(payload.Body) == "" {
			return nil, errors.InvalidArgument("text message requires a body")
		}
		msg.Body = payload.Body
	case KindFile:
		if payload.Attachment == nil {
			return nil, errors.InvalidArgument("file message requires an attachment")
		}
		msg.Attachment = payload.Attachment
	case KindAudio:
		if payload.Audio == nil {
			return nil, errors.InvalidArgument("audio message requires an audio clip")
		}
		msg.Audio = payload.Audio
	case KindPoll:
		if payload.Poll == nil {
			return nil, errors.InvalidArgument("poll message requires a poll definition")
		}
		poll, err := payload.Poll.build()
		if err != nil {
			return nil, err
		}
		msg.Poll = poll
	}

	return msg, nil
}

func ParseMessageID(id string) (int64, error) {
	v, err := strconv.ParseInt(id, 10, 64)
	if err != nil || v <= 0 {
		return 0, errors.InvalidReference("malformed message id")
	}
	return v, nil
}

func FormatMessageID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// IDList holds message ids. In JSON each id is a string like the id fields
// themselves: snowflakes do not fit the 53-bit integers of JS clients.
type IDList []int64

func (l IDList) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("null"), nil
	}
	out := make([]string, len(l))
	for i, id := range l {
		out[i] = FormatMessageID(id)
	}
	return json.Marshal(out)
}

func (l *IDList) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message ids: %w", err)
	}
	if raw == nil {
		*l = nil
		return nil
	}
	ids := make(IDList, len(raw))
	for i, v := range raw {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("decode message id %q: %w", v, err)
		}
		ids[i] = id
	}
	*l = ids
	return nil
}

func ParseForumID(id string) (uuid.UUID, error) {
	v, err := uuid.Parse(id)
	if err != nil || v == uuid.Nil {
		return uuid.Nil, errors.InvalidReference("malformed forum id")
	}
	return v, nil
}

func ParseUserID(id string) (uuid.UUID, error) {
	v, err := uuid.Parse(id)
	if err != nil || v == uuid.Nil {
		return uuid.Nil, errors.InvalidArgument("malformed user id")
	}
	return v, nil
}
