package messaging

import (
	"encoding/json"
	"testing"

	"github.com/campusnet/forum/internal/common/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ref(kind Kind) *AttachmentRef {
	return &AttachmentRef{OriginalName: "a", StorageKey: "k", MimeType: "x/y", SizeBytes: 1, Kind: kind}
}

func TestNewMessage(t *testing.T) {
	forum := uuid.New()
	author := uuid.New()

	tests := []struct {
		name    string
		kind    Kind
		payload Payload
		wantErr bool
	}{
		{"text", KindText, Payload{Body: "hello"}, false},
		{"file", KindFile, Payload{Attachment: ref(KindFile)}, false},
		{"audio", KindAudio, Payload{Audio: ref(KindAudio)}, false},
		{"poll", KindPoll, Payload{Poll: &PollDefinition{Question: "Q", Options: []string{"a", "b"}}}, false},
		{"unknown kind", Kind("video"), Payload{Body: "x"}, true},
		{"blank text", KindText, Payload{Body: "  \n"}, true},
		{"no payload", KindText, Payload{}, true},
		{"two payloads", KindText, Payload{Body: "x", Attachment: ref(KindFile)}, true},
		{"kind mismatch", KindFile, Payload{Audio: ref(KindAudio)}, true},
		{"poll with one option", KindPoll, Payload{Poll: &PollDefinition{Question: "Q", Options: []string{"a"}}}, true},
		{"poll blank option", KindPoll, Payload{Poll: &PollDefinition{Question: "Q", Options: []string{"a", " "}}}, true},
		{"poll blank question", KindPoll, Payload{Poll: &PollDefinition{Options: []string{"a", "b"}}}, true},
		{"poll unknown mode", KindPoll, Payload{Poll: &PollDefinition{Question: "Q", Mode: "ranked", Options: []string{"a", "b"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(forum, &author, tt.kind, tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidArgument(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, forum, msg.ForumID)
			assert.Equal(t, author, msg.AuthorID)
			assert.Equal(t, tt.kind, msg.Kind)
		})
	}
}

func TestNewMessageAnonymous(t *testing.T) {
	a, err := NewMessage(uuid.New(), nil, KindText, Payload{Body: "x"})
	require.NoError(t, err)
	b, err := NewMessage(uuid.New(), &uuid.Nil, KindText, Payload{Body: "y"})
	require.NoError(t, err)

	assert.True(t, a.Anonymous)
	assert.True(t, b.Anonymous)
	assert.NotEqual(t, uuid.Nil, a.AuthorID)
	assert.NotEqual(t, a.AuthorID, b.AuthorID, "each anonymous post gets its own identity")
}

func TestNewPollDefaults(t *testing.T) {
	msg, err := NewMessage(uuid.New(), nil, KindPoll, Payload{Poll: &PollDefinition{
		Question: " Which? ", Options: []string{" one ", "two"},
	}})
	require.NoError(t, err)
	assert.Equal(t, PollSingle, msg.Poll.Mode)
	assert.Equal(t, "Which?", msg.Poll.Question)
	assert.Equal(t, "one", msg.Poll.Options[0].Text)
	assert.NotNil(t, msg.Poll.Votes)
	assert.Zero(t, msg.Poll.TotalVotes)
}

func TestParseIDs(t *testing.T) {
	id, err := ParseMessageID("123")
	require.NoError(t, err)
	assert.Equal(t, int64(123), id)
	assert.Equal(t, "123", FormatMessageID(id))

	for _, bad := range []string{"", "0", "-4", "12a", "99999999999999999999"} {
		_, err := ParseMessageID(bad)
		assert.ErrorIs(t, err, errors.ErrInvalidReference, bad)
	}

	_, err = ParseForumID(uuid.Nil.String())
	assert.ErrorIs(t, err, errors.ErrInvalidReference)
	_, err = ParseForumID("forum")
	assert.ErrorIs(t, err, errors.ErrInvalidReference)

	_, err = ParseUserID("")
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestCloneIsDeep(t *testing.T) {
	parent := int64(9)
	orig := &Message{
		ID:         1,
		ParentID:   &parent,
		Attachment: ref(KindFile),
		Poll: &Poll{
			Options: []PollOption{{Text: "a", VoteCount: 1}},
			Votes:   []Vote{{UserID: uuid.New(), OptionIndex: 0}},
		},
	}
	c := orig.Clone()

	*c.ParentID = 10
	c.Attachment.StorageKey = "changed"
	c.Poll.Options[0].VoteCount = 5
	c.Poll.Votes[0].OptionIndex = 3

	assert.Equal(t, int64(9), *orig.ParentID)
	assert.Equal(t, "k", orig.Attachment.StorageKey)
	assert.Equal(t, 1, orig.Poll.Options[0].VoteCount)
	assert.Equal(t, 0, orig.Poll.Votes[0].OptionIndex)
	assert.Nil(t, (*Message)(nil).Clone())
}

func TestEventPayloads(t *testing.T) {
	parent := int64(77)
	reply := &Message{ID: 78, ForumID: uuid.New(), ParentID: &parent, Kind: KindText, Body: "hi"}

	tests := []struct {
		name  string
		event Event
		keys  []string
	}{
		{"created", MessageCreated(&Message{ID: 1, ReplyIDs: []int64{}}), []string{"message"}},
		{"reply", ReplyCreated(reply), []string{"parentId", "reply"}},
		{"poll", PollUpdated(reply), []string{"message"}},
		{"deleted", MessageDeleted(reply), []string{"messageId"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event.Payload())
			require.NoError(t, err)
			var fields map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(data, &fields))
			for _, k := range tt.keys {
				assert.Contains(t, fields, k)
			}
			assert.Len(t, fields, len(tt.keys))
		})
	}

	deleted := MessageDeleted(reply)
	require.NotNil(t, deleted.ParentID)
	assert.Equal(t, parent, *deleted.ParentID)
	data, _ := json.Marshal(ReplyCreated(reply).Payload())
	assert.Contains(t, string(data), `"parentId":"77"`)
}

func TestReplyIDsEncodeAsStrings(t *testing.T) {
	// Above 2^53, where a float64 JSON reader rounds.
	const big int64 = 501913309792989185

	msg := &Message{ID: big - 1, Kind: KindText, Body: "hi", ReplyIDs: IDList{big, 7}}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"replyIds":["501913309792989185","7"]`)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, IDList{big, 7}, back.ReplyIDs)
	assert.Equal(t, big-1, back.ID)
}

func TestIDListDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    IDList
		wantErr bool
	}{
		{name: "strings", input: `["1","22"]`, want: IDList{1, 22}},
		{name: "empty", input: `[]`, want: IDList{}},
		{name: "null", input: `null`, want: nil},
		{name: "bare numbers", input: `[1]`, wantErr: true},
		{name: "not a number", input: `["x"]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got IDList
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
