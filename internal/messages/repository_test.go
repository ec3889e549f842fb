package messages

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/campusnet/forum/internal/common/errors"
	"github.com/campusnet/forum/internal/infra"
	"github.com/campusnet/forum/internal/messaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIDs(t *testing.T) *infra.IDGenerator {
	t.Helper()
	ids, err := infra.NewIDGenerator(1)
	require.NoError(t, err)
	return ids
}

func textMessage(t *testing.T, forumID uuid.UUID, body string) *messaging.Message {
	t.Helper()
	author := uuid.New()
	msg, err := messaging.NewMessage(forumID, &author, messaging.KindText, messaging.Payload{Body: body})
	require.NoError(t, err)
	return msg
}

func pollMessage(t *testing.T, forumID uuid.UUID) *messaging.Message {
	t.Helper()
	msg, err := messaging.NewMessage(forumID, nil, messaging.KindPoll, messaging.Payload{
		Poll: &messaging.PollDefinition{Question: "Lunch?", Options: []string{"pizza", "salad"}},
	})
	require.NoError(t, err)
	return msg
}

// runRepositorySuite checks the behaviour every backend must share.
func runRepositorySuite(t *testing.T, repo Repository) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		forumID := uuid.New()
		msg := textMessage(t, forumID, "hello")
		require.NoError(t, repo.Create(ctx, msg))
		assert.NotZero(t, msg.ID)
		assert.False(t, msg.CreatedAt.IsZero())

		got, err := repo.Get(ctx, msg.ID)
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Body)
		assert.Equal(t, forumID, got.ForumID)
		assert.Equal(t, msg.AuthorID, got.AuthorID)
		assert.NotNil(t, got.ReplyIDs)
		assert.Empty(t, got.ReplyIDs)
		assert.True(t, msg.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.Get(ctx, 424242)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("pagination", func(t *testing.T) {
		forumID := uuid.New()
		var created []int64
		for i := 0; i < 25; i++ {
			msg := textMessage(t, forumID, "post")
			require.NoError(t, repo.Create(ctx, msg))
			created = append(created, msg.ID)
		}

		first, total, err := repo.ListTopLevel(ctx, forumID, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 25, total)
		require.Len(t, first, 10)
		assert.Equal(t, created[0], first[0].ID)

		third, total, err := repo.ListTopLevel(ctx, forumID, 3, 10)
		require.NoError(t, err)
		assert.Equal(t, 25, total)
		require.Len(t, third, 5)
		assert.Equal(t, created[20], third[0].ID)
		assert.Equal(t, created[24], third[4].ID)

		beyond, total, err := repo.ListTopLevel(ctx, forumID, 4, 10)
		require.NoError(t, err)
		assert.Equal(t, 25, total)
		assert.Empty(t, beyond)

		far, total, err := repo.ListTopLevel(ctx, forumID, math.MaxInt, 20)
		require.NoError(t, err)
		assert.Equal(t, 25, total)
		assert.Empty(t, far)
	})

	t.Run("empty forum", func(t *testing.T) {
		items, total, err := repo.ListTopLevel(ctx, uuid.New(), 1, 10)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, items)
	})

	t.Run("replies are not top level", func(t *testing.T) {
		forumID := uuid.New()
		parent := textMessage(t, forumID, "parent")
		require.NoError(t, repo.Create(ctx, parent))

		reply := textMessage(t, forumID, "reply")
		reply.ParentID = &parent.ID
		require.NoError(t, repo.Create(ctx, reply))
		assert.Nil(t, reply.ReplyIDs)

		top, total, err := repo.ListTopLevel(ctx, forumID, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, top, 1)
		assert.Equal(t, parent.ID, top[0].ID)

		replies, total, err := repo.ListReplies(ctx, parent.ID, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, replies, 1)
		require.NotNil(t, replies[0].ParentID)
		assert.Equal(t, parent.ID, *replies[0].ParentID)
	})

	t.Run("append and remove reply", func(t *testing.T) {
		forumID := uuid.New()
		parent := textMessage(t, forumID, "parent")
		require.NoError(t, repo.Create(ctx, parent))

		require.NoError(t, repo.AppendReply(ctx, parent.ID, 11))
		require.NoError(t, repo.AppendReply(ctx, parent.ID, 12))
		require.NoError(t, repo.AppendReply(ctx, parent.ID, 11))

		got, err := repo.Get(ctx, parent.ID)
		require.NoError(t, err)
		assert.Equal(t, messaging.IDList{11, 12}, got.ReplyIDs)

		require.NoError(t, repo.RemoveReply(ctx, parent.ID, 11))
		got, err = repo.Get(ctx, parent.ID)
		require.NoError(t, err)
		assert.Equal(t, messaging.IDList{12}, got.ReplyIDs)

		assert.True(t, errors.IsNotFound(repo.AppendReply(ctx, 999999, 1)))
	})

	t.Run("append to a reply is rejected", func(t *testing.T) {
		forumID := uuid.New()
		parent := textMessage(t, forumID, "parent")
		require.NoError(t, repo.Create(ctx, parent))
		reply := textMessage(t, forumID, "reply")
		reply.ParentID = &parent.ID
		require.NoError(t, repo.Create(ctx, reply))

		assert.True(t, errors.IsNotFound(repo.AppendReply(ctx, reply.ID, 5)))
	})

	t.Run("update poll checks version", func(t *testing.T) {
		msg := pollMessage(t, uuid.New())
		require.NoError(t, repo.Create(ctx, msg))

		poll := msg.Poll.Clone()
		poll.Options[0].VoteCount = 1
		poll.Votes = append(poll.Votes, messaging.Vote{UserID: uuid.New(), OptionIndex: 0})
		poll.TotalVotes = 1

		updated, err := repo.UpdatePoll(ctx, msg.ID, 0, &poll)
		require.NoError(t, err)
		assert.Equal(t, int64(1), updated.Version)
		assert.Equal(t, 1, updated.Poll.TotalVotes)

		_, err = repo.UpdatePoll(ctx, msg.ID, 0, &poll)
		assert.ErrorIs(t, err, ErrVersionConflict)

		_, err = repo.UpdatePoll(ctx, 31337, 0, &poll)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("delete", func(t *testing.T) {
		msg := textMessage(t, uuid.New(), "bye")
		require.NoError(t, repo.Create(ctx, msg))
		require.NoError(t, repo.Delete(ctx, msg.ID))

		_, err := repo.Get(ctx, msg.ID)
		assert.True(t, errors.IsNotFound(err))
		assert.True(t, errors.IsNotFound(repo.Delete(ctx, msg.ID)))
	})
}

func TestMemoryRepository(t *testing.T) {
	runRepositorySuite(t, NewMemoryRepository(newIDs(t)))
}

func TestMemoryRepositoryIsolation(t *testing.T) {
	repo := NewMemoryRepository(newIDs(t))
	ctx := context.Background()

	msg := pollMessage(t, uuid.New())
	require.NoError(t, repo.Create(ctx, msg))

	got, err := repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	got.Poll.Options[0].VoteCount = 99
	got.ReplyIDs = append(got.ReplyIDs, 7)

	again, err := repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Zero(t, again.Poll.Options[0].VoteCount)
	assert.Empty(t, again.ReplyIDs)
}

func TestMemoryRepositoryConcurrentAppend(t *testing.T) {
	repo := NewMemoryRepository(newIDs(t))
	ctx := context.Background()

	parent := textMessage(t, uuid.New(), "parent")
	require.NoError(t, repo.Create(ctx, parent))

	var wg sync.WaitGroup
	for i := 1; i <= 40; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			assert.NoError(t, repo.AppendReply(ctx, parent.ID, id))
		}(int64(i))
	}
	wg.Wait()

	got, err := repo.Get(ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, got.ReplyIDs, 40)
}

type recordedOp struct {
	op  string
	err error
}

type fakeRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (f *fakeRecorder) RecordStoreOp(op string, _ time.Duration, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, recordedOp{op: op, err: err})
}

func TestInstrumented(t *testing.T) {
	rec := &fakeRecorder{}
	repo := NewInstrumented(NewMemoryRepository(newIDs(t)), rec)
	ctx := context.Background()

	msg := textMessage(t, uuid.New(), "hi")
	require.NoError(t, repo.Create(ctx, msg))
	_, err := repo.Get(ctx, 1)
	require.Error(t, err)

	require.Len(t, rec.ops, 2)
	assert.Equal(t, "create", rec.ops[0].op)
	assert.NoError(t, rec.ops[0].err)
	assert.Equal(t, "get", rec.ops[1].op)
	assert.True(t, errors.IsNotFound(rec.ops[1].err))
}
