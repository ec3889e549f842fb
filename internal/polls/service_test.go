package polls

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/campusnet/forum/internal/common/config"
	"github.com/campusnet/forum/internal/common/errors"
	"github.com/campusnet/forum/internal/infra"
	"github.com/campusnet/forum/internal/messages"
	"github.com/campusnet/forum/internal/messaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingRecorder struct {
	mu        sync.Mutex
	outcomes  map[string]int
	conflicts atomic.Int64
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: map[string]int{}}
}

func (r *countingRecorder) RecordVote(_, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *countingRecorder) RecordVoteConflict() { r.conflicts.Add(1) }

func (r *countingRecorder) count(outcome string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}

// conflictingRepo fails every conditional poll write.
type conflictingRepo struct {
	messages.Repository
	attempts atomic.Int64
}

func (r *conflictingRepo) UpdatePoll(context.Context, int64, int64, *messaging.Poll) (*messaging.Message, error) {
	r.attempts.Add(1)
	return nil, messages.ErrVersionConflict
}

func testPollsConfig(attempts int) config.PollsConfig {
	return config.PollsConfig{
		MaxAttempts: attempts,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
	}
}

func setup(t *testing.T, mode messaging.PollMode, options int) (*messages.MemoryRepository, *messaging.Message) {
	t.Helper()
	ids, err := infra.NewIDGenerator(1)
	require.NoError(t, err)
	repo := messages.NewMemoryRepository(ids)

	texts := make([]string, options)
	for i := range texts {
		texts[i] = "option"
	}
	msg, err := messaging.NewMessage(uuid.New(), nil, messaging.KindPoll, messaging.Payload{
		Poll: &messaging.PollDefinition{Question: "Which?", Mode: mode, Options: texts},
	})
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), msg))
	return repo, msg
}

func TestServiceVote(t *testing.T) {
	repo, msg := setup(t, messaging.PollSingle, 2)
	rec := newCountingRecorder()
	svc := NewService(repo, testPollsConfig(3), rec, zap.NewNop())
	ctx := context.Background()
	alice := uuid.New()

	updated, event, err := svc.Vote(ctx, msg.ID, alice, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Poll.TotalVotes)
	assert.Equal(t, 1, updated.Poll.Options[1].VoteCount)
	assert.Equal(t, int64(1), updated.Version)
	assert.Equal(t, messaging.EventPollUpdated, event.Type)
	assert.Equal(t, msg.ForumID, event.ForumID)
	assert.Nil(t, event.ParentID)

	updated, _, err = svc.Vote(ctx, msg.ID, alice, 1)
	require.NoError(t, err)
	assert.Zero(t, updated.Poll.TotalVotes)

	stored, err := repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.Poll.TotalVotes)
	assert.Equal(t, 2, rec.count(OutcomeApplied))
}

func TestServiceVoteErrors(t *testing.T) {
	repo, poll := setup(t, messaging.PollSingle, 2)
	ctx := context.Background()

	text, err := messaging.NewMessage(uuid.New(), nil, messaging.KindText, messaging.Payload{Body: "hi"})
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, text))

	rec := newCountingRecorder()
	svc := NewService(repo, testPollsConfig(3), rec, zap.NewNop())

	tests := []struct {
		name      string
		messageID int64
		option    int
		check     func(error) bool
	}{
		{name: "missing message", messageID: 999, option: 0, check: errors.IsNotFound},
		{name: "not a poll", messageID: text.ID, option: 0, check: errors.IsInvalidState},
		{name: "option out of range", messageID: poll.ID, option: 5, check: errors.IsInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Vote(ctx, tt.messageID, uuid.New(), tt.option)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}
	assert.Equal(t, 3, rec.count(OutcomeRejected))
	assert.Zero(t, svc.locks.size())
}

func TestServiceVoteConflictExhaustion(t *testing.T) {
	mem, msg := setup(t, messaging.PollSingle, 2)
	repo := &conflictingRepo{Repository: mem}
	rec := newCountingRecorder()
	svc := NewService(repo, testPollsConfig(4), rec, zap.NewNop())

	_, _, err := svc.Vote(context.Background(), msg.ID, uuid.New(), 0)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))
	assert.Equal(t, int64(4), repo.attempts.Load())
	assert.Equal(t, int64(3), rec.conflicts.Load())
	assert.Equal(t, 1, rec.count(OutcomeConflict))
}

func TestServiceConcurrentVotes(t *testing.T) {
	repo, msg := setup(t, messaging.PollMulti, 5)
	svc := NewService(repo, testPollsConfig(3), nil, zap.NewNop())

	const voters = 50
	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, _, err := svc.Vote(context.Background(), msg.ID, uuid.New(), i%5); err != nil {
				failed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	require.Zero(t, failed.Load())
	stored, err := repo.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, voters, stored.Poll.TotalVotes)
	assert.Len(t, stored.Poll.Votes, voters)
	for _, o := range stored.Poll.Options {
		assert.Equal(t, voters/5, o.VoteCount)
	}
	assert.Equal(t, int64(voters), stored.Version)
}

// Two services sharing one store model two API instances: only the
// versioned update stands between them.
func TestServiceConcurrentVotesAcrossInstances(t *testing.T) {
	repo, msg := setup(t, messaging.PollSingle, 2)
	a := NewService(repo, testPollsConfig(100), nil, zap.NewNop())
	b := NewService(repo, testPollsConfig(100), nil, zap.NewNop())

	const voters = 50
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		svc := a
		if i%2 == 1 {
			svc = b
		}
		wg.Add(1)
		go func(svc *Service, option int) {
			defer wg.Done()
			_, _, err := svc.Vote(context.Background(), msg.ID, uuid.New(), option)
			assert.NoError(t, err)
		}(svc, i%2)
	}
	wg.Wait()

	stored, err := repo.Get(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, voters, stored.Poll.TotalVotes)
	assert.Equal(t, voters/2, stored.Poll.Options[0].VoteCount)
	assert.Equal(t, voters/2, stored.Poll.Options[1].VoteCount)
}

func TestKeyedLocks(t *testing.T) {
	locks := newKeyedLocks()
	ctx := context.Background()

	unlock, err := locks.Lock(ctx, 1)
	require.NoError(t, err)

	other, err := locks.Lock(ctx, 2)
	require.NoError(t, err)
	other()

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(timeout, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Zero(t, locks.size())
}
