package polls

import (
	"context"
	stderrors "errors"

	"github.com/campusnet/forum/internal/common/config"
	"github.com/campusnet/forum/internal/common/errors"
	"github.com/campusnet/forum/internal/common/logging"
	"github.com/campusnet/forum/internal/messages"
	"github.com/campusnet/forum/internal/messaging"
	"github.com/campusnet/forum/internal/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
)

type Recorder interface {
	RecordVote(mode, outcome string)
	RecordVoteConflict()
}

type nopRecorder struct{}

func (nopRecorder) RecordVote(string, string) {}
func (nopRecorder) RecordVoteConflict()       {}

// Service runs votes as read-modify-write cycles. Votes on one message are
// queued behind an in-process lock; the versioned UpdatePoll keeps
// instances sharing a store from overwriting each other, and its conflicts
// are retried with backoff.
type Service struct {
	repo     messages.Repository
	locks    *keyedLocks
	retry    retry.Config
	recorder Recorder
	logger   *zap.Logger
}

func NewService(repo messages.Repository, cfg config.PollsConfig, recorder Recorder, logger *zap.Logger) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	s := &Service{
		repo:     repo,
		locks:    newKeyedLocks(),
		recorder: recorder,
		logger:   logger,
	}
	s.retry = retry.DefaultConfig()
	if cfg.MaxAttempts > 0 {
		s.retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialWait > 0 {
		s.retry.InitialWait = cfg.InitialWait
	}
	if cfg.MaxWait > 0 {
		s.retry.MaxWait = cfg.MaxWait
	}
	s.retry.Retryable = func(err error) bool {
		return stderrors.Is(err, messages.ErrVersionConflict)
	}
	s.retry.OnRetry = func(int, error) {
		s.recorder.RecordVoteConflict()
	}
	return s
}

// Vote toggles userID's vote for optionIndex on the poll held by messageID
// and returns the stored message with the event to broadcast.
func (s *Service) Vote(ctx context.Context, messageID int64, userID uuid.UUID, optionIndex int) (*messaging.Message, messaging.Event, error) {
	unlock, err := s.locks.Lock(ctx, messageID)
	if err != nil {
		return nil, messaging.Event{}, err
	}
	defer unlock()

	var (
		updated *messaging.Message
		mode    = string(messaging.PollSingle)
	)
	err = retry.WithBackoff(ctx, s.retry, func() error {
		msg, err := s.repo.Get(ctx, messageID)
		if err != nil {
			return err
		}
		if msg.Kind != messaging.KindPoll || msg.Poll == nil {
			return errors.InvalidState("message is not a poll")
		}
		mode = string(msg.Poll.Mode)

		next, err := ApplyVote(*msg.Poll, userID, optionIndex)
		if err != nil {
			return err
		}

		updated, err = s.repo.UpdatePoll(ctx, msg.ID, msg.Version, &next)
		return err
	})

	if err != nil {
		if stderrors.Is(err, messages.ErrVersionConflict) {
			s.recorder.RecordVote(mode, OutcomeConflict)
			s.logger.Warn("poll vote gave up after repeated conflicts",
				logging.MessageID(messageID),
				zap.Int("attempts", s.retry.MaxAttempts),
			)
			return nil, messaging.Event{}, errors.Conflict("poll is being updated concurrently, try again")
		}
		s.recorder.RecordVote(mode, OutcomeRejected)
		return nil, messaging.Event{}, err
	}

	s.recorder.RecordVote(mode, OutcomeApplied)
	s.logger.Debug("poll vote applied",
		logging.MessageID(messageID),
		zap.Int("option", optionIndex),
		zap.Int("total_votes", updated.Poll.TotalVotes),
	)
	return updated, messaging.PollUpdated(updated), nil
}
