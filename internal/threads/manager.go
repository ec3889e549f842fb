// Package threads keeps the one-level parent/reply relation consistent.
package threads

import (
	"context"
	"time"

	"github.com/campusnet/forum/internal/common/errors"
	"github.com/campusnet/forum/internal/common/logging"
	"github.com/campusnet/forum/internal/messages"
	"github.com/campusnet/forum/internal/messaging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	sweepPageSize       = 100
	compensationTimeout = 5 * time.Second
)

type AttachmentReleaser interface {
	Release(ctx context.Context, ref *messaging.AttachmentRef) error
}

type Manager struct {
	repo        messages.Repository
	attachments AttachmentReleaser
	logger      *zap.Logger
}

func NewManager(repo messages.Repository, attachments AttachmentReleaser, logger *zap.Logger) *Manager {
	return &Manager{
		repo:        repo,
		attachments: attachments,
		logger:      logger,
	}
}

// PostReply stores a reply under parentID and links it into the parent's
// reply list. If linking fails the reply is deleted again so that no reply
// exists outside its parent's list.
func (m *Manager) PostReply(ctx context.Context, parentID int64, authorID *uuid.UUID, kind messaging.Kind, payload messaging.Payload) (*messaging.Message, messaging.Event, error) {
	parent, err := m.repo.Get(ctx, parentID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, messaging.Event{}, errors.NotFound("parent message not found")
		}
		return nil, messaging.Event{}, err
	}
	if parent.IsReply() {
		return nil, messaging.Event{}, errors.InvalidArgument("cannot reply to a reply")
	}

	reply, err := messaging.NewMessage(parent.ForumID, authorID, kind, payload)
	if err != nil {
		return nil, messaging.Event{}, err
	}
	reply.ParentID = &parent.ID

	if err := m.repo.Create(ctx, reply); err != nil {
		return nil, messaging.Event{}, err
	}

	if err := m.repo.AppendReply(ctx, parent.ID, reply.ID); err != nil {
		m.rollbackReply(ctx, reply, err)
		if errors.IsNotFound(err) {
			return nil, messaging.Event{}, errors.NotFound("parent message not found")
		}
		return nil, messaging.Event{}, err
	}

	return reply, messaging.ReplyCreated(reply), nil
}

func (m *Manager) rollbackReply(ctx context.Context, reply *messaging.Message, cause error) {
	// The caller's deadline may be what failed the append.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	logger := m.log(ctx).With(logging.MessageID(reply.ID), zap.NamedError("cause", cause))
	if err := m.repo.Delete(ctx, reply.ID); err != nil && !errors.IsNotFound(err) {
		logger.Error("failed to roll back unlinked reply", zap.Error(err))
		return
	}
	logger.Warn("rolled back reply after parent link failed")
}

// DeleteMessage removes a message together with its replies and releases
// every attachment they own. Attachment release is best effort. Documents
// already gone are skipped, so a retry after a partial failure finishes the
// job.
func (m *Manager) DeleteMessage(ctx context.Context, id int64) ([]messaging.Event, error) {
	msg, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var events []messaging.Event

	if !msg.IsReply() {
		replyEvents, err := m.deleteReplies(ctx, msg)
		events = append(events, replyEvents...)
		if err != nil {
			return events, err
		}
	} else {
		if err := m.repo.RemoveReply(ctx, *msg.ParentID, msg.ID); err != nil && !errors.IsNotFound(err) {
			return events, err
		}
	}

	if err := m.deleteOne(ctx, msg); err != nil {
		return events, err
	}

	if !msg.IsReply() {
		// A reply linked between the first sweep and the parent delete would
		// otherwise outlive its parent. Later posts fail to link and roll back.
		late, err := m.deleteReplies(ctx, msg)
		events = append(events, late...)
		if err != nil {
			return events, err
		}
	}
	events = append(events, messaging.MessageDeleted(msg))

	m.log(ctx).Info("message deleted",
		logging.MessageID(msg.ID),
		logging.ForumID(msg.ForumID.String()),
		zap.Int("replies_deleted", len(events)-1),
	)
	return events, nil
}

// deleteReplies removes every reply pointing at parent. It walks the
// replies by parent id rather than the reply list so replies orphaned by
// an interrupted post are swept as well.
func (m *Manager) deleteReplies(ctx context.Context, parent *messaging.Message) ([]messaging.Event, error) {
	var events []messaging.Event
	for {
		replies, _, err := m.repo.ListReplies(ctx, parent.ID, 1, sweepPageSize)
		if err != nil {
			return events, err
		}
		if len(replies) == 0 {
			return events, nil
		}
		for _, reply := range replies {
			if err := m.deleteOne(ctx, reply); err != nil {
				return events, err
			}
			events = append(events, messaging.MessageDeleted(reply))
		}
	}
}

func (m *Manager) deleteOne(ctx context.Context, msg *messaging.Message) error {
	m.releaseAttachments(ctx, msg)

	if err := m.repo.Delete(ctx, msg.ID); err != nil && !errors.IsNotFound(err) {
		return err
	}
	return nil
}

func (m *Manager) releaseAttachments(ctx context.Context, msg *messaging.Message) {
	if m.attachments == nil {
		return
	}
	for _, ref := range msg.Attachments() {
		if err := m.attachments.Release(ctx, ref); err != nil {
			m.log(ctx).Warn("attachment release failed, leaving object behind",
				logging.MessageID(msg.ID),
				zap.String("storage_key", ref.StorageKey),
				zap.Error(err),
			)
		}
	}
}

func (m *Manager) log(ctx context.Context) *zap.Logger {
	if id := logging.GetRequestID(ctx); id != "" {
		return m.logger.With(zap.String("request_id", id))
	}
	return m.logger
}
