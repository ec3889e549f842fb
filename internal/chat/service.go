// Package chat is the request-level facade of the forum engine: it parses
// caller input, runs the write through the owning component and hands the
// resulting events to the dispatcher once the write is committed.
package chat

import (
	"context"

	"github.com/campusnet/forum/internal/common/errors"
	"github.com/campusnet/forum/internal/common/logging"
	"github.com/campusnet/forum/internal/common/pagination"
	"github.com/campusnet/forum/internal/messages"
	"github.com/campusnet/forum/internal/messaging"
	"github.com/campusnet/forum/internal/polls"
	"github.com/campusnet/forum/internal/ratelimit"
	"github.com/campusnet/forum/internal/threads"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AttachmentStore interface {
	Store(ctx context.Context, data []byte, originalName, mimeType string, kind messaging.Kind) (*messaging.AttachmentRef, error)
	Release(ctx context.Context, ref *messaging.AttachmentRef) error
}

type Publisher interface {
	Dispatch(events ...messaging.Event)
}

type Auditor interface {
	LogMessageDeleted(ctx context.Context, userID, messageID string, replies int)
}

type Limiter interface {
	Check(ctx context.Context, action ratelimit.Action, subject string) error
}

// Upload is a binary already extracted from the client request.
type Upload struct {
	Data         []byte
	OriginalName string
	MimeType     string
}

// PostRequest describes a new message or reply. AuthorID may be empty for
// anonymous posts. File and audio messages carry either an Upload to store
// or an already stored reference in Payload.
type PostRequest struct {
	AuthorID string
	Kind     messaging.Kind
	Payload  messaging.Payload
	Upload   *Upload
}

type Page struct {
	Items    []*messaging.Message `json:"items"`
	PageInfo pagination.PageInfo  `json:"pageInfo"`
}

type Service struct {
	repo        messages.Repository
	threads     *threads.Manager
	polls       *polls.Service
	attachments AttachmentStore
	publisher   Publisher
	limiter     Limiter
	auditor     Auditor
	logger      *zap.Logger
}

func NewService(
	repo messages.Repository,
	threadManager *threads.Manager,
	pollService *polls.Service,
	attachments AttachmentStore,
	publisher Publisher,
	limiter Limiter,
	auditor Auditor,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:        repo,
		threads:     threadManager,
		polls:       pollService,
		attachments: attachments,
		publisher:   publisher,
		limiter:     limiter,
		auditor:     auditor,
		logger:      logger,
	}
}

func (s *Service) ListTopLevel(ctx context.Context, forumID string, page, pageSize int) (*Page, error) {
	fid, err := messaging.ParseForumID(forumID)
	if err != nil {
		return nil, err
	}

	p := pagination.ParseOffsetRequest(&page, &pageSize)
	items, total, err := s.repo.ListTopLevel(ctx, fid, p.Page, p.PageSize)
	if err != nil {
		return nil, err
	}
	return newPage(items, total, p), nil
}

func (s *Service) ListReplies(ctx context.Context, parentID string, page, pageSize int) (*Page, error) {
	pid, err := messaging.ParseMessageID(parentID)
	if err != nil {
		return nil, err
	}

	p := pagination.ParseOffsetRequest(&page, &pageSize)
	items, total, err := s.repo.ListReplies(ctx, pid, p.Page, p.PageSize)
	if err != nil {
		return nil, err
	}
	return newPage(items, total, p), nil
}

func newPage(items []*messaging.Message, total int, p pagination.OffsetPagination) *Page {
	if items == nil {
		items = []*messaging.Message{}
	}
	return &Page{
		Items:    items,
		PageInfo: pagination.Window(total, p.Page, p.PageSize),
	}
}

func (s *Service) GetMessage(ctx context.Context, messageID string) (*messaging.Message, error) {
	id, err := messaging.ParseMessageID(messageID)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) PostMessage(ctx context.Context, forumID string, req PostRequest) (*messaging.Message, error) {
	fid, err := messaging.ParseForumID(forumID)
	if err != nil {
		return nil, err
	}
	author, err := parseAuthor(req.AuthorID)
	if err != nil {
		return nil, err
	}
	if err := s.checkLimit(ctx, ratelimit.ActionPost, author, fid.String()); err != nil {
		return nil, err
	}

	payload, release, err := s.resolvePayload(ctx, req)
	if err != nil {
		return nil, err
	}

	msg, err := messaging.NewMessage(fid, author, req.Kind, payload)
	if err != nil {
		release()
		return nil, err
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		release()
		return nil, err
	}

	s.publisher.Dispatch(messaging.MessageCreated(msg))
	s.logger.Info("message posted",
		logging.MessageID(msg.ID),
		logging.ForumID(msg.ForumID.String()),
		zap.String("kind", string(msg.Kind)),
		zap.Bool("anonymous", msg.Anonymous),
	)
	return msg, nil
}

func (s *Service) PostReply(ctx context.Context, parentID string, req PostRequest) (*messaging.Message, error) {
	pid, err := messaging.ParseMessageID(parentID)
	if err != nil {
		return nil, err
	}
	author, err := parseAuthor(req.AuthorID)
	if err != nil {
		return nil, err
	}
	if err := s.checkLimit(ctx, ratelimit.ActionPost, author, messaging.FormatMessageID(pid)); err != nil {
		return nil, err
	}

	payload, release, err := s.resolvePayload(ctx, req)
	if err != nil {
		return nil, err
	}

	reply, event, err := s.threads.PostReply(ctx, pid, author, req.Kind, payload)
	if err != nil {
		release()
		return nil, err
	}

	s.publisher.Dispatch(event)
	s.logger.Info("reply posted",
		logging.MessageID(reply.ID),
		zap.Int64("parent_id", pid),
		zap.String("kind", string(reply.Kind)),
	)
	return reply, nil
}

func (s *Service) Vote(ctx context.Context, messageID, userID string, optionIndex int) (*messaging.Message, error) {
	id, err := messaging.ParseMessageID(messageID)
	if err != nil {
		return nil, err
	}
	voter, err := messaging.ParseUserID(userID)
	if err != nil {
		return nil, err
	}
	if err := s.checkLimit(ctx, ratelimit.ActionVote, &voter, ""); err != nil {
		return nil, err
	}

	msg, event, err := s.polls.Vote(ctx, id, voter, optionIndex)
	if err != nil {
		return nil, err
	}

	s.publisher.Dispatch(event)
	return msg, nil
}

// DeleteMessage removes a message with its replies and attachments. The
// caller has already authorized requestingUserID; it is only audited here.
func (s *Service) DeleteMessage(ctx context.Context, messageID, requestingUserID string) error {
	id, err := messaging.ParseMessageID(messageID)
	if err != nil {
		return err
	}

	events, err := s.threads.DeleteMessage(ctx, id)
	// Deletions that did commit are announced even if the cascade stopped.
	if len(events) > 0 {
		s.publisher.Dispatch(events...)
	}
	if err != nil {
		return err
	}

	if s.auditor != nil {
		s.auditor.LogMessageDeleted(ctx, requestingUserID, messageID, len(events)-1)
	}
	return nil
}

// resolvePayload stores req.Upload when present and returns the payload
// pointing at it, plus a func that releases the stored object again.
func (s *Service) resolvePayload(ctx context.Context, req PostRequest) (messaging.Payload, func(), error) {
	payload := req.Payload
	noop := func() {}

	if req.Upload == nil {
		return payload, noop, nil
	}
	if req.Kind != messaging.KindFile && req.Kind != messaging.KindAudio {
		return payload, noop, errors.InvalidArgument("uploads are only accepted for file and audio messages")
	}
	if payload.Attachment != nil || payload.Audio != nil {
		return payload, noop, errors.InvalidArgument("exactly one primary payload is required")
	}

	ref, err := s.attachments.Store(ctx, req.Upload.Data, req.Upload.OriginalName, req.Upload.MimeType, req.Kind)
	if err != nil {
		return payload, noop, err
	}

	if req.Kind == messaging.KindAudio {
		payload.Audio = ref
	} else {
		payload.Attachment = ref
	}

	release := func() {
		ctx := context.WithoutCancel(ctx)
		if err := s.attachments.Release(ctx, ref); err != nil {
			s.logger.Warn("failed to release attachment of rejected post",
				zap.String("storage_key", ref.StorageKey),
				zap.Error(err),
			)
		}
	}
	return payload, release, nil
}

// checkLimit applies the per-author limit. Anonymous posts share one bucket
// per scope.
func (s *Service) checkLimit(ctx context.Context, action ratelimit.Action, author *uuid.UUID, scope string) error {
	if s.limiter == nil {
		return nil
	}
	subject := "anonymous:" + scope
	if author != nil {
		subject = author.String()
	}
	return s.limiter.Check(ctx, action, subject)
}

func parseAuthor(authorID string) (*uuid.UUID, error) {
	if authorID == "" {
		return nil, nil
	}
	id, err := messaging.ParseUserID(authorID)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
