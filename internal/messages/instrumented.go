package messages

import (
	"context"
	"time"

	"github.com/campusnet/forum/internal/messaging"
	"github.com/google/uuid"
)

type Recorder interface {
	RecordStoreOp(operation string, duration time.Duration, err error)
}

// Instrumented decorates a Repository with per-operation latency metrics.
type Instrumented struct {
	next     Repository
	recorder Recorder
}

func NewInstrumented(next Repository, recorder Recorder) *Instrumented {
	return &Instrumented{next: next, recorder: recorder}
}

func (r *Instrumented) observe(op string, start time.Time, err error) {
	r.recorder.RecordStoreOp(op, time.Since(start), err)
}

func (r *Instrumented) Create(ctx context.Context, msg *messaging.Message) error {
	start := time.Now()
	err := r.next.Create(ctx, msg)
	r.observe("create", start, err)
	return err
}

func (r *Instrumented) Get(ctx context.Context, id int64) (*messaging.Message, error) {
	start := time.Now()
	msg, err := r.next.Get(ctx, id)
	r.observe("get", start, err)
	return msg, err
}

func (r *Instrumented) ListTopLevel(ctx context.Context, forumID uuid.UUID, page, pageSize int) ([]*messaging.Message, int, error) {
	start := time.Now()
	items, total, err := r.next.ListTopLevel(ctx, forumID, page, pageSize)
	r.observe("list_top_level", start, err)
	return items, total, err
}

func (r *Instrumented) ListReplies(ctx context.Context, parentID int64, page, pageSize int) ([]*messaging.Message, int, error) {
	start := time.Now()
	items, total, err := r.next.ListReplies(ctx, parentID, page, pageSize)
	r.observe("list_replies", start, err)
	return items, total, err
}

func (r *Instrumented) Delete(ctx context.Context, id int64) error {
	start := time.Now()
	err := r.next.Delete(ctx, id)
	r.observe("delete", start, err)
	return err
}

func (r *Instrumented) AppendReply(ctx context.Context, parentID, replyID int64) error {
	start := time.Now()
	err := r.next.AppendReply(ctx, parentID, replyID)
	r.observe("append_reply", start, err)
	return err
}

func (r *Instrumented) RemoveReply(ctx context.Context, parentID, replyID int64) error {
	start := time.Now()
	err := r.next.RemoveReply(ctx, parentID, replyID)
	r.observe("remove_reply", start, err)
	return err
}

func (r *Instrumented) UpdatePoll(ctx context.Context, id, expectedVersion int64, poll *messaging.Poll) (*messaging.Message, error) {
	start := time.Now()
	msg, err := r.next.UpdatePoll(ctx, id, expectedVersion, poll)
	r.observe("update_poll", start, err)
	return msg, err
}

func (r *Instrumented) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}
