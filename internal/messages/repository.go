package messages

import (
	"context"
	stderrors "errors"

	"github.com/campusnet/forum/internal/common/pagination"
	"github.com/campusnet/forum/internal/infra"
	"github.com/campusnet/forum/internal/messaging"
	"github.com/google/uuid"
)

// ErrVersionConflict is returned by UpdatePoll when the stored version no
// longer matches the one the caller read.
var ErrVersionConflict = stderrors.New("message version conflict")

// Repository owns message documents. Implementations never cascade: reply
// bookkeeping is done by the thread manager through AppendReply/RemoveReply.
type Repository interface {
	// Create assigns ID and CreatedAt and persists msg.
	Create(ctx context.Context, msg *messaging.Message) error
	Get(ctx context.Context, id int64) (*messaging.Message, error)
	// ListTopLevel returns one page of a forum's top-level messages in
	// creation order together with the total number of them.
	ListTopLevel(ctx context.Context, forumID uuid.UUID, page, pageSize int) ([]*messaging.Message, int, error)
	ListReplies(ctx context.Context, parentID int64, page, pageSize int) ([]*messaging.Message, int, error)
	Delete(ctx context.Context, id int64) error
	// AppendReply atomically adds replyID to the parent's reply list unless
	// it is already present.
	AppendReply(ctx context.Context, parentID, replyID int64) error
	RemoveReply(ctx context.Context, parentID, replyID int64) error
	// UpdatePoll replaces the poll if the stored version equals
	// expectedVersion and returns the updated message with Version bumped.
	UpdatePoll(ctx context.Context, id, expectedVersion int64, poll *messaging.Poll) (*messaging.Message, error)
	Ping(ctx context.Context) error
}

func prepare(ids *infra.IDGenerator, msg *messaging.Message) {
	if msg.ID == 0 {
		msg.ID = ids.Generate()
	}
	msg.CreatedAt = ids.Timestamp(msg.ID)
	msg.Version = 0
	if msg.ParentID == nil {
		if msg.ReplyIDs == nil {
			msg.ReplyIDs = messaging.IDList{}
		}
	} else {
		msg.ReplyIDs = nil
	}
}

// normalize restores the invariants a backend may lose on the way through
// its encoding (empty arrays decoded as nil).
func normalize(msg *messaging.Message) *messaging.Message {
	if msg.ParentID == nil && msg.ReplyIDs == nil {
		msg.ReplyIDs = messaging.IDList{}
	}
	if msg.Poll != nil && msg.Poll.Votes == nil {
		msg.Poll.Votes = []messaging.Vote{}
	}
	return msg
}

// skip returns how many documents precede the page. ok is false when the
// page holds nothing, including pages far past the end.
func skip(total int64, page, pageSize int) (n int64, ok bool) {
	start, end := pagination.Bounds(int(total), page, pageSize)
	return int64(start), start < end
}
