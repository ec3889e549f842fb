package messages

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/campusnet/forum/internal/common/errors"
	"github.com/campusnet/forum/internal/common/pagination"
	"github.com/campusnet/forum/internal/infra"
	"github.com/campusnet/forum/internal/messaging"
	"github.com/google/uuid"
)

// MemoryRepository keeps documents in process memory. Used by tests and by
// single-node development setups.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[int64]*messaging.Message
	ids  *infra.IDGenerator
}

func NewMemoryRepository(ids *infra.IDGenerator) *MemoryRepository {
	return &MemoryRepository{
		docs: make(map[int64]*messaging.Message),
		ids:  ids,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, msg *messaging.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prepare(r.ids, msg)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.docs[msg.ID]; exists {
		return errors.Conflict("message already exists")
	}
	r.docs[msg.ID] = msg.Clone()
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id int64) (*messaging.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.docs[id]
	if !ok {
		return nil, errors.NotFound("message not found")
	}
	return msg.Clone(), nil
}

func (r *MemoryRepository) ListTopLevel(ctx context.Context, forumID uuid.UUID, page, pageSize int) ([]*messaging.Message, int, error) {
	return r.list(ctx, page, pageSize, func(m *messaging.Message) bool {
		return m.ForumID == forumID && m.ParentID == nil
	})
}

func (r *MemoryRepository) ListReplies(ctx context.Context, parentID int64, page, pageSize int) ([]*messaging.Message, int, error) {
	return r.list(ctx, page, pageSize, func(m *messaging.Message) bool {
		return m.ParentID != nil && *m.ParentID == parentID
	})
}

func (r *MemoryRepository) list(ctx context.Context, page, pageSize int, match func(*messaging.Message) bool) ([]*messaging.Message, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	r.mu.RLock()
	var matched []*messaging.Message
	for _, msg := range r.docs {
		if match(msg) {
			matched = append(matched, msg)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})

	window := pagination.Slice(matched, page, pageSize)
	items := make([]*messaging.Message, 0, len(window))
	for _, msg := range window {
		items = append(items, msg.Clone())
	}
	return items, len(matched), nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[id]; !ok {
		return errors.NotFound("message not found")
	}
	delete(r.docs, id)
	return nil
}

func (r *MemoryRepository) AppendReply(ctx context.Context, parentID, replyID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.docs[parentID]
	if !ok || parent.ParentID != nil {
		return errors.NotFound("parent message not found")
	}
	if !slices.Contains(parent.ReplyIDs, replyID) {
		parent.ReplyIDs = append(parent.ReplyIDs, replyID)
	}
	return nil
}

func (r *MemoryRepository) RemoveReply(ctx context.Context, parentID, replyID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	parent, ok := r.docs[parentID]
	if !ok {
		return errors.NotFound("parent message not found")
	}
	parent.ReplyIDs = slices.DeleteFunc(parent.ReplyIDs, func(id int64) bool { return id == replyID })
	return nil
}

func (r *MemoryRepository) UpdatePoll(ctx context.Context, id, expectedVersion int64, poll *messaging.Poll) (*messaging.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.docs[id]
	if !ok {
		return nil, errors.NotFound("message not found")
	}
	if msg.Version != expectedVersion {
		return nil, ErrVersionConflict
	}

	p := poll.Clone()
	msg.Poll = &p
	msg.Version++
	return msg.Clone(), nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len reports the number of stored documents.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}
