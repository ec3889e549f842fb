package messages

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/campusnet/forum/internal/common/errors"
	"github.com/campusnet/forum/internal/infra"
	"github.com/campusnet/forum/internal/messaging"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

const messageColumns = `id, forum_id, author_id, anonymous, kind, body, attachment, audio, parent_id, reply_ids, poll, version, created_at`

// PostgresRepository keeps one row per message with the poll and attachment
// references in JSONB columns and reply ids in a BIGINT array.
type PostgresRepository struct {
	pool *pgxpool.Pool
	ids  *infra.IDGenerator
}

func NewPostgresRepository(pool *pgxpool.Pool, ids *infra.IDGenerator) *PostgresRepository {
	return &PostgresRepository{pool: pool, ids: ids}
}

func (r *PostgresRepository) Create(ctx context.Context, msg *messaging.Message) error {
	prepare(r.ids, msg)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO forum_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		msg.ID, msg.ForumID, msg.AuthorID, msg.Anonymous, string(msg.Kind), msg.Body,
		msg.Attachment, msg.Audio, msg.ParentID, []int64(msg.ReplyIDs), msg.Poll, msg.Version, msg.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return errors.Conflict("message already exists")
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (*messaging.Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM forum_messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (r *PostgresRepository) ListTopLevel(ctx context.Context, forumID uuid.UUID, page, pageSize int) ([]*messaging.Message, int, error) {
	return r.list(ctx, "forum_id = $1 AND parent_id IS NULL", forumID, page, pageSize)
}

func (r *PostgresRepository) ListReplies(ctx context.Context, parentID int64, page, pageSize int) ([]*messaging.Message, int, error) {
	return r.list(ctx, "parent_id = $1", parentID, page, pageSize)
}

func (r *PostgresRepository) list(ctx context.Context, where string, arg any, page, pageSize int) ([]*messaging.Message, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM forum_messages WHERE `+where, arg).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	n, ok := skip(int64(total), page, pageSize)
	if !ok {
		return []*messaging.Message{}, total, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM forum_messages
		WHERE `+where+`
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`, arg, pageSize, n)
	if err != nil {
		return nil, 0, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	items := make([]*messaging.Message, 0, pageSize)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, msg)
	}
	return items, total, rows.Err()
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM forum_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("message not found")
	}
	return nil
}

func (r *PostgresRepository) AppendReply(ctx context.Context, parentID, replyID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE forum_messages
		SET reply_ids = CASE
			WHEN $2::BIGINT = ANY(reply_ids) THEN reply_ids
			ELSE array_append(reply_ids, $2::BIGINT)
		END
		WHERE id = $1 AND parent_id IS NULL
	`, parentID, replyID)
	if err != nil {
		return fmt.Errorf("append reply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("parent message not found")
	}
	return nil
}

func (r *PostgresRepository) RemoveReply(ctx context.Context, parentID, replyID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE forum_messages
		SET reply_ids = array_remove(reply_ids, $2::BIGINT)
		WHERE id = $1
	`, parentID, replyID)
	if err != nil {
		return fmt.Errorf("remove reply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("parent message not found")
	}
	return nil
}

func (r *PostgresRepository) UpdatePoll(ctx context.Context, id, expectedVersion int64, poll *messaging.Poll) (*messaging.Message, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE forum_messages
		SET poll = $3, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+messageColumns,
		id, expectedVersion, poll,
	)
	msg, err := scanMessage(row)
	if err == nil {
		return msg, nil
	}
	if !stderrors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update poll: %w", err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM forum_messages WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check message: %w", err)
	}
	if !exists {
		return nil, errors.NotFound("message not found")
	}
	return nil, ErrVersionConflict
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func scanMessage(row pgx.Row) (*messaging.Message, error) {
	var (
		msg  messaging.Message
		kind string
	)
	err := row.Scan(
		&msg.ID, &msg.ForumID, &msg.AuthorID, &msg.Anonymous, &kind, &msg.Body,
		&msg.Attachment, &msg.Audio, &msg.ParentID, (*[]int64)(&msg.ReplyIDs), &msg.Poll, &msg.Version, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Kind = messaging.Kind(kind)
	msg.CreatedAt = msg.CreatedAt.UTC()
	return normalize(&msg), nil
}
