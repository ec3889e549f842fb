package messages

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/campusnet/forum/internal/common/errors"
	"github.com/campusnet/forum/internal/infra"
	"github.com/campusnet/forum/internal/messaging"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository stores each message as one document; the poll and the
// reply id list are embedded arrays updated with atomic operators.
type MongoRepository struct {
	coll *mongo.Collection
	ids  *infra.IDGenerator
}

func NewMongoRepository(coll *mongo.Collection, ids *infra.IDGenerator) *MongoRepository {
	return &MongoRepository{coll: coll, ids: ids}
}

// EnsureIndexes creates the indexes backing the paginated reads.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "forum_id", Value: 1}, {Key: "parent_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("forum_top_level"),
		},
		{
			Keys:    bson.D{{Key: "parent_id", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index().SetName("replies_by_parent"),
		},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) Create(ctx context.Context, msg *messaging.Message) error {
	prepare(r.ids, msg)

	if _, err := r.coll.InsertOne(ctx, msg); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.Conflict("message already exists")
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MongoRepository) Get(ctx context.Context, id int64) (*messaging.Message, error) {
	var msg messaging.Message
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if stderrors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.NotFound("message not found")
	}
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	return normalize(&msg), nil
}

func (r *MongoRepository) ListTopLevel(ctx context.Context, forumID uuid.UUID, page, pageSize int) ([]*messaging.Message, int, error) {
	return r.list(ctx, bson.M{"forum_id": forumID, "parent_id": nil}, page, pageSize)
}

func (r *MongoRepository) ListReplies(ctx context.Context, parentID int64, page, pageSize int) ([]*messaging.Message, int, error) {
	return r.list(ctx, bson.M{"parent_id": parentID}, page, pageSize)
}

func (r *MongoRepository) list(ctx context.Context, filter bson.M, page, pageSize int) ([]*messaging.Message, int, error) {
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	n, ok := skip(total, page, pageSize)
	if !ok {
		return []*messaging.Message{}, int(total), nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(n).
		SetLimit(int64(pageSize))

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find messages: %w", err)
	}
	defer cur.Close(ctx)

	items := make([]*messaging.Message, 0, pageSize)
	for cur.Next(ctx) {
		var msg messaging.Message
		if err := cur.Decode(&msg); err != nil {
			return nil, 0, fmt.Errorf("decode message: %w", err)
		}
		items = append(items, normalize(&msg))
	}
	return items, int(total), cur.Err()
}

func (r *MongoRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return errors.NotFound("message not found")
	}
	return nil
}

func (r *MongoRepository) AppendReply(ctx context.Context, parentID, replyID int64) error {
	// $addToSet appends at the end and is a no-op for a present id.
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": parentID, "parent_id": nil},
		bson.M{"$addToSet": bson.M{"reply_ids": replyID}},
	)
	if err != nil {
		return fmt.Errorf("append reply: %w", err)
	}
	if res.MatchedCount == 0 {
		return errors.NotFound("parent message not found")
	}
	return nil
}

func (r *MongoRepository) RemoveReply(ctx context.Context, parentID, replyID int64) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": parentID},
		bson.M{"$pull": bson.M{"reply_ids": replyID}},
	)
	if err != nil {
		return fmt.Errorf("remove reply: %w", err)
	}
	if res.MatchedCount == 0 {
		return errors.NotFound("parent message not found")
	}
	return nil
}

func (r *MongoRepository) UpdatePoll(ctx context.Context, id, expectedVersion int64, poll *messaging.Poll) (*messaging.Message, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var msg messaging.Message
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "version": expectedVersion},
		bson.M{
			"$set": bson.M{"poll": poll},
			"$inc": bson.M{"version": 1},
		},
		opts,
	).Decode(&msg)

	if stderrors.Is(err, mongo.ErrNoDocuments) {
		n, cerr := r.coll.CountDocuments(ctx, bson.M{"_id": id})
		if cerr != nil {
			return nil, fmt.Errorf("check message: %w", cerr)
		}
		if n == 0 {
			return nil, errors.NotFound("message not found")
		}
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update poll: %w", err)
	}
	return normalize(&msg), nil
}

func (r *MongoRepository) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, nil)
}
