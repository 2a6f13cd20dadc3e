package chat

import (
	"context"
	"fmt"

	"resident_chat/internal/model"
	"resident_chat/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	chatsCollection    = "chats"
	countersCollection = "counters"
)

type (
	// ChatRepo stores every participant's conversation logs in one
	// collection, partitioned by (owner_id, peer_id).
	ChatRepo struct {
		collection *mongo.Collection
		counters   *mongo.Collection
	}
)

var _ repository.LogStore = (*ChatRepo)(nil)

func NewChatRepo(db *mongo.Database) *ChatRepo {
	return &ChatRepo{
		collection: db.Collection(chatsCollection),
		counters:   db.Collection(countersCollection),
	}
}

func (r *ChatRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "peer_id", Value: 1}, {Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("log_message_unique"),
		},
		{
			Keys:    bson.D{{Key: "owner_id", Value: 1}, {Key: "peer_id", Value: 1}, {Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetName("log_order"),
		},
	})
	return err
}

func (r *ChatRepo) Insert(ctx context.Context, log model.ConversationID, msg *model.Message) error {
	seq, err := r.nextSeq(ctx, log)
	if err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	filter := append(logFilter(log), bson.E{Key: "id", Value: msg.ID})
	update := bson.D{{Key: "$setOnInsert", Value: insertFields(msg, seq)}}

	_, err = r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// lost an upsert race against the same copy
		return nil
	}
	return err
}

func (r *ChatRepo) List(ctx context.Context, log model.ConversationID) ([]*model.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "seq", Value: 1}})

	cursor, err := r.collection.Find(ctx, logFilter(log), opts)
	if err != nil {
		return nil, err
	}

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	res := make([]*model.Message, 0, len(docs))
	for i := range docs {
		res = append(res, docs[i].toModel())
	}
	return res, nil
}

// Watch opens a change stream over one log. It requires a replica set.
func (r *ChatRepo) Watch(ctx context.Context, log model.ConversationID) (repository.ChangeStream, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "fullDocument.owner_id", Value: log.Owner},
			{Key: "fullDocument.peer_id", Value: log.Peer},
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	cs, err := r.collection.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func (r *ChatRepo) nextSeq(ctx context.Context, log model.ConversationID) (int64, error) {
	filter := bson.M{"_id": chatsCollection + ":" + log.String()}
	update := bson.M{"$inc": bson.M{"seq": 1}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var c counterDocument
	if err := r.counters.FindOneAndUpdate(ctx, filter, update, opts).Decode(&c); err != nil {
		return 0, err
	}
	return c.Seq, nil
}
