package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rejoinderhq/rejoinder/internal/model"
)

type batchDocument struct {
	StoreID        string        `bson:"store_id"`
	ActorID        string        `bson:"actor_id"`
	ConversationID string        `bson:"conversation_id"`
	Events         []model.Event `bson:"events"`
	CreatedAt      time.Time     `bson:"created_at"`
}

// MongoEventRepository implements EventRepository using MongoDB.
// Every append becomes one document, so a batch is atomic without a
// transaction.
type MongoEventRepository struct {
	collection *mongo.Collection
	storeID    string
	actorID    string
}

// NewMongoEventRepository creates a new MongoEventRepository.
// collectionName defaults to "events" if empty.
func NewMongoEventRepository(db *mongo.Database, collectionName, storeID, actorID string) *MongoEventRepository {
	if collectionName == "" {
		collectionName = "events"
	}
	return &MongoEventRepository{
		collection: db.Collection(collectionName),
		storeID:    storeID,
		actorID:    actorID,
	}
}

func (r *MongoEventRepository) AppendBatch(ctx context.Context, conversationID string, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}

	doc := batchDocument{
		StoreID:        r.storeID,
		ActorID:        r.actorID,
		ConversationID: conversationID,
		Events:         events,
		CreatedAt:      time.Now().UTC(),
	}

	_, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("repository: append batch for conversation %q: %w", conversationID, err)
	}

	return nil
}

func (r *MongoEventRepository) ListRecent(ctx context.Context, conversationID string, limit int) ([]model.Event, error) {
	filter := bson.M{
		"store_id":        r.storeID,
		"actor_id":        r.actorID,
		"conversation_id": conversationID,
	}

	// _id breaks created_at ties between appends in the same millisecond.
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("repository: list batches for conversation %q: %w", conversationID, err)
	}
	defer cursor.Close(ctx)

	var events []model.Event
	for cursor.Next(ctx) {
		var doc batchDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("repository: decode batch for conversation %q: %w", conversationID, err)
		}
		events = append(events, doc.Events...)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("repository: list batches for conversation %q: %w", conversationID, err)
	}

	return events, nil
}
