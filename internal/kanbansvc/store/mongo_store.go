package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/avvvet/kanban-services/internal/kanbansvc/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoCollection = "kanban_collections"

// the card array is kept as JSON text so card fields round-trip untouched
type collectionDoc struct {
	Name      string    `bson:"_id"`
	Cards     string    `bson:"cards"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoCardStore keeps each named collection as one document.
type MongoCardStore struct {
	coll *mongo.Collection
	name string
}

func NewMongoCardStore(db *mongo.Database, name string) *MongoCardStore {
	return &MongoCardStore{coll: db.Collection(mongoCollection), name: name}
}

func (s *MongoCardStore) Load(ctx context.Context) (models.Collection, error) {
	var doc collectionDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": s.name}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Collection{}, nil
		}
		return nil, &StorageError{Op: "load", Path: s.location(), Err: err}
	}

	var cards models.Collection
	if err := json.Unmarshal([]byte(doc.Cards), &cards); err != nil {
		return nil, &StorageError{Op: "load", Path: s.location(), Err: err}
	}

	return cards.Normalize(), nil
}

func (s *MongoCardStore) Save(ctx context.Context, cards models.Collection) error {
	data, err := json.Marshal(cards.Normalize())
	if err != nil {
		return &StorageError{Op: "save", Path: s.location(), Err: err}
	}

	doc := collectionDoc{
		Name:      s.name,
		Cards:     string(data),
		UpdatedAt: time.Now().UTC(),
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"_id": s.name}, doc, opts); err != nil {
		return &StorageError{Op: "save", Path: s.location(), Err: err}
	}

	return nil
}

func (s *MongoCardStore) location() string {
	return mongoCollection + "/" + s.name
}
