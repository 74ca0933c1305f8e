package db

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectToDB connects to the database named in the URI path,
// e.g. mongodb://localhost:27017/kanban.
func ConnectToDB(mongoURI string) (*mongo.Database, error) {
	uri, err := url.Parse(mongoURI)
	if err != nil {
		return nil, fmt.Errorf("parse MongoDB URI: %w", err)
	}

	dbName := strings.TrimPrefix(uri.Path, "/")
	if dbName == "" {
		return nil, fmt.Errorf("MongoDB URI has no database name")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	return client.Database(dbName), nil
}

func Disconnect(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return db.Client().Disconnect(ctx)
}
