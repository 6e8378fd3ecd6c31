package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/flowprobe/flowprobe/internal/model"
)

// mongoDriver runs "collection.{filterJson}" queries; an empty query
// lists the collections of the configured database.
type mongoDriver struct{}

type mongoResult struct {
	Documents []bson.M `json:"documents"`
	Count     int      `json:"count"`
}

func mongoURI(cfg map[string]string) string {
	if uri := cfgValue(cfg, "uri", "url"); uri != "" {
		return uri
	}
	return fmt.Sprintf("mongodb://%s:%s",
		defaultStr(cfgValue(cfg, "host"), "127.0.0.1"),
		defaultStr(cfgValue(cfg, "port"), "27017"),
	)
}

func parseMongoQuery(query string) (collection, filter string, err error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", "", nil
	}
	if idx := strings.Index(q, ".{"); idx >= 0 {
		return q[:idx], q[idx+1:], nil
	}
	if strings.ContainsAny(q, "{}") {
		return "", "", fmt.Errorf("invalid mongodb query %q", q)
	}
	// Bare collection name: match everything.
	return q, "{}", nil
}

func (d *mongoDriver) Execute(ctx context.Context, cfg map[string]string, query string, timeout time.Duration) (string, error) {
	dbName := cfgValue(cfg, "database")
	if dbName == "" {
		return "", errors.New("mongodb connector requires a database")
	}

	collection, filterJSON, err := parseMongoQuery(query)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI(cfg)))
	if err != nil {
		return "", fmt.Errorf("mongodb connect failed: %w", err)
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()

	db := client.Database(dbName)

	if collection == "" {
		names, err := db.ListCollectionNames(ctx, bson.D{})
		if err != nil {
			return "", fmt.Errorf("failed to list collections: %w", err)
		}
		return marshalJSON(map[string]any{"collections": names})
	}

	var filter bson.M
	if err := bson.UnmarshalExtJSON([]byte(filterJSON), true, &filter); err != nil {
		return "", fmt.Errorf("invalid filter %q: %w", filterJSON, err)
	}

	cursor, err := db.Collection(collection).Find(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("find failed: %w", err)
	}
	docs := []bson.M{}
	if err := cursor.All(ctx, &docs); err != nil {
		return "", fmt.Errorf("cursor read failed: %w", err)
	}

	return marshalJSON(mongoResult{Documents: docs, Count: len(docs)})
}

func init() {
	Register(model.ConnectorMongoDB, func() Driver { return &mongoDriver{} })
}
