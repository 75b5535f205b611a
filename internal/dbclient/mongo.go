package dbclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notionsync/internal/domain"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ── Raw archive ────────────────────────────────────────────
// MongoArchive keeps the untouched page JSON of every fetched record,
// keyed by page id, next to the relational mirror.

// MongoArchive upserts raw source pages into one MongoDB collection.
type MongoArchive struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoArchive connects to uri and selects database/collection.
// The database falls back to the one named in the URI path, then "notionsync".
func NewMongoArchive(uri, database, collection string) (*MongoArchive, error) {
	if database == "" {
		database = databaseFromURI(uri)
	}
	if collection == "" {
		collection = "raw_pages"
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return &MongoArchive{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}, nil
}

// Archive upserts one document per record and returns how many were written.
func (a *MongoArchive) Archive(ctx context.Context, collectionID, table string, records []domain.SourceRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	models := make([]mongo.WriteModel, 0, len(records))
	for _, rec := range records {
		doc, err := BuildArchiveDocument(collectionID, table, rec, time.Now())
		if err != nil {
			return 0, err
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: rec.ID}}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	res, err := a.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("archive %s: %w", table, err)
	}
	return int(res.UpsertedCount + res.MatchedCount), nil
}

// Close disconnects the client.
func (a *MongoArchive) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}

// BuildArchiveDocument renders the stored document for one record. The raw
// page JSON is embedded as-is when present, otherwise the decoded fields are.
func BuildArchiveDocument(collectionID, table string, rec domain.SourceRecord, now time.Time) (bson.D, error) {
	var page any
	if len(rec.Raw) > 0 {
		var raw bson.D
		if err := bson.UnmarshalExtJSON(rec.Raw, false, &raw); err != nil {
			return nil, fmt.Errorf("decode page %s: %w", rec.ID, err)
		}
		page = raw
	} else {
		fields := make(map[string]any, len(rec.Fields))
		for k, v := range rec.Fields {
			fields[k] = v.Native()
		}
		page = fields
	}
	return bson.D{
		{Key: "_id", Value: rec.ID},
		{Key: "collection_id", Value: collectionID},
		{Key: "table", Value: table},
		{Key: "last_edited_time", Value: rec.ModifiedAt},
		{Key: "archived", Value: rec.Archived},
		{Key: "archived_at", Value: now.UTC()},
		{Key: "page", Value: page},
	}, nil
}

// databaseFromURI extracts the path segment of a mongodb:// or mongodb+srv:// URI.
func databaseFromURI(uri string) string {
	rest := uri
	for _, prefix := range []string{"mongodb+srv://", "mongodb://"} {
		if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
			break
		}
	}
	if at := strings.Index(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}
	if slash := strings.Index(rest, "/"); slash != -1 {
		path := rest[slash+1:]
		if q := strings.Index(path, "?"); q != -1 {
			path = path[:q]
		}
		if path != "" {
			return path
		}
	}
	return "notionsync"
}
