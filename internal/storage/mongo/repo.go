// Package mongo provides the MongoDB storage backend.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"ingest/internal/storage"
)

// Repo implements storage.Repository for MongoDB.
//
// Layout:
//   - documents        {_id: identity, body: <canonical JSON string>, updated_at}
//   - schema_versions  {version, schema, stats, created_at}
//   - counters         {_id: "schema_version", seq} drives version allocation
//
// Bodies are stored as strings rather than embedded documents so lookups
// return exactly the bytes that were written. Version numbers come from an
// atomic $inc on the counter document, which serializes concurrent savers
// without transactions.
type Repo struct {
	client *mongo.Client
	db     *mongo.Database
}

func init() {
	storage.Register("mongo", New)
}

// New connects to MongoDB and validates the connection with a ping. The
// database name is taken from the URI path, defaulting to "ingest".
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return &Repo{
		client: client,
		db:     client.Database(dbNameFromURI(cfg.DSN)),
	}, nil
}

func (r *Repo) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = r.client.Disconnect(ctx)
}

func (r *Repo) documents() *mongo.Collection { return r.db.Collection("documents") }

func (r *Repo) Lookup(ctx context.Context, identity string) ([]byte, bool, error) {
	var doc struct {
		Body string `bson:"body"`
	}
	err := r.documents().FindOne(ctx, bson.M{"_id": identity}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mongo: lookup %s: %w", identity, err)
	}
	return []byte(doc.Body), true, nil
}

func (r *Repo) Insert(ctx context.Context, identity string, body []byte) error {
	_, err := r.documents().InsertOne(ctx, bson.M{
		"_id":        identity,
		"body":       string(body),
		"updated_at": time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("mongo: insert %s: %w", identity, err)
	}
	return nil
}

func (r *Repo) Replace(ctx context.Context, identity string, body []byte) error {
	res, err := r.documents().UpdateOne(ctx,
		bson.M{"_id": identity},
		bson.M{"$set": bson.M{"body": string(body), "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("mongo: replace %s: %w", identity, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("mongo: replace %s: no current document", identity)
	}
	return nil
}

// SaveSchemaVersion allocates the next version from the counter document and
// stores the snapshot under it.
func (r *Repo) SaveSchemaVersion(ctx context.Context, snap storage.Snapshot) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.db.Collection("counters").FindOneAndUpdate(ctx,
		bson.M{"_id": "schema_version"},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("%w: allocate: %v", storage.ErrVersionAllocation, err)
	}

	_, err = r.db.Collection("schema_versions").InsertOne(ctx, bson.M{
		"version":    counter.Seq,
		"schema":     string(snap.Schema),
		"stats":      string(snap.Stats),
		"created_at": snap.CreatedAt.UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: insert version %d: %v", storage.ErrVersionAllocation, counter.Seq, err)
	}
	return counter.Seq, nil
}

// dbNameFromURI extracts the database name from a mongodb:// URI path,
// ignoring credentials and query parameters. Empty paths fall back to the
// default database "ingest".
func dbNameFromURI(uri string) string {
	s := uri
	if i := strings.Index(s, "://"); i != -1 {
		s = s[i+3:]
	}
	if i := strings.Index(s, "@"); i != -1 {
		s = s[i+1:]
	}
	if i := strings.Index(s, "/"); i != -1 {
		s = s[i+1:]
	} else {
		return "ingest"
	}
	if i := strings.Index(s, "?"); i != -1 {
		s = s[:i]
	}
	if s == "" {
		return "ingest"
	}
	return s
}
