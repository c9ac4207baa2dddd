package audit

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	defaultCollection = "decision_log"
	defaultOpTimeout  = 5 * time.Second
)

// MongoOptions configures the Mongo-backed decision log store.
type MongoOptions struct {
	// Client is a connected Mongo client. Required.
	Client *mongodriver.Client
	// Database is the database name. Required.
	Database string
	// Collection defaults to "decision_log".
	Collection string
	// Timeout bounds individual operations. Defaults to 5s.
	Timeout time.Duration
}

// MongoStore persists Decision Log Entries in MongoDB, append-only: entries
// are always inserted, never updated or deleted. It is grounded on the
// teacher's features/run/mongo and features/runlog/mongo clients, adapted to
// the mongo-driver/v2 API.
type MongoStore struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

type entryDocument struct {
	WorkflowID string         `bson:"workflow_id"`
	Timestamp  time.Time      `bson:"timestamp"`
	Type       string         `bson:"type"`
	Input      map[string]any `bson:"input"`
	Outcome    string         `bson:"outcome"`
	Reasoning  string         `bson:"reasoning"`
	Confidence float64        `bson:"confidence"`
	Model      string         `bson:"model"`
	LatencyMS  int64          `bson:"latency_ms"`
	Tool       string         `bson:"tool"`
}

// NewMongoStore constructs a MongoStore and ensures its indexes exist.
func NewMongoStore(ctx context.Context, opts MongoOptions) (*MongoStore, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("mongo client is required")
	}
	if opts.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collName)

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	idx := mongodriver.IndexModel{
		Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "timestamp", Value: 1}},
	}
	if _, err := coll.Indexes().CreateOne(opCtx, idx); err != nil {
		return nil, fmt.Errorf("ensure decision log index: %w", err)
	}
	return &MongoStore{coll: coll, timeout: timeout}, nil
}

// Append inserts entry as a new document. Never overwrites or updates an
// existing document, preserving the append-only contract.
func (s *MongoStore) Append(ctx context.Context, entry Entry) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	doc := entryDocument{
		WorkflowID: entry.WorkflowID,
		Timestamp:  entry.Timestamp,
		Type:       string(entry.Type),
		Input:      entry.Input,
		Outcome:    entry.Output.Outcome,
		Reasoning:  entry.Output.Reasoning,
		Confidence: entry.Output.Confidence,
		Model:      entry.Metadata.Model,
		LatencyMS:  entry.Metadata.LatencyMS,
		Tool:       entry.Metadata.Tool,
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert decision log entry: %w", err)
	}
	return nil
}

// List returns every entry recorded for workflowID, ordered by timestamp.
func (s *MongoStore) List(ctx context.Context, workflowID string) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	cur, err := s.coll.Find(ctx,
		bson.D{{Key: "workflow_id", Value: workflowID}},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find decision log entries: %w", err)
	}
	defer cur.Close(ctx)

	var entries []Entry
	for cur.Next(ctx) {
		var doc entryDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode decision log entry: %w", err)
		}
		entries = append(entries, Entry{
			WorkflowID: doc.WorkflowID,
			Timestamp:  doc.Timestamp,
			Type:       DecisionType(doc.Type),
			Input:      doc.Input,
			Output: Decision{
				Outcome:    doc.Outcome,
				Reasoning:  doc.Reasoning,
				Confidence: doc.Confidence,
			},
			Metadata: Metadata{
				Model:     doc.Model,
				LatencyMS: doc.LatencyMS,
				Tool:      doc.Tool,
			},
		})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision log entries: %w", err)
	}
	return entries, nil
}
