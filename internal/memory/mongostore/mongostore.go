// Package mongostore persists ConversationContext checkpoints keyed by
// checkpoint_thread ("session_id:run_id") so concurrent Runs in the same
// Session never share in-memory state: isolation is enforced by key, not by
// process coupling.
package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/sitewright/agentcore/internal/memory"
)

const (
	defaultCollection = "conversation_checkpoints"
	defaultOpTimeout   = 5 * time.Second
)

// Checkpoint is the durable snapshot of a Context at a point in time.
type Checkpoint struct {
	CheckpointThread string                               `bson:"checkpoint_thread"`
	SessionID        string                               `bson:"session_id"`
	RunID            string                                `bson:"run_id"`
	AU2              memory.AU2Summary                     `bson:"au2"`
	ShortTerm        []memory.Message                      `bson:"short_term"`
	Sections         map[string]memory.ProductDocSection   `bson:"sections"`
	UpdatedAt        time.Time                              `bson:"updated_at"`
}

// Store persists and retrieves Checkpoints in MongoDB.
type Store struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// Options configures the Mongo-backed checkpoint store.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// NewStore constructs a Store and ensures its unique index on
// checkpoint_thread exists.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	coll := opts.Client.Database(opts.Database).Collection(collection)
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	index := mongo.IndexModel{
		Keys:    bson.D{{Key: "checkpoint_thread", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ictx, index); err != nil {
		return nil, err
	}

	return &Store{coll: coll, timeout: timeout}, nil
}

// Ping verifies connectivity, used by health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, readpref.Primary())
}

// Save upserts the checkpoint for thread.
func (s *Store) Save(ctx context.Context, thread string, ctxState *memory.Context) error {
	if thread == "" {
		return errors.New("mongostore: checkpoint thread is required")
	}
	sessionID, runID := splitThread(thread)

	doc := Checkpoint{
		CheckpointThread: thread,
		SessionID:        sessionID,
		RunID:            runID,
		AU2:              ctxState.AU2(),
		ShortTerm:        ctxState.ShortTerm(),
		UpdatedAt:        time.Now().UTC(),
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	filter := bson.M{"checkpoint_thread": thread}
	update := bson.M{"$set": doc}
	_, err := s.coll.UpdateOne(cctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// Load retrieves the checkpoint for thread. Returns (Checkpoint{}, false,
// nil) if none exists yet, so callers can treat absence as "start fresh"
// rather than handling an error.
func (s *Store) Load(ctx context.Context, thread string) (Checkpoint, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var doc Checkpoint
	err := s.coll.FindOne(cctx, bson.M{"checkpoint_thread": thread}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, err
	}
	return doc, true, nil
}

// Thread computes the checkpoint_thread for a session/run pair.
func Thread(sessionID, runID string) string {
	return sessionID + ":" + runID
}

func splitThread(thread string) (sessionID, runID string) {
	for i := len(thread) - 1; i >= 0; i-- {
		if thread[i] == ':' {
			return thread[:i], thread[i+1:]
		}
	}
	return thread, ""
}
