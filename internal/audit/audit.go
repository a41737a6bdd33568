// Package audit keeps a MongoDB trail of auth and admin events. Writes are
// fire-and-forget: the trail must never slow down or fail a user-facing
// operation.
package audit

import (
	"context"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "audit_events"

// Event kinds recorded by the session and admin layers.
const (
	KindSignIn             = "sign_in"
	KindSignOut            = "sign_out"
	KindTokenRefreshed     = "token_refreshed"
	KindUserSynthesized    = "user_synthesized"
	KindSessionInvalidated = "session_invalidated"
	KindUserBlocked        = "user_blocked"
	KindUserUnblocked      = "user_unblocked"
)

type Event struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Kind      string             `bson:"kind" json:"kind"`
	ActorID   string             `bson:"actor_id,omitempty" json:"actor_id,omitempty"`
	Email     string             `bson:"email,omitempty" json:"email,omitempty"`
	Detail    string             `bson:"detail,omitempty" json:"detail,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// Recorder writes audit events. A nil Recorder is valid and drops events,
// so callers never need to branch on whether Mongo is configured.
type Recorder struct {
	col *mongo.Collection
}

func NewRecorder(db *mongo.Database) *Recorder {
	if db == nil {
		return nil
	}
	return &Recorder{col: db.Collection(collectionName)}
}

// EnsureIndexes configures indexes for the audit collection. Called on
// startup after Mongo has connected.
func (r *Recorder) EnsureIndexes(ctx context.Context) error {
	if r == nil {
		return nil
	}
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "actor_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return err
}

// Record queues one event. Never blocks the caller.
func (r *Recorder) Record(kind, actorID, email, detail string) {
	if r == nil {
		return
	}
	evt := Event{Kind: kind, ActorID: actorID, Email: email, Detail: detail, CreatedAt: time.Now().UTC()}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := r.col.InsertOne(ctx, evt); err != nil {
			log.Printf("audit: insert failed: %v", err)
		}
	}()
}

// List returns the most recent events, newest first.
func (r *Recorder) List(ctx context.Context, limit int64) ([]Event, error) {
	if r == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cur, err := r.col.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Event
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
