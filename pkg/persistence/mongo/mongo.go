// Package mongo provides a MongoDB-backed checkpoint persister.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/stately/pkg/persistence"
	"github.com/petrijr/stately/pkg/state"
)

// Persister stores checkpoints in a MongoDB collection, one document per
// (partition_key, app_id, sequence_id). State goes through the serde
// registry so registered struct types survive the round trip.
type Persister struct {
	coll *mongo.Collection
}

var (
	_ persistence.Persister   = (*Persister)(nil)
	_ persistence.Initializer = (*Persister)(nil)
)

// New creates a Persister. dbName defaults to "stately", collName to
// "state_checkpoints".
func New(client *mongo.Client, dbName, collName string) *Persister {
	if dbName == "" {
		dbName = "stately"
	}
	if collName == "" {
		collName = "state_checkpoints"
	}
	return &Persister{coll: client.Database(dbName).Collection(collName)}
}

type checkpointDoc struct {
	PartitionKey string         `bson:"partition_key"`
	AppID        string         `bson:"app_id"`
	SequenceID   int64          `bson:"sequence_id"`
	Position     string         `bson:"position"`
	Status       string         `bson:"status"`
	State        map[string]any `bson:"state"`
	CreatedAt    time.Time      `bson:"created_at"`
}

// Initialize creates the unique checkpoint index.
func (p *Persister) Initialize(ctx context.Context) error {
	_, err := p.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "partition_key", Value: 1},
			{Key: "app_id", Value: 1},
			{Key: "sequence_id", Value: -1},
		},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("mongo persister: creating index: %w", err)
	}
	return nil
}

func (p *Persister) Load(ctx context.Context, partitionKey, appID string, sequenceID *int64) (*persistence.PersistedStateData, error) {
	filter := bson.M{"partition_key": partitionKey, "app_id": appID}
	if sequenceID != nil {
		filter["sequence_id"] = *sequenceID
	}

	opts := options.FindOne().SetSort(bson.D{{Key: "sequence_id", Value: -1}})
	var doc checkpointDoc
	err := p.coll.FindOne(ctx, filter, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongo persister: reading checkpoint: %w", err)
	}

	st, err := state.Deserialize(doc.State)
	if err != nil {
		return nil, err
	}
	return &persistence.PersistedStateData{
		PartitionKey: doc.PartitionKey,
		AppID:        doc.AppID,
		SequenceID:   doc.SequenceID,
		Position:     doc.Position,
		State:        st,
		Status:       persistence.Status(doc.Status),
		CreatedAt:    doc.CreatedAt,
	}, nil
}

func (p *Persister) Save(ctx context.Context, partitionKey, appID string, sequenceID int64, position string, s state.State, status persistence.Status) error {
	serialized, err := s.Serialize()
	if err != nil {
		return err
	}

	doc := checkpointDoc{
		PartitionKey: partitionKey,
		AppID:        appID,
		SequenceID:   sequenceID,
		Position:     position,
		Status:       string(status),
		State:        serialized,
		CreatedAt:    time.Now().UTC(),
	}
	filter := bson.M{"partition_key": partitionKey, "app_id": appID, "sequence_id": sequenceID}
	_, err = p.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo persister: saving checkpoint: %w", err)
	}
	return nil
}

func (p *Persister) ListAppIDs(ctx context.Context, partitionKey string) ([]string, error) {
	raw, err := p.coll.Distinct(ctx, "app_id", bson.M{"partition_key": partitionKey})
	if err != nil {
		return nil, fmt.Errorf("mongo persister: listing app ids: %w", err)
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
