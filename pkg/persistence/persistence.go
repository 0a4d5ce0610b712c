// Package persistence defines the checkpoint interface consumed by the
// stately engine, plus reference implementations: an in-memory persister
// for tests and development, and a SQLite persister for embedded
// durability. Redis and PostgreSQL persisters live in subpackages.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/petrijr/stately/pkg/state"
)

// Status is the outcome recorded with a checkpoint.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrNotInitialized is returned by persisters whose backing connection or
// schema has not been established before use.
var ErrNotInitialized = errors.New("persister is not initialized")

// PersistedStateData is one checkpoint: the state after executing the
// action named by Position, for a given (partition_key, app_id,
// sequence_id).
type PersistedStateData struct {
	PartitionKey string
	AppID        string
	SequenceID   int64
	Position     string
	State        state.State
	Status       Status
	CreatedAt    time.Time
}

// Persister stores and retrieves checkpoints. The engine's discipline is
// one Save per completed step (plus a failed-status Save on step failure)
// and one Load per application build.
type Persister interface {
	// Load returns the checkpoint for (partitionKey, appID) at the given
	// sequence, or the latest checkpoint when sequenceID is nil. A nil
	// result with a nil error means no checkpoint exists.
	Load(ctx context.Context, partitionKey, appID string, sequenceID *int64) (*PersistedStateData, error)

	// Save writes one checkpoint.
	Save(ctx context.Context, partitionKey, appID string, sequenceID int64, position string, s state.State, status Status) error

	// ListAppIDs returns the app ids that have checkpoints under the given
	// partition key.
	ListAppIDs(ctx context.Context, partitionKey string) ([]string, error)
}

// Initializer is implemented by persisters that need a connection or schema
// established before use. The application builder calls Initialize once at
// build time when the interface is present.
type Initializer interface {
	Initialize(ctx context.Context) error
}
