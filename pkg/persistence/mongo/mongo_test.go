package mongo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/stately/pkg/persistence"
	"github.com/petrijr/stately/pkg/state"
)

// newTestPersister connects to the MongoDB instance named by
// STATELY_MONGO_URI and returns a persister over a per-test collection.
// Tests are skipped when the variable is unset.
func newTestPersister(t *testing.T) *Persister {
	t.Helper()

	uri := os.Getenv("STATELY_MONGO_URI")
	if uri == "" {
		t.Skip("STATELY_MONGO_URI not set; skipping MongoDB integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	p := New(client, "stately_test", "checkpoints_"+t.Name())
	require.NoError(t, p.Initialize(ctx))
	t.Cleanup(func() {
		_ = p.coll.Drop(context.Background())
	})
	return p
}

// TestMongoRoundTrip saves checkpoints and reads back both the latest and a
// pinned sequence.
func TestMongoRoundTrip(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()

	s1 := state.New(map[string]any{"count": 1.0})
	s2 := state.New(map[string]any{"count": 2.0})
	require.NoError(t, p.Save(ctx, "pk", "app", 1, "counter", s1, persistence.StatusCompleted))
	require.NoError(t, p.Save(ctx, "pk", "app", 2, "counter", s2, persistence.StatusCompleted))

	latest, err := p.Load(ctx, "pk", "app", nil)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, int64(2), latest.SequenceID)
	require.Equal(t, "counter", latest.Position)
	require.Equal(t, persistence.StatusCompleted, latest.Status)
	v, _ := latest.State.Get("count")
	require.InEpsilon(t, 2.0, v, 1e-9)

	seq := int64(1)
	pinned, err := p.Load(ctx, "pk", "app", &seq)
	require.NoError(t, err)
	require.NotNil(t, pinned)
	require.Equal(t, int64(1), pinned.SequenceID)
}

// TestMongoMissingCheckpoint expects a nil result without error for an
// unknown application.
func TestMongoMissingCheckpoint(t *testing.T) {
	p := newTestPersister(t)

	chk, err := p.Load(context.Background(), "pk", "nope", nil)
	require.NoError(t, err)
	require.Nil(t, chk)
}

// TestMongoUpsert overwrites a checkpoint at the same sequence id.
func TestMongoUpsert(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()

	require.NoError(t, p.Save(ctx, "pk", "app", 1, "a", state.New(map[string]any{"v": "old"}), persistence.StatusCompleted))
	require.NoError(t, p.Save(ctx, "pk", "app", 1, "b", state.New(map[string]any{"v": "new"}), persistence.StatusFailed))

	chk, err := p.Load(ctx, "pk", "app", nil)
	require.NoError(t, err)
	require.Equal(t, "b", chk.Position)
	require.Equal(t, persistence.StatusFailed, chk.Status)
	v, _ := chk.State.Get("v")
	require.Equal(t, "new", v)
}

// TestMongoListAppIDs lists distinct app ids within one partition only.
func TestMongoListAppIDs(t *testing.T) {
	p := newTestPersister(t)
	ctx := context.Background()

	s := state.New(map[string]any{"x": 1.0})
	require.NoError(t, p.Save(ctx, "pk", "one", 1, "a", s, persistence.StatusCompleted))
	require.NoError(t, p.Save(ctx, "pk", "two", 1, "a", s, persistence.StatusCompleted))
	require.NoError(t, p.Save(ctx, "other", "three", 1, "a", s, persistence.StatusCompleted))

	ids, err := p.ListAppIDs(ctx, "pk")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"one", "two"}, ids)
}
