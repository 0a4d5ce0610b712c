package stately

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/stately/pkg/api"
	"github.com/petrijr/stately/pkg/persistence"
)

func TestBuildGeneratesAppID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app1, err := counterBuilder().Build(ctx)
	require.NoError(t, err)
	app2, err := counterBuilder().Build(ctx)
	require.NoError(t, err)

	require.NotEmpty(t, app1.AppID())
	require.NotEmpty(t, app2.AppID())
	require.NotEqual(t, app1.AppID(), app2.AppID())
}

func TestBuildRejectsStateAndInitializeFrom(t *testing.T) {
	t.Parallel()

	p := persistence.NewInMemoryPersister()
	_, err := counterBuilder().
		InitializeFrom(p, InitializeOptions{DefaultEntrypoint: "counter"}).
		Build(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "WithState")
	require.Contains(t, err.Error(), "InitializeFrom")
	// counterBuilder also sets the entrypoint, which conflicts too.
	require.Contains(t, err.Error(), "WithEntrypoint")
}

func TestBuildReportsGraphErrors(t *testing.T) {
	t.Parallel()

	_, err := NewApplicationBuilder().
		WithState(nil).
		WithAction("a", ResultAction("x")).
		WithTransition("a", "ghost", Default()).
		WithEntrypoint("a").
		Build(context.Background())
	require.Error(t, err)

	var buildErr *api.BuildError
	require.ErrorAs(t, err, &buildErr)
	require.Contains(t, err.Error(), "ghost")
}

func TestBuildRejectsBadHooks(t *testing.T) {
	t.Parallel()

	_, err := counterBuilder().WithHooks("not a hook").Build(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "lifecycle hook")
}

func TestResumeAtNextActionContinuesRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := persistence.NewInMemoryPersister()

	// First life: count to 4 and stop mid-graph.
	app1, err := counterBuilder().
		WithIdentifiers("app-resume", "pk").
		WithStatePersister(p).
		Build(ctx)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err = app1.Step(ctx, nil)
		require.NoError(t, err)
	}
	require.Equal(t, int64(4), app1.SequenceID())

	// Second life: resume from the latest checkpoint and finish.
	app2, err := newCounterGraphBuilder().
		WithIdentifiers("app-resume", "pk").
		WithStatePersister(p).
		InitializeFrom(p, InitializeOptions{
			ResumeAtNextAction: true,
			DefaultEntrypoint:  "counter",
		}).
		Build(ctx)
	require.NoError(t, err)

	require.Equal(t, int64(4), app2.SequenceID())
	require.Equal(t, 4, app2.State().GetOrDefault("count", 0))

	res, err := app2.Run(ctx, RunOptions{HaltAfter: []string{"done"}})
	require.NoError(t, err)
	require.Equal(t, 10, res.State.GetOrDefault("count", 0))
	require.Equal(t, int64(11), app2.SequenceID(), "sequence continues from the checkpoint")
}

// Resuming without resume-at-next-action re-executes the checkpoint's
// position action.
func TestResumeAtPositionReExecutesAction(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := persistence.NewInMemoryPersister()

	app1, err := counterBuilder().
		WithIdentifiers("app-redo", "pk").
		WithStatePersister(p).
		Build(ctx)
	require.NoError(t, err)
	_, err = app1.Step(ctx, nil)
	require.NoError(t, err)

	app2, err := newCounterGraphBuilder().
		WithIdentifiers("app-redo", "pk").
		InitializeFrom(p, InitializeOptions{DefaultEntrypoint: "counter"}).
		Build(ctx)
	require.NoError(t, err)

	next, err := app2.NextAction()
	require.NoError(t, err)
	require.Equal(t, "counter", next, "the checkpointed position runs again")

	res, err := app2.Step(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, "counter", res.Action)
	require.Equal(t, 2, res.State.GetOrDefault("count", 0))
	require.Equal(t, int64(2), app2.SequenceID())
}

func TestInitializeFromWithoutCheckpointUsesDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := persistence.NewInMemoryPersister()

	app, err := newCounterGraphBuilder().
		WithIdentifiers("fresh-app", "pk").
		InitializeFrom(p, InitializeOptions{
			ResumeAtNextAction: true,
			DefaultState:       map[string]any{"count": 8},
			DefaultEntrypoint:  "counter",
		}).
		Build(ctx)
	require.NoError(t, err)

	require.Equal(t, int64(0), app.SequenceID())
	require.Equal(t, 8, app.State().GetOrDefault("count", 0))

	res, err := app.Run(ctx, RunOptions{HaltAfter: []string{"done"}})
	require.NoError(t, err)
	require.Equal(t, 10, res.State.GetOrDefault("count", 0))
}

func TestForkCreatesNewLineage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := persistence.NewInMemoryPersister()

	app1, err := counterBuilder().
		WithIdentifiers("app-parent", "pk").
		WithStatePersister(p).
		Build(ctx)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err = app1.Step(ctx, nil)
		require.NoError(t, err)
	}

	pin := int64(3)
	fork, err := newCounterGraphBuilder().
		WithIdentifiers("app-fork", "pk").
		WithStatePersister(p).
		InitializeFrom(p, InitializeOptions{
			ResumeAtNextAction:   true,
			DefaultEntrypoint:    "counter",
			ForkFromAppID:        "app-parent",
			ForkFromPartitionKey: "pk",
			ForkFromSequenceID:   &pin,
		}).
		Build(ctx)
	require.NoError(t, err)

	require.Equal(t, "app-fork", fork.AppID())
	require.Equal(t, 3, fork.State().GetOrDefault("count", 0))
	require.Equal(t, int64(3), fork.SequenceID())

	parent := fork.ParentPointer()
	require.NotNil(t, parent)
	require.Equal(t, "app-parent", parent.AppID)
	require.Equal(t, "pk", parent.PartitionKey)
	require.Equal(t, int64(3), parent.SequenceID)

	// The fork advances independently of its parent.
	_, err = fork.Step(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int64(4), fork.SequenceID())
	require.Equal(t, int64(6), app1.SequenceID())

	chk, err := p.Load(ctx, "pk", "app-parent", nil)
	require.NoError(t, err)
	require.Equal(t, int64(6), chk.SequenceID, "forking must not disturb the parent's checkpoints")
}

func TestForkRejectsIdentityCollision(t *testing.T) {
	t.Parallel()

	p := persistence.NewInMemoryPersister()
	_, err := newCounterGraphBuilder().
		WithIdentifiers("same-app", "pk").
		InitializeFrom(p, InitializeOptions{
			DefaultEntrypoint:    "counter",
			ForkFromAppID:        "same-app",
			ForkFromPartitionKey: "pk",
		}).
		Build(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "must differ")
}

func TestForkRequiresExistingCheckpoint(t *testing.T) {
	t.Parallel()

	p := persistence.NewInMemoryPersister()
	_, err := newCounterGraphBuilder().
		WithIdentifiers("app-new", "pk").
		InitializeFrom(p, InitializeOptions{
			DefaultEntrypoint:    "counter",
			ForkFromAppID:        "never-existed",
			ForkFromPartitionKey: "pk",
		}).
		Build(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no checkpoint to fork from")
}

func TestForkRequiresPartitionKey(t *testing.T) {
	t.Parallel()

	p := persistence.NewInMemoryPersister()
	_, err := newCounterGraphBuilder().
		WithIdentifiers("app-new", "pk").
		InitializeFrom(p, InitializeOptions{
			DefaultEntrypoint: "counter",
			ForkFromAppID:     "app-parent",
		}).
		Build(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "ForkFromPartitionKey")
}

func TestWithParentRequiresApplicationContext(t *testing.T) {
	t.Parallel()

	_, err := counterBuilder().
		WithParent(context.Background()).
		Build(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "WithParent")
}

// TestWithParentAdoptsHooksAndRecordsLineage builds a child application
// inside a running action: the child fires the parent's hooks and carries
// a parent pointer naming the spawning step.
func TestWithParentAdoptsHooksAndRecordsLineage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &callRecorder{}

	var childParent *api.ParentPointer
	delegate := ActionFunc(ActionOptions{Writes: []string{"inner_count"}},
		func(ctx context.Context, s State, in Inputs) (Result, error) {
			child, err := counterBuilder().WithParent(ctx).Build(ctx)
			if err != nil {
				return nil, err
			}
			childParent = child.ParentPointer()
			res, err := child.Run(ctx, RunOptions{HaltAfter: []string{"done"}})
			if err != nil {
				return nil, err
			}
			return Result{"inner_count": res.State.GetOrDefault("count", 0)}, nil
		}, nil)

	app, err := NewApplicationBuilder().
		WithState(nil).
		WithAction("delegate", delegate).
		WithEntrypoint("delegate").
		WithIdentifiers("outer", "pk").
		WithHooks(rec).
		Build(ctx)
	require.NoError(t, err)

	res, err := app.Step(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 10, res.State.GetOrDefault("inner_count", 0))

	require.NotNil(t, childParent)
	require.Equal(t, "outer", childParent.AppID)
	require.Equal(t, "pk", childParent.PartitionKey)
	require.Equal(t, int64(1), childParent.SequenceID)

	// The parent's recorder saw the child's steps through the adopted
	// hook set.
	var childCounterSteps, childDoneSteps int
	for _, e := range rec.events {
		switch e {
		case "pre-step:counter":
			childCounterSteps++
		case "pre-step:done":
			childDoneSteps++
		}
	}
	require.Equal(t, 10, childCounterSteps)
	require.Equal(t, 1, childDoneSteps)
}

func TestWithSequenceIDOverridesStart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, err := counterBuilder().WithSequenceID(100).Build(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(100), app.SequenceID())

	_, err = app.Step(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, int64(101), app.SequenceID())
}

// newCounterGraphBuilder is counterBuilder without WithState, for use with
// InitializeFrom.
func newCounterGraphBuilder() *ApplicationBuilder {
	counter := ActionFunc(ActionOptions{Reads: []string{"count"}, Writes: []string{"count"}},
		func(ctx context.Context, s State, in Inputs) (Result, error) {
			return Result{"count": asInt(s.GetOrDefault("count", 0)) + 1}, nil
		}, nil)

	return NewApplicationBuilder().
		WithAction("counter", counter).
		WithAction("done", ResultAction("count")).
		WithTransition("counter", "counter", MustExpr("count < 10")).
		WithTransition("counter", "done", Default())
}

// asInt tolerates ints restored from JSON checkpoints as float64.
func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
