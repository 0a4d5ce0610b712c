package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/stately/pkg/api"
	"github.com/petrijr/stately/pkg/state"
)

func mustNode(t *testing.T, name string, a api.Action) *api.Node {
	t.Helper()
	shape, err := api.ResolveShape(name, a)
	require.NoError(t, err)
	return &api.Node{Name: name, Action: a, Shape: shape}
}

func TestBindInputsInjectsReservedInputs(t *testing.T) {
	t.Parallel()

	a := api.ActionFunc(api.ActionOptions{Inputs: []string{"prompt", api.ContextInput, api.TracerInput}},
		func(ctx context.Context, s state.State, in api.Inputs) (api.Result, error) {
			return api.Result{}, nil
		}, nil)
	node := mustNode(t, "ask", a)

	appCtx := &api.ApplicationContext{AppID: "app-1"}
	hs, err := api.NewHookSet()
	require.NoError(t, err)
	tracer := hs.TracerFor("app-1", "", 1, "ask")

	bound, err := BindInputs(node, api.Inputs{"prompt": "hi", "extra": "dropped"}, appCtx, tracer)
	require.NoError(t, err)

	require.Equal(t, "hi", bound["prompt"])
	require.Same(t, appCtx, bound[api.ContextInput])
	require.NotNil(t, bound[api.TracerInput])
	require.NotContains(t, bound, "extra", "undeclared inputs are dropped")
}

func TestBindInputsRejectsExternallySuppliedReservedKeys(t *testing.T) {
	t.Parallel()

	node := mustNode(t, "ask", api.ResultAction("x"))

	_, err := BindInputs(node, api.Inputs{"__tracer": "spoofed", "__context": "spoofed"}, &api.ApplicationContext{}, nil)
	var cv *api.ContractViolation
	require.ErrorAs(t, err, &cv)
	require.Equal(t, []string{"__context", "__tracer"}, cv.Keys)
}

func TestBindInputsReportsMissingDeclaredInputs(t *testing.T) {
	t.Parallel()

	a := api.ActionFunc(api.ActionOptions{Inputs: []string{"prompt", "model"}},
		func(ctx context.Context, s state.State, in api.Inputs) (api.Result, error) {
			return api.Result{}, nil
		}, nil)
	node := mustNode(t, "ask", a)

	_, err := BindInputs(node, api.Inputs{"prompt": "hi"}, &api.ApplicationContext{}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), `"ask"`)
	require.Contains(t, err.Error(), "model")
}

func TestExecuteRunUpdateMergesResult(t *testing.T) {
	t.Parallel()

	a := api.ActionFunc(api.ActionOptions{Reads: []string{"count"}, Writes: []string{"count"}},
		func(ctx context.Context, s state.State, in api.Inputs) (api.Result, error) {
			return api.Result{"count": s.GetOrDefault("count", 0).(int) + 1}, nil
		}, nil)
	node := mustNode(t, "counter", a)

	res, next, err := Execute(context.Background(), node, state.New(map[string]any{"count": 1}), nil, nil)
	require.NoError(t, err)
	require.Equal(t, api.Result{"count": 2}, res)
	require.Equal(t, 2, next.GetOrDefault("count", 0))
}

func TestExecuteSingleStep(t *testing.T) {
	t.Parallel()

	a := api.SingleStepFunc(api.ActionOptions{Writes: []string{"n"}},
		func(ctx context.Context, s state.State, in api.Inputs) (api.Result, state.State, error) {
			return api.Result{"n": 7}, s.Set("n", 7), nil
		})
	node := mustNode(t, "fused", a)

	res, next, err := Execute(context.Background(), node, state.New(nil), nil, nil)
	require.NoError(t, err)
	require.Equal(t, api.Result{"n": 7}, res)
	require.Equal(t, 7, next.GetOrDefault("n", 0))
}

// Declared writes ["a", "b"] with only "a" produced: the violation must name
// the unproduced key.
func TestExecuteFlagsMissingDeclaredWrite(t *testing.T) {
	t.Parallel()

	a := api.ActionFunc(api.ActionOptions{Writes: []string{"a", "b"}},
		func(ctx context.Context, s state.State, in api.Inputs) (api.Result, error) {
			return api.Result{"a": 1}, nil
		}, nil)
	node := mustNode(t, "partial", a)

	_, _, err := Execute(context.Background(), node, state.New(nil), nil, nil)
	var cv *api.ContractViolation
	require.ErrorAs(t, err, &cv)
	require.Equal(t, "partial", cv.Action)
	require.Contains(t, cv.Keys, "b")
	require.NotContains(t, cv.Keys, "a")
}

func TestExecuteFlagsUndeclaredWrite(t *testing.T) {
	t.Parallel()

	a := api.SingleStepFunc(api.ActionOptions{Writes: []string{"a"}},
		func(ctx context.Context, s state.State, in api.Inputs) (api.Result, state.State, error) {
			return api.Result{"a": 1}, s.Set("a", 1).Set("sneaky", true), nil
		})
	node := mustNode(t, "overreach", a)

	_, _, err := Execute(context.Background(), node, state.New(nil), nil, nil)
	var cv *api.ContractViolation
	require.ErrorAs(t, err, &cv)
	require.Contains(t, cv.Keys, "sneaky")
}

// Deleting a declared write is a legal way to honor it.
func TestExecuteAllowsDeletingDeclaredWrite(t *testing.T) {
	t.Parallel()

	a := api.SingleStepFunc(api.ActionOptions{Writes: []string{"scratch"}},
		func(ctx context.Context, s state.State, in api.Inputs) (api.Result, state.State, error) {
			return api.Result{}, s.Wipe("scratch"), nil
		})
	node := mustNode(t, "cleanup", a)

	_, next, err := Execute(context.Background(), node, state.New(map[string]any{"scratch": "tmp"}), nil, nil)
	require.NoError(t, err)
	require.False(t, next.Has("scratch"))
}

func TestExecuteUndeclaredDeleteViolatesContract(t *testing.T) {
	t.Parallel()

	a := api.SingleStepFunc(api.ActionOptions{Writes: []string{"a"}},
		func(ctx context.Context, s state.State, in api.Inputs) (api.Result, state.State, error) {
			return api.Result{"a": 1}, s.Set("a", 1).Wipe("other"), nil
		})
	node := mustNode(t, "deleter", a)

	_, _, err := Execute(context.Background(), node, state.New(map[string]any{"other": "keep"}), nil, nil)
	var cv *api.ContractViolation
	require.ErrorAs(t, err, &cv)
	require.Contains(t, cv.Keys, "other")
}

func TestExecuteStreamingDrainsAndMerges(t *testing.T) {
	t.Parallel()

	a := api.StreamingFunc(api.ActionOptions{Writes: []string{"text"}},
		func(ctx context.Context, s state.State, in api.Inputs) (api.Stream, error) {
			chunks := []api.Result{{"delta": "he"}, {"delta": "llo"}}
			return api.SliceStream(chunks, api.Result{"text": "hello"}, nil), nil
		}, nil)
	node := mustNode(t, "speak", a)

	var items []api.Result
	res, next, err := Execute(context.Background(), node, state.New(nil), nil, func(item api.Result) {
		items = append(items, item)
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, api.Result{"text": "hello"}, res)
	require.Equal(t, "hello", next.GetOrDefault("text", ""))
}

func TestExecuteStreamWithoutTerminalViolatesContract(t *testing.T) {
	t.Parallel()

	broken := api.StreamFunc(func(ctx context.Context) (api.StreamYield, bool, error) {
		return api.StreamYield{}, false, nil
	})
	a := api.StreamingFunc(api.ActionOptions{},
		func(ctx context.Context, s state.State, in api.Inputs) (api.Stream, error) {
			return broken, nil
		}, nil)
	node := mustNode(t, "truncated", a)

	_, _, err := Execute(context.Background(), node, state.New(nil), nil, nil)
	var cv *api.ContractViolation
	require.ErrorAs(t, err, &cv)
	require.Contains(t, cv.Reason, "terminal")
}

func TestExecuteFusedStreamRequiresStateOnTerminal(t *testing.T) {
	t.Parallel()

	a := api.StreamingSingleStepFunc(api.ActionOptions{Writes: []string{"x"}},
		func(ctx context.Context, s state.State, in api.Inputs) (api.Stream, error) {
			// Terminal yield with no state breaks the fused contract.
			return api.SliceStream(nil, api.Result{"x": 1}, nil), nil
		})
	node := mustNode(t, "fusedstream", a)

	_, _, err := Execute(context.Background(), node, state.New(nil), nil, nil)
	var cv *api.ContractViolation
	require.ErrorAs(t, err, &cv)
	require.Contains(t, cv.Reason, "no state")
}

func TestExecuteFusedStreamAdoptsTerminalState(t *testing.T) {
	t.Parallel()

	a := api.StreamingSingleStepFunc(api.ActionOptions{Writes: []string{"x"}},
		func(ctx context.Context, s state.State, in api.Inputs) (api.Stream, error) {
			final := s.Set("x", 1)
			return api.SliceStream([]api.Result{{"p": 1}}, api.Result{"x": 1}, &final), nil
		})
	node := mustNode(t, "fusedstream", a)

	res, next, err := Execute(context.Background(), node, state.New(nil), nil, nil)
	require.NoError(t, err)
	require.Equal(t, api.Result{"x": 1}, res)
	require.Equal(t, 1, next.GetOrDefault("x", 0))
}

func TestExecutePropagatesActionError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	a := api.ActionFunc(api.ActionOptions{},
		func(ctx context.Context, s state.State, in api.Inputs) (api.Result, error) {
			return nil, boom
		}, nil)
	node := mustNode(t, "failing", a)

	_, _, err := Execute(context.Background(), node, state.New(nil), nil, nil)
	require.ErrorIs(t, err, boom)
}
