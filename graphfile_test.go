package stately

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const counterWiring = `
entrypoint: counter
transitions:
  - from: counter
    to: counter
    when: count < 10
  - from: counter
    to: done
`

func TestParseGraphFile(t *testing.T) {
	t.Parallel()

	f, err := ParseGraphFile([]byte(counterWiring))
	require.NoError(t, err)
	require.Equal(t, "counter", f.Entrypoint)
	require.Len(t, f.Transitions, 2)
	require.Equal(t, "count < 10", f.Transitions[0].When)
	require.Empty(t, f.Transitions[1].When)
}

func TestParseGraphFileErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseGraphFile([]byte("entrypoint: a"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no transitions")

	_, err = ParseGraphFile([]byte("transitions:\n  - from: a\n    to: b"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no entrypoint")

	_, err = ParseGraphFile([]byte("::not yaml"))
	require.Error(t, err)
}

func TestGraphFileDrivesApplication(t *testing.T) {
	t.Parallel()

	f, err := ParseGraphFile([]byte(counterWiring))
	require.NoError(t, err)

	counter := ActionFunc(ActionOptions{Reads: []string{"count"}, Writes: []string{"count"}},
		func(ctx context.Context, s State, in Inputs) (Result, error) {
			return Result{"count": s.GetOrDefault("count", 0).(int) + 1}, nil
		}, nil)

	ctx := context.Background()
	app, err := NewApplicationBuilder().
		WithState(map[string]any{"count": 0}).
		WithAction("counter", counter).
		WithAction("done", ResultAction("count")).
		WithGraphFile(f).
		Build(ctx)
	require.NoError(t, err)

	res, err := app.Run(ctx, RunOptions{HaltAfter: []string{"done"}})
	require.NoError(t, err)
	require.Equal(t, 10, res.State.GetOrDefault("count", 0))
}

func TestGraphFileBadExpressionFailsBuild(t *testing.T) {
	t.Parallel()

	f, err := ParseGraphFile([]byte(`
entrypoint: a
transitions:
  - from: a
    to: a
    when: "count <"
`))
	require.NoError(t, err)

	_, err = NewApplicationBuilder().
		WithState(nil).
		WithAction("a", ResultAction("x")).
		WithGraphFile(f).
		Build(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "a -> a")
}
