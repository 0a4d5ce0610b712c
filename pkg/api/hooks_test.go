package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/stately/pkg/state"
)

// recordingHook captures every lifecycle event it implements, in order.
type recordingHook struct {
	events []string
}

func (h *recordingHook) PreRunStep(_ context.Context, info *StepStartInfo) {
	h.events = append(h.events, "pre:"+info.Action)
}

func (h *recordingHook) PostRunStep(_ context.Context, info *StepEndInfo) {
	h.events = append(h.events, "post:"+info.Action)
}

func (h *recordingHook) PostApplicationCreate(_ context.Context, info *ApplicationCreateInfo) {
	h.events = append(h.events, "created:"+info.AppID)
}

type stepOnlyHook struct {
	calls int
}

func (h *stepOnlyHook) PreRunStep(context.Context, *StepStartInfo) { h.calls++ }

func TestHookSetDispatchesByInterface(t *testing.T) {
	t.Parallel()

	rec := &recordingHook{}
	stepOnly := &stepOnlyHook{}
	hs, err := NewHookSet(rec, stepOnly)
	require.NoError(t, err)

	ctx := context.Background()
	hs.PostApplicationCreate(ctx, &ApplicationCreateInfo{AppID: "app-1"})
	hs.PreRunStep(ctx, &StepStartInfo{Action: "counter"})
	hs.PostRunStep(ctx, &StepEndInfo{Action: "counter"})

	require.Equal(t, []string{"created:app-1", "pre:counter", "post:counter"}, rec.events)
	require.Equal(t, 1, stepOnly.calls)
}

func TestHookSetRejectsNonHooks(t *testing.T) {
	t.Parallel()

	_, err := NewHookSet(struct{}{})
	require.Error(t, err)

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
}

type spanRecorder struct {
	started []string
	ended   []string
}

func (h *spanRecorder) PreStartSpan(_ context.Context, info *SpanInfo) {
	h.started = append(h.started, info.SpanName)
}

func (h *spanRecorder) PostEndSpan(_ context.Context, info *SpanInfo) {
	h.ended = append(h.ended, info.SpanName)
}

func TestTracerFiresSpanHooks(t *testing.T) {
	t.Parallel()

	rec := &spanRecorder{}
	hs, err := NewHookSet(rec)
	require.NoError(t, err)

	tracer := hs.TracerFor("app", "pk", 1, "counter")
	ctx, end := tracer.Span(context.Background(), "llm_call")
	require.NotNil(t, ctx)
	end(nil)

	require.Equal(t, []string{"llm_call"}, rec.started)
	require.Equal(t, []string{"llm_call"}, rec.ended)
}

type attrRecorder struct {
	attrs []map[string]any
}

func (h *attrRecorder) DoLogAttributes(_ context.Context, info *LogAttributesInfo) {
	h.attrs = append(h.attrs, info.Attributes)
}

func TestTracerLogAttributes(t *testing.T) {
	t.Parallel()

	rec := &attrRecorder{}
	hs, err := NewHookSet(rec)
	require.NoError(t, err)

	tracer := hs.TracerFor("app", "pk", 1, "counter")
	tracer.LogAttributes(context.Background(), map[string]any{"tokens": 42})

	require.Len(t, rec.attrs, 1)
	require.Equal(t, 42, rec.attrs[0]["tokens"])
}

func TestHookSetZeroValueIsUsable(t *testing.T) {
	t.Parallel()

	hs, err := NewHookSet()
	require.NoError(t, err)

	// All fire methods are no-ops with no registered hooks.
	hs.PreRunStep(context.Background(), &StepStartInfo{State: state.New(nil)})
	hs.PostRunStep(context.Background(), &StepEndInfo{})
}
