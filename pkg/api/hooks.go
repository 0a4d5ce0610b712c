package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/stately/pkg/state"
)

// ExecuteMethod identifies which public Application operation triggered an
// execute-call hook.
type ExecuteMethod string

const (
	MethodStep          ExecuteMethod = "step"
	MethodIterate       ExecuteMethod = "iterate"
	MethodRun           ExecuteMethod = "run"
	MethodStreamResult  ExecuteMethod = "stream_result"
	MethodStreamIterate ExecuteMethod = "stream_iterate"
)

// Hook payloads. New fields may be added over time; hooks must tolerate
// fields they do not know about, which struct payloads give for free.

// StepStartInfo is passed to PreRunStepHook before an action runs.
type StepStartInfo struct {
	AppID        string
	PartitionKey string
	SequenceID   int64
	State        state.State
	Action       string
	Inputs       Inputs
}

// StepEndInfo is passed to PostRunStepHook after an action's result has
// been merged (or its failure recorded). State is the post-step state; on
// failure it is the unchanged pre-step state and Err is set.
type StepEndInfo struct {
	AppID        string
	PartitionKey string
	SequenceID   int64
	State        state.State
	Action       string
	Result       Result
	Err          error
}

// ExecuteCallInfo wraps one call to a public Application operation. The
// pre/post execute-call hooks fire exactly once per such call, not once per
// underlying step.
type ExecuteCallInfo struct {
	AppID        string
	PartitionKey string
	SequenceID   int64
	State        state.State
	Method       ExecuteMethod
	HaltBefore   []string
	HaltAfter    []string
	Inputs       Inputs
	Err          error // post hook only
}

// ApplicationCreateInfo is passed to PostApplicationCreateHook when an
// application has been built.
type ApplicationCreateInfo struct {
	AppID        string
	PartitionKey string
	SequenceID   int64
	State        state.State
	Parent       *ParentPointer
}

// StreamInfo describes a streaming step for the stream lifecycle hooks.
type StreamInfo struct {
	AppID        string
	PartitionKey string
	SequenceID   int64
	Action       string
}

// StreamItemInfo is passed to PostStreamItemHook once per intermediate
// element, in emission order, strictly before the terminal element's merge.
type StreamItemInfo struct {
	StreamInfo
	Item      Result
	ItemIndex int
	EmittedAt time.Time
}

// StreamEndInfo is passed to PostEndStreamHook after the terminal element.
type StreamEndInfo struct {
	StreamInfo
	ItemCount int
}

// LogAttributesInfo carries ad-hoc attributes logged by an action through
// its tracer.
type LogAttributesInfo struct {
	AppID        string
	PartitionKey string
	SequenceID   int64
	Action       string
	Attributes   map[string]any
}

// SpanInfo describes a tracer span opened inside a step.
type SpanInfo struct {
	AppID        string
	PartitionKey string
	SequenceID   int64
	Action       string
	SpanID       string
	SpanName     string
	StartedAt    time.Time
	Err          error // end hook only
}

// Lifecycle hook interfaces. A collaborator implements any subset; HookSet
// buckets it by capability once at registration time.
type (
	PreRunStepHook interface {
		PreRunStep(ctx context.Context, info *StepStartInfo)
	}
	PostRunStepHook interface {
		PostRunStep(ctx context.Context, info *StepEndInfo)
	}
	PreApplicationExecuteCallHook interface {
		PreApplicationExecuteCall(ctx context.Context, info *ExecuteCallInfo)
	}
	PostApplicationExecuteCallHook interface {
		PostApplicationExecuteCall(ctx context.Context, info *ExecuteCallInfo)
	}
	PostApplicationCreateHook interface {
		PostApplicationCreate(ctx context.Context, info *ApplicationCreateInfo)
	}
	PreStartStreamHook interface {
		PreStartStream(ctx context.Context, info *StreamInfo)
	}
	PostStreamItemHook interface {
		PostStreamItem(ctx context.Context, info *StreamItemInfo)
	}
	PostEndStreamHook interface {
		PostEndStream(ctx context.Context, info *StreamEndInfo)
	}
	DoLogAttributesHook interface {
		DoLogAttributes(ctx context.Context, info *LogAttributesInfo)
	}
	PreStartSpanHook interface {
		PreStartSpan(ctx context.Context, info *SpanInfo)
	}
	PostEndSpanHook interface {
		PostEndSpan(ctx context.Context, info *SpanInfo)
	}
)

// HookSet holds registered lifecycle hooks, bucketed by capability. Hooks
// fire in registration order. The zero value is an empty, usable set.
type HookSet struct {
	preRunStep     []PreRunStepHook
	postRunStep    []PostRunStepHook
	preExecute     []PreApplicationExecuteCallHook
	postExecute    []PostApplicationExecuteCallHook
	postCreate     []PostApplicationCreateHook
	preStartStream []PreStartStreamHook
	postStreamItem []PostStreamItemHook
	postEndStream  []PostEndStreamHook
	logAttributes  []DoLogAttributesHook
	preStartSpan   []PreStartSpanHook
	postEndSpan    []PostEndSpanHook
}

// NewHookSet builds a HookSet from the given hooks. Every hook must
// implement at least one lifecycle interface.
func NewHookSet(hooks ...any) (*HookSet, error) {
	hs := &HookSet{}
	for _, h := range hooks {
		if err := hs.Add(h); err != nil {
			return nil, err
		}
	}
	return hs, nil
}

// Add registers a hook, bucketing it into every lifecycle interface it
// implements.
func (hs *HookSet) Add(hook any) error {
	matched := false
	if h, ok := hook.(PreRunStepHook); ok {
		hs.preRunStep = append(hs.preRunStep, h)
		matched = true
	}
	if h, ok := hook.(PostRunStepHook); ok {
		hs.postRunStep = append(hs.postRunStep, h)
		matched = true
	}
	if h, ok := hook.(PreApplicationExecuteCallHook); ok {
		hs.preExecute = append(hs.preExecute, h)
		matched = true
	}
	if h, ok := hook.(PostApplicationExecuteCallHook); ok {
		hs.postExecute = append(hs.postExecute, h)
		matched = true
	}
	if h, ok := hook.(PostApplicationCreateHook); ok {
		hs.postCreate = append(hs.postCreate, h)
		matched = true
	}
	if h, ok := hook.(PreStartStreamHook); ok {
		hs.preStartStream = append(hs.preStartStream, h)
		matched = true
	}
	if h, ok := hook.(PostStreamItemHook); ok {
		hs.postStreamItem = append(hs.postStreamItem, h)
		matched = true
	}
	if h, ok := hook.(PostEndStreamHook); ok {
		hs.postEndStream = append(hs.postEndStream, h)
		matched = true
	}
	if h, ok := hook.(DoLogAttributesHook); ok {
		hs.logAttributes = append(hs.logAttributes, h)
		matched = true
	}
	if h, ok := hook.(PreStartSpanHook); ok {
		hs.preStartSpan = append(hs.preStartSpan, h)
		matched = true
	}
	if h, ok := hook.(PostEndSpanHook); ok {
		hs.postEndSpan = append(hs.postEndSpan, h)
		matched = true
	}
	if !matched {
		return NewBuildError("hook %T implements no lifecycle hook interface", hook)
	}
	return nil
}

func (hs *HookSet) PreRunStep(ctx context.Context, info *StepStartInfo) {
	for _, h := range hs.preRunStep {
		h.PreRunStep(ctx, info)
	}
}

func (hs *HookSet) PostRunStep(ctx context.Context, info *StepEndInfo) {
	for _, h := range hs.postRunStep {
		h.PostRunStep(ctx, info)
	}
}

func (hs *HookSet) PreApplicationExecuteCall(ctx context.Context, info *ExecuteCallInfo) {
	for _, h := range hs.preExecute {
		h.PreApplicationExecuteCall(ctx, info)
	}
}

func (hs *HookSet) PostApplicationExecuteCall(ctx context.Context, info *ExecuteCallInfo) {
	for _, h := range hs.postExecute {
		h.PostApplicationExecuteCall(ctx, info)
	}
}

func (hs *HookSet) PostApplicationCreate(ctx context.Context, info *ApplicationCreateInfo) {
	for _, h := range hs.postCreate {
		h.PostApplicationCreate(ctx, info)
	}
}

func (hs *HookSet) PreStartStream(ctx context.Context, info *StreamInfo) {
	for _, h := range hs.preStartStream {
		h.PreStartStream(ctx, info)
	}
}

func (hs *HookSet) PostStreamItem(ctx context.Context, info *StreamItemInfo) {
	for _, h := range hs.postStreamItem {
		h.PostStreamItem(ctx, info)
	}
}

func (hs *HookSet) PostEndStream(ctx context.Context, info *StreamEndInfo) {
	for _, h := range hs.postEndStream {
		h.PostEndStream(ctx, info)
	}
}

func (hs *HookSet) DoLogAttributes(ctx context.Context, info *LogAttributesInfo) {
	for _, h := range hs.logAttributes {
		h.DoLogAttributes(ctx, info)
	}
}

func (hs *HookSet) PreStartSpan(ctx context.Context, info *SpanInfo) {
	for _, h := range hs.preStartSpan {
		h.PreStartSpan(ctx, info)
	}
}

func (hs *HookSet) PostEndSpan(ctx context.Context, info *SpanInfo) {
	for _, h := range hs.postEndSpan {
		h.PostEndSpan(ctx, info)
	}
}

// Tracer lets an action open named spans and log attributes that are routed
// to the span/attribute hooks. It is the only cross-cutting observability
// surface exposed to action code.
type Tracer interface {
	// Span opens a named span and returns a function closing it.
	Span(ctx context.Context, name string) (context.Context, func(err error))
	// LogAttributes routes ad-hoc attributes to the registered hooks.
	LogAttributes(ctx context.Context, attributes map[string]any)
}

// hookTracer routes spans and attributes to a HookSet, attributed to a
// specific step.
type hookTracer struct {
	hooks        *HookSet
	appID        string
	partitionKey string
	sequenceID   int64
	action       string
}

// TracerFor returns a Tracer attributing spans to the given step.
func (hs *HookSet) TracerFor(appID, partitionKey string, sequenceID int64, action string) Tracer {
	return &hookTracer{
		hooks:        hs,
		appID:        appID,
		partitionKey: partitionKey,
		sequenceID:   sequenceID,
		action:       action,
	}
}

func (t *hookTracer) Span(ctx context.Context, name string) (context.Context, func(err error)) {
	info := &SpanInfo{
		AppID:        t.appID,
		PartitionKey: t.partitionKey,
		SequenceID:   t.sequenceID,
		Action:       t.action,
		SpanID:       uuid.NewString(),
		SpanName:     name,
		StartedAt:    time.Now(),
	}
	t.hooks.PreStartSpan(ctx, info)
	return ctx, func(err error) {
		end := *info
		end.Err = err
		t.hooks.PostEndSpan(ctx, &end)
	}
}

func (t *hookTracer) LogAttributes(ctx context.Context, attributes map[string]any) {
	t.hooks.DoLogAttributes(ctx, &LogAttributesInfo{
		AppID:        t.appID,
		PartitionKey: t.partitionKey,
		SequenceID:   t.sequenceID,
		Action:       t.action,
		Attributes:   attributes,
	})
}

// LoggingHook writes structured logs for step and execute-call lifecycle
// events using log/slog.
type LoggingHook struct {
	Logger *slog.Logger
}

// NewLoggingHook creates a LoggingHook. If logger is nil, slog.Default()
// is used.
func NewLoggingHook(logger *slog.Logger) *LoggingHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingHook{Logger: logger}
}

func (h *LoggingHook) PreRunStep(ctx context.Context, info *StepStartInfo) {
	h.Logger.DebugContext(ctx, "step_start",
		slog.String("app_id", info.AppID),
		slog.String("partition_key", info.PartitionKey),
		slog.Int64("sequence_id", info.SequenceID),
		slog.String("action", info.Action),
	)
}

func (h *LoggingHook) PostRunStep(ctx context.Context, info *StepEndInfo) {
	level := slog.LevelDebug
	if info.Err != nil {
		level = slog.LevelError
	}
	h.Logger.Log(ctx, level, "step_end",
		slog.String("app_id", info.AppID),
		slog.String("partition_key", info.PartitionKey),
		slog.Int64("sequence_id", info.SequenceID),
		slog.String("action", info.Action),
		slog.Any("error", info.Err),
	)
}

func (h *LoggingHook) PreApplicationExecuteCall(ctx context.Context, info *ExecuteCallInfo) {
	h.Logger.DebugContext(ctx, "execute_call_start",
		slog.String("app_id", info.AppID),
		slog.String("method", string(info.Method)),
	)
}

func (h *LoggingHook) PostApplicationExecuteCall(ctx context.Context, info *ExecuteCallInfo) {
	level := slog.LevelDebug
	if info.Err != nil {
		level = slog.LevelError
	}
	h.Logger.Log(ctx, level, "execute_call_end",
		slog.String("app_id", info.AppID),
		slog.String("method", string(info.Method)),
		slog.Any("error", info.Err),
	)
}

func (h *LoggingHook) PostApplicationCreate(ctx context.Context, info *ApplicationCreateInfo) {
	attrs := []any{
		slog.String("app_id", info.AppID),
		slog.String("partition_key", info.PartitionKey),
		slog.Int64("sequence_id", info.SequenceID),
	}
	if info.Parent != nil {
		attrs = append(attrs,
			slog.String("forked_from_app_id", info.Parent.AppID),
			slog.Int64("forked_from_sequence_id", info.Parent.SequenceID),
		)
	}
	h.Logger.InfoContext(ctx, "application_created", attrs...)
}
