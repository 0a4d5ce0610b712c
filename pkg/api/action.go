// Package api defines the contracts of the stately engine: the action
// interface family, conditions and transitions, the graph, lifecycle hooks,
// and the error taxonomy. The root stately package wires these into a
// runnable Application.
package api

import (
	"context"
	"strings"

	"github.com/petrijr/stately/pkg/state"
)

// Inputs carries the caller-supplied named parameters for a single step.
// Keys beginning with the reserved "__" prefix are injected by the engine
// and rejected when supplied externally.
type Inputs map[string]any

// Result is the partial result an action produces during its run phase.
// Its keys must be a subset of the action's declared writes.
type Result map[string]any

// Reserved input names resolved by the engine rather than the caller.
const (
	// ContextInput injects the current ApplicationContext.
	ContextInput = "__context"
	// TracerInput injects the active Tracer.
	TracerInput = "__tracer"
	// ReservedInputPrefix marks engine-provided inputs.
	ReservedInputPrefix = "__"
)

// Action is the base contract of a unit of work. Reads declares the state
// keys the action depends on (informational); Writes declares the keys it
// is allowed and expected to produce.
//
// Every action additionally implements exactly one coherent shape:
//
//   - Runner + Updater: separate run and update phases
//   - SingleStep: fused run-and-update
//   - StreamingRunner + Updater: streaming run, separate update
//   - StreamingSingleStep: fused streaming run-and-update
//
// The shape is resolved once when the action is added to a Graph.
type Action interface {
	Reads() []string
	Writes() []string
}

// HasInputs is implemented by actions requiring named parameters at
// invocation time.
type HasInputs interface {
	Inputs() []string
}

// Runner is the run phase of a separate-phase action. The state handed in
// is read-only by contract; the returned Result is merged by Update.
type Runner interface {
	Run(ctx context.Context, s state.State, inputs Inputs) (Result, error)
}

// Updater merges a run result into state, returning the new state. Update
// never blocks and is never subject to cancellation; suspension points live
// in the run phase only.
type Updater interface {
	Update(result Result, s state.State) (state.State, error)
}

// SingleStep is a fused action: run and update happen in one call.
type SingleStep interface {
	RunAndUpdate(ctx context.Context, s state.State, inputs Inputs) (Result, state.State, error)
}

// StreamingRunner is the run phase of a streaming separate-phase action.
// The returned Stream's terminal yield carries the cumulative final result,
// which is then merged via Updater.
type StreamingRunner interface {
	StreamRun(ctx context.Context, s state.State, inputs Inputs) (Stream, error)
}

// StreamingSingleStep is a fused streaming action. The terminal yield must
// carry both the final result and the new state.
type StreamingSingleStep interface {
	StreamRunAndUpdate(ctx context.Context, s state.State, inputs Inputs) (Stream, error)
}

// Shape identifies which executor strategy drives an action. It is resolved
// once at graph build time rather than probed on every call.
type Shape int

const (
	ShapeUnknown Shape = iota
	ShapeRunUpdate
	ShapeSingleStep
	ShapeStreaming
	ShapeStreamingSingleStep
)

func (s Shape) String() string {
	switch s {
	case ShapeRunUpdate:
		return "run/update"
	case ShapeSingleStep:
		return "single-step"
	case ShapeStreaming:
		return "streaming"
	case ShapeStreamingSingleStep:
		return "streaming single-step"
	default:
		return "unknown"
	}
}

// IsStreaming reports whether the shape produces incremental results.
func (s Shape) IsStreaming() bool {
	return s == ShapeStreaming || s == ShapeStreamingSingleStep
}

// ResolveShape determines the executor strategy for an action, failing with
// an InvocationError when the implemented interfaces do not form exactly one
// coherent shape.
func ResolveShape(name string, a Action) (Shape, error) {
	_, isRunner := a.(Runner)
	_, isUpdater := a.(Updater)
	_, isSingle := a.(SingleStep)
	_, isStreamRunner := a.(StreamingRunner)
	_, isStreamSingle := a.(StreamingSingleStep)

	var shapes []Shape
	if isRunner && isUpdater {
		shapes = append(shapes, ShapeRunUpdate)
	}
	if isSingle {
		shapes = append(shapes, ShapeSingleStep)
	}
	if isStreamRunner {
		if !isUpdater {
			return ShapeUnknown, &InvocationError{
				Action: name,
				Reason: "streaming action implements StreamRun but not Update",
			}
		}
		shapes = append(shapes, ShapeStreaming)
	}
	if isStreamSingle {
		shapes = append(shapes, ShapeStreamingSingleStep)
	}

	switch len(shapes) {
	case 0:
		if isRunner {
			return ShapeUnknown, &InvocationError{
				Action: name,
				Reason: "action implements Run but not Update",
			}
		}
		return ShapeUnknown, &InvocationError{
			Action: name,
			Reason: "action implements none of the run interfaces",
		}
	case 1:
		return shapes[0], nil
	default:
		names := make([]string, len(shapes))
		for i, s := range shapes {
			names[i] = s.String()
		}
		return ShapeUnknown, &InvocationError{
			Action: name,
			Reason: "action implements multiple shapes: " + strings.Join(names, ", "),
		}
	}
}

// DeclaredInputs returns the action's declared inputs, or nil.
func DeclaredInputs(a Action) []string {
	if hi, ok := a.(HasInputs); ok {
		return hi.Inputs()
	}
	return nil
}

// funcAction is the separate-phase function adapter.
type funcAction struct {
	reads, writes, inputs []string
	run                   func(ctx context.Context, s state.State, inputs Inputs) (Result, error)
	update                func(result Result, s state.State) (state.State, error)
}

func (a *funcAction) Reads() []string  { return a.reads }
func (a *funcAction) Writes() []string { return a.writes }
func (a *funcAction) Inputs() []string { return a.inputs }

func (a *funcAction) Run(ctx context.Context, s state.State, in Inputs) (Result, error) {
	return a.run(ctx, s, in)
}

func (a *funcAction) Update(result Result, s state.State) (state.State, error) {
	return a.update(result, s)
}

// ActionOptions configures the function adapters.
type ActionOptions struct {
	Reads  []string
	Writes []string
	Inputs []string
}

// ActionFunc builds a separate-phase action from a run and an update
// function. When update is nil the result is merged into state key-for-key.
func ActionFunc(
	opts ActionOptions,
	run func(ctx context.Context, s state.State, inputs Inputs) (Result, error),
	update func(result Result, s state.State) (state.State, error),
) Action {
	if update == nil {
		update = MergeResult
	}
	return &funcAction{
		reads:  opts.Reads,
		writes: opts.Writes,
		inputs: opts.Inputs,
		run:    run,
		update: update,
	}
}

// MergeResult is the default update: every result key is written into state
// under the same name.
func MergeResult(result Result, s state.State) (state.State, error) {
	return s.Update(result), nil
}

// singleStepAction is the fused function adapter.
type singleStepAction struct {
	reads, writes, inputs []string
	fn                    func(ctx context.Context, s state.State, inputs Inputs) (Result, state.State, error)
}

func (a *singleStepAction) Reads() []string  { return a.reads }
func (a *singleStepAction) Writes() []string { return a.writes }
func (a *singleStepAction) Inputs() []string { return a.inputs }

func (a *singleStepAction) RunAndUpdate(ctx context.Context, s state.State, in Inputs) (Result, state.State, error) {
	return a.fn(ctx, s, in)
}

// SingleStepFunc builds a fused action from a single run-and-update function.
func SingleStepFunc(
	opts ActionOptions,
	fn func(ctx context.Context, s state.State, inputs Inputs) (Result, state.State, error),
) Action {
	return &singleStepAction{reads: opts.Reads, writes: opts.Writes, inputs: opts.Inputs, fn: fn}
}

// streamingAction is the streaming separate-phase function adapter.
type streamingAction struct {
	reads, writes, inputs []string
	stream                func(ctx context.Context, s state.State, inputs Inputs) (Stream, error)
	update                func(result Result, s state.State) (state.State, error)
}

func (a *streamingAction) Reads() []string  { return a.reads }
func (a *streamingAction) Writes() []string { return a.writes }
func (a *streamingAction) Inputs() []string { return a.inputs }

func (a *streamingAction) StreamRun(ctx context.Context, s state.State, in Inputs) (Stream, error) {
	return a.stream(ctx, s, in)
}

func (a *streamingAction) Update(result Result, s state.State) (state.State, error) {
	return a.update(result, s)
}

// StreamingFunc builds a streaming separate-phase action. When update is nil
// the final result is merged key-for-key.
func StreamingFunc(
	opts ActionOptions,
	stream func(ctx context.Context, s state.State, inputs Inputs) (Stream, error),
	update func(result Result, s state.State) (state.State, error),
) Action {
	if update == nil {
		update = MergeResult
	}
	return &streamingAction{
		reads:  opts.Reads,
		writes: opts.Writes,
		inputs: opts.Inputs,
		stream: stream,
		update: update,
	}
}

// streamingSingleStepAction is the fused streaming function adapter.
type streamingSingleStepAction struct {
	reads, writes, inputs []string
	fn                    func(ctx context.Context, s state.State, inputs Inputs) (Stream, error)
}

func (a *streamingSingleStepAction) Reads() []string  { return a.reads }
func (a *streamingSingleStepAction) Writes() []string { return a.writes }
func (a *streamingSingleStepAction) Inputs() []string { return a.inputs }

func (a *streamingSingleStepAction) StreamRunAndUpdate(ctx context.Context, s state.State, in Inputs) (Stream, error) {
	return a.fn(ctx, s, in)
}

// StreamingSingleStepFunc builds a fused streaming action. The returned
// stream's terminal yield must carry both the final result and the new
// state.
func StreamingSingleStepFunc(
	opts ActionOptions,
	fn func(ctx context.Context, s state.State, inputs Inputs) (Stream, error),
) Action {
	return &streamingSingleStepAction{reads: opts.Reads, writes: opts.Writes, inputs: opts.Inputs, fn: fn}
}

// resultAction surfaces a subset of state as its result without writing
// anything. It is the conventional terminal action of a run.
type resultAction struct {
	fields []string
}

func (a *resultAction) Reads() []string  { return a.fields }
func (a *resultAction) Writes() []string { return nil }

func (a *resultAction) Run(ctx context.Context, s state.State, _ Inputs) (Result, error) {
	out := Result{}
	for _, f := range a.fields {
		if v, ok := s.Get(f); ok {
			out[f] = v
		}
	}
	return out, nil
}

func (a *resultAction) Update(_ Result, s state.State) (state.State, error) {
	return s, nil
}

// ResultAction returns an action whose result is the given state fields,
// verbatim, and whose update leaves state untouched.
func ResultAction(fields ...string) Action {
	return &resultAction{fields: fields}
}
