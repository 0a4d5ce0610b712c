package stately

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/petrijr/stately/internal/engine"
	"github.com/petrijr/stately/pkg/api"
	"github.com/petrijr/stately/pkg/persistence"
	"github.com/petrijr/stately/pkg/state"
)

// StepResult is the (action, result, state) triple produced by one step.
// Result is nil when execution halted before the action ran.
type StepResult struct {
	Action string
	Result api.Result
	State  state.State
}

// RunOptions bounds an execution: stop before invoking any action named in
// HaltBefore, stop after merging the result of any action named in
// HaltAfter. Inputs are offered to every step; each action picks the
// parameters it declares.
type RunOptions struct {
	HaltBefore []string
	HaltAfter  []string
	Inputs     api.Inputs
}

// Application executes a graph of actions over a shared, versioned state.
//
// An Application is a single logical thread of control: its methods must
// not be called concurrently. Steps execute strictly one after another;
// callers wanting background execution run the blocking methods in their
// own goroutine. Nested applications built from within an action are
// independently sequenced.
type Application struct {
	graph        *api.Graph
	state        state.State
	priorStep    string
	forcedNext   string // next action override after a resume-at checkpoint
	sequenceID   int64
	appID        string
	partitionKey string
	hooks        *api.HookSet
	persister    persistence.Persister
	parent       *api.ParentPointer
	logger       *slog.Logger
}

// AppID returns the application's unique identifier.
func (a *Application) AppID() string { return a.appID }

// PartitionKey returns the partition this application persists under.
func (a *Application) PartitionKey() string { return a.partitionKey }

// SequenceID returns the sequence counter of the last completed step.
func (a *Application) SequenceID() int64 { return a.sequenceID }

// State returns the current state snapshot.
func (a *Application) State() state.State { return a.state }

// Graph returns the application's graph.
func (a *Application) Graph() *api.Graph { return a.graph }

// ParentPointer returns the checkpoint this application was forked from,
// or nil.
func (a *Application) ParentPointer() *api.ParentPointer { return a.parent }

// NextAction returns the name of the action the next step would run, or
// an error wrapping api.ErrNoApplicableTransition when the graph has no
// more work.
func (a *Application) NextAction() (string, error) {
	node, err := a.nextNode()
	if err != nil {
		return "", err
	}
	return node.Name, nil
}

func (a *Application) nextNode() (*api.Node, error) {
	name := a.forcedNext
	if name == "" {
		var err error
		name, err = a.graph.NextActionName(a.priorStep, a.state)
		if err != nil {
			return nil, err
		}
	}
	node, ok := a.graph.Node(name)
	if !ok {
		return nil, api.NewBuildError("next action %q is not in the graph", name)
	}
	return node, nil
}

// Step executes exactly one action and returns its triple, or (nil, nil)
// when no transition applies and the run is complete.
func (a *Application) Step(ctx context.Context, inputs api.Inputs) (*StepResult, error) {
	finish := a.beginExecuteCall(ctx, api.MethodStep, RunOptions{Inputs: inputs})
	res, err := a.step(ctx, inputs)
	finish(err)
	return res, err
}

// step is Step without the execute-call hooks, shared by the drive paths.
func (a *Application) step(ctx context.Context, inputs api.Inputs) (*StepResult, error) {
	node, err := a.nextNode()
	if errors.Is(err, api.ErrNoApplicableTransition) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a.executeNode(ctx, node, inputs)
}

// executeNode runs one resolved action: input binding, pre hooks, the
// executor strategy, write validation, metadata stamping, persistence, and
// post hooks. A failed step merges nothing and does not advance the
// sequence counter.
func (a *Application) executeNode(ctx context.Context, node *api.Node, inputs api.Inputs) (*StepResult, error) {
	seq := a.sequenceID + 1
	tracer := a.hooks.TracerFor(a.appID, a.partitionKey, seq, node.Name)
	appCtx := &api.ApplicationContext{
		AppID:        a.appID,
		PartitionKey: a.partitionKey,
		SequenceID:   seq,
		Hooks:        a.hooks,
		Tracer:       tracer,
	}
	ctx = api.WithAppContext(ctx, appCtx)

	bound, err := engine.BindInputs(node, inputs, appCtx, tracer)
	if err != nil {
		a.logStepFailure(ctx, node.Name, err)
		return nil, err
	}

	a.hooks.PreRunStep(ctx, &api.StepStartInfo{
		AppID:        a.appID,
		PartitionKey: a.partitionKey,
		SequenceID:   seq,
		State:        a.state,
		Action:       node.Name,
		Inputs:       bound,
	})

	var result api.Result
	var newState state.State
	if node.Shape.IsStreaming() {
		result, newState, err = a.executeStreamingInline(ctx, node, bound, seq)
	} else {
		result, newState, err = engine.Execute(ctx, node, a.state, bound, nil)
	}
	if err != nil {
		a.failStep(ctx, node, seq, err)
		return nil, err
	}

	return a.commitStep(ctx, node, seq, result, newState)
}

// executeStreamingInline drains a streaming action when it is driven
// through a non-streaming path, firing the stream lifecycle hooks per
// element.
func (a *Application) executeStreamingInline(ctx context.Context, node *api.Node, inputs api.Inputs, seq int64) (api.Result, state.State, error) {
	streamInfo := api.StreamInfo{
		AppID:        a.appID,
		PartitionKey: a.partitionKey,
		SequenceID:   seq,
		Action:       node.Name,
	}
	stream, err := engine.OpenStream(ctx, node, a.state, inputs)
	if err != nil {
		return nil, a.state, err
	}
	a.hooks.PreStartStream(ctx, &streamInfo)

	itemIndex := 0
	final, err := engine.DrainStream(ctx, node, stream, func(item api.Result) {
		a.hooks.PostStreamItem(ctx, &api.StreamItemInfo{
			StreamInfo: streamInfo,
			Item:       item,
			ItemIndex:  itemIndex,
			EmittedAt:  time.Now(),
		})
		itemIndex++
	})
	if err != nil {
		return nil, a.state, err
	}

	result, newState, err := engine.FinishStream(node, final, a.state)
	if err != nil {
		return nil, a.state, err
	}
	a.hooks.PostEndStream(ctx, &api.StreamEndInfo{StreamInfo: streamInfo, ItemCount: itemIndex})
	return result, newState, nil
}

// commitStep stamps lineage metadata, persists the checkpoint, advances the
// sequence counter, and fires the post-run-step hooks.
func (a *Application) commitStep(ctx context.Context, node *api.Node, seq int64, result api.Result, newState state.State) (*StepResult, error) {
	newState = newState.WithPriorStep(node.Name).WithSequenceID(seq)

	if a.persister != nil {
		if err := a.persister.Save(ctx, a.partitionKey, a.appID, seq, node.Name, newState, persistence.StatusCompleted); err != nil {
			err = fmt.Errorf("persisting checkpoint for action %q: %w", node.Name, err)
			a.failStep(ctx, node, seq, err)
			return nil, err
		}
	}

	a.state = newState
	a.sequenceID = seq
	a.priorStep = node.Name
	a.forcedNext = ""

	a.hooks.PostRunStep(ctx, &api.StepEndInfo{
		AppID:        a.appID,
		PartitionKey: a.partitionKey,
		SequenceID:   seq,
		State:        newState,
		Action:       node.Name,
		Result:       result,
	})

	return &StepResult{Action: node.Name, Result: result, State: newState}, nil
}

// failStep records a step failure: error log, a failed-status checkpoint of
// the unchanged state, and the post-run-step hook with the error.
func (a *Application) failStep(ctx context.Context, node *api.Node, seq int64, stepErr error) {
	a.logStepFailure(ctx, node.Name, stepErr)

	if a.persister != nil {
		if err := a.persister.Save(ctx, a.partitionKey, a.appID, seq, node.Name, a.state, persistence.StatusFailed); err != nil {
			a.logger.ErrorContext(ctx, "failed_checkpoint_save",
				slog.String("app_id", a.appID),
				slog.String("action", node.Name),
				slog.Any("error", err),
			)
		}
	}

	a.hooks.PostRunStep(ctx, &api.StepEndInfo{
		AppID:        a.appID,
		PartitionKey: a.partitionKey,
		SequenceID:   seq,
		State:        a.state,
		Action:       node.Name,
		Err:          stepErr,
	})
}

func (a *Application) logStepFailure(ctx context.Context, action string, err error) {
	a.logger.ErrorContext(ctx, "step_failed",
		slog.String("app_id", a.appID),
		slog.String("partition_key", a.partitionKey),
		slog.String("action", action),
		slog.Any("error", err),
	)
}

func (a *Application) beginExecuteCall(ctx context.Context, method api.ExecuteMethod, opts RunOptions) func(err error) {
	a.hooks.PreApplicationExecuteCall(ctx, &api.ExecuteCallInfo{
		AppID:        a.appID,
		PartitionKey: a.partitionKey,
		SequenceID:   a.sequenceID,
		State:        a.state,
		Method:       method,
		HaltBefore:   opts.HaltBefore,
		HaltAfter:    opts.HaltAfter,
		Inputs:       opts.Inputs,
	})
	return func(err error) {
		a.hooks.PostApplicationExecuteCall(ctx, &api.ExecuteCallInfo{
			AppID:        a.appID,
			PartitionKey: a.partitionKey,
			SequenceID:   a.sequenceID,
			State:        a.state,
			Method:       method,
			HaltBefore:   opts.HaltBefore,
			HaltAfter:    opts.HaltAfter,
			Inputs:       opts.Inputs,
			Err:          err,
		})
	}
}

// Iterator is the lazy sequence of step triples produced by Iterate. It is
// single-pass; after Next reports done, Terminal carries the terminal
// triple.
type Iterator struct {
	app      *Application
	opts     RunOptions
	finish   func(err error)
	done     bool
	terminal *StepResult
}

// Iterate returns an iterator executing one step per Next call, stopping
// per the halting rule. The execute-call hooks fire once: the pre hook
// here, the post hook when the iterator completes or fails.
func (a *Application) Iterate(ctx context.Context, opts RunOptions) *Iterator {
	return a.iterate(ctx, api.MethodIterate, opts)
}

func (a *Application) iterate(ctx context.Context, method api.ExecuteMethod, opts RunOptions) *Iterator {
	return &Iterator{
		app:    a,
		opts:   opts,
		finish: a.beginExecuteCall(ctx, method, opts),
	}
}

// Next executes the next step. It returns ok=false when iteration has
// stopped: because a halt-before action was reached, a halt-after action
// was just executed, or the graph has no applicable transition left.
func (it *Iterator) Next(ctx context.Context) (*StepResult, bool, error) {
	if it.done {
		return nil, false, nil
	}

	node, err := it.app.nextNode()
	if errors.Is(err, api.ErrNoApplicableTransition) {
		it.stop(nil)
		return nil, false, nil
	}
	if err != nil {
		it.stop(err)
		return nil, false, err
	}

	if slices.Contains(it.opts.HaltBefore, node.Name) {
		it.terminal = &StepResult{Action: node.Name, Result: nil, State: it.app.state}
		it.stop(nil)
		return nil, false, nil
	}

	res, err := it.app.executeNode(ctx, node, it.opts.Inputs)
	if err != nil {
		it.stop(err)
		return nil, false, err
	}

	it.terminal = res
	if slices.Contains(it.opts.HaltAfter, node.Name) {
		it.stop(nil)
	}
	return res, true, nil
}

// Terminal returns the terminal triple once iteration has stopped: the
// result of the halt-after action, the not-executed halt-before action with
// a nil result, or the last executed step when the graph ran out of
// transitions.
func (it *Iterator) Terminal() *StepResult { return it.terminal }

func (it *Iterator) stop(err error) {
	if !it.done {
		it.done = true
		it.finish(err)
	}
}

// Run executes steps until a halting condition is met or the graph has no
// applicable transition, and returns the terminal triple.
func (a *Application) Run(ctx context.Context, opts RunOptions) (*StepResult, error) {
	it := a.iterate(ctx, api.MethodRun, opts)
	for {
		_, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return it.Terminal(), nil
		}
	}
}
