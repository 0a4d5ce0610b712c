package stately

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/petrijr/stately/internal/engine"
	"github.com/petrijr/stately/pkg/api"
	"github.com/petrijr/stately/pkg/state"
)

// StreamContainer hands out the intermediate results of a streaming action
// and, once exhausted, the committed final triple. It is single-pass:
// intermediates already consumed are not replayed. Get drains whatever
// remains, so the final triple is identical whether the caller pulled every
// intermediate or none.
type StreamContainer struct {
	action string

	// pull is non-nil while the underlying stream is live.
	pull func(ctx context.Context) (api.Result, bool, error)

	done        bool
	finalResult api.Result
	finalState  state.State
	err         error
}

// Action returns the name of the action this container wraps.
func (c *StreamContainer) Action() string { return c.action }

// Next returns the next intermediate result. ok=false means the stream is
// exhausted and the final triple is available through Get.
func (c *StreamContainer) Next(ctx context.Context) (api.Result, bool, error) {
	if c.done {
		return nil, false, c.err
	}
	item, ok, err := c.pull(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return item, true, nil
}

// Get drains any remaining intermediates and returns the final result and
// the committed state.
func (c *StreamContainer) Get(ctx context.Context) (api.Result, state.State, error) {
	for !c.done {
		if _, _, err := c.Next(ctx); err != nil {
			return nil, c.finalState, err
		}
	}
	return c.finalResult, c.finalState, c.err
}

// exhausted returns a container whose stream has already been fully
// realized (or never existed, for halt-before and run-complete terminals).
func exhaustedContainer(action string, result api.Result, s state.State, err error) *StreamContainer {
	return &StreamContainer{
		action:      action,
		done:        true,
		finalResult: result,
		finalState:  s,
		err:         err,
	}
}

// StreamResult runs until a halting action is reached and returns that
// action as a stream container. Non-halting steps execute to completion on
// the way; when the halting action is a streaming one, its commit (state
// merge, checkpoint, sequence advance, post hooks) is deferred until the
// container's terminal element is consumed.
func (a *Application) StreamResult(ctx context.Context, opts RunOptions) (*StreamContainer, error) {
	finish := a.beginExecuteCall(ctx, api.MethodStreamResult, opts)
	c, deferred, err := a.streamStep(ctx, opts)
	if deferred {
		// finish fires once the live container commits or fails.
		c.chainFinish(finish)
		return c, nil
	}
	finish(err)
	return c, err
}

// streamStep advances until the next halting step. deferred=true means the
// returned container wraps a live stream whose commit is still pending.
func (a *Application) streamStep(ctx context.Context, opts RunOptions) (c *StreamContainer, deferred bool, err error) {
	for {
		node, err := a.nextNode()
		if errors.Is(err, api.ErrNoApplicableTransition) {
			return exhaustedContainer("", nil, a.state, nil), false, nil
		}
		if err != nil {
			return nil, false, err
		}

		if slices.Contains(opts.HaltBefore, node.Name) {
			return exhaustedContainer(node.Name, nil, a.state, nil), false, nil
		}

		halting := slices.Contains(opts.HaltAfter, node.Name)
		if halting && node.Shape.IsStreaming() {
			c, err := a.openStreamingStep(ctx, node, opts.Inputs)
			if err != nil {
				return nil, false, err
			}
			return c, true, nil
		}

		res, err := a.executeNode(ctx, node, opts.Inputs)
		if err != nil {
			return nil, false, err
		}
		if halting {
			return exhaustedContainer(res.Action, res.Result, res.State, nil), false, nil
		}
	}
}

// openStreamingStep starts a streaming action and wraps it in a live
// container. The step's commit happens when the container observes the
// terminal element; a stream error fails the step the same way an eager
// one would.
func (a *Application) openStreamingStep(ctx context.Context, node *api.Node, inputs api.Inputs) (*StreamContainer, error) {
	seq := a.sequenceID + 1
	tracer := a.hooks.TracerFor(a.appID, a.partitionKey, seq, node.Name)
	appCtx := &api.ApplicationContext{
		AppID:        a.appID,
		PartitionKey: a.partitionKey,
		SequenceID:   seq,
		Hooks:        a.hooks,
		Tracer:       tracer,
	}
	hookCtx := api.WithAppContext(ctx, appCtx)

	bound, err := engine.BindInputs(node, inputs, appCtx, tracer)
	if err != nil {
		a.logStepFailure(hookCtx, node.Name, err)
		return nil, err
	}

	a.hooks.PreRunStep(hookCtx, &api.StepStartInfo{
		AppID:        a.appID,
		PartitionKey: a.partitionKey,
		SequenceID:   seq,
		State:        a.state,
		Action:       node.Name,
		Inputs:       bound,
	})

	stream, err := engine.OpenStream(hookCtx, node, a.state, bound)
	if err != nil {
		a.failStep(hookCtx, node, seq, err)
		return nil, err
	}

	streamInfo := api.StreamInfo{
		AppID:        a.appID,
		PartitionKey: a.partitionKey,
		SequenceID:   seq,
		Action:       node.Name,
	}
	a.hooks.PreStartStream(hookCtx, &streamInfo)

	c := &StreamContainer{action: node.Name}
	itemIndex := 0
	c.pull = func(pullCtx context.Context) (api.Result, bool, error) {
		yield, ok, err := stream.Next(pullCtx)
		if err == nil && !ok {
			err = &api.ContractViolation{
				Action: node.Name,
				Reason: "stream exhausted without a terminal element",
			}
		}
		if err != nil {
			a.failStep(hookCtx, node, seq, err)
			c.done = true
			c.finalState = a.state
			c.err = err
			return nil, false, err
		}
		if !yield.Final {
			a.hooks.PostStreamItem(hookCtx, &api.StreamItemInfo{
				StreamInfo: streamInfo,
				Item:       yield.Result,
				ItemIndex:  itemIndex,
				EmittedAt:  time.Now(),
			})
			itemIndex++
			return yield.Result, true, nil
		}

		result, newState, err := engine.FinishStream(node, yield, a.state)
		if err != nil {
			a.failStep(hookCtx, node, seq, err)
			c.done = true
			c.finalState = a.state
			c.err = err
			return nil, false, err
		}
		a.hooks.PostEndStream(hookCtx, &api.StreamEndInfo{StreamInfo: streamInfo, ItemCount: itemIndex})

		res, err := a.commitStep(hookCtx, node, seq, result, newState)
		c.done = true
		if err != nil {
			c.finalState = a.state
			c.err = err
			return nil, false, err
		}
		c.finalResult = res.Result
		c.finalState = res.State
		return nil, false, nil
	}
	return c, nil
}

// chainFinish arranges for fn to fire exactly once when the container
// completes.
func (c *StreamContainer) chainFinish(fn func(err error)) {
	inner := c.pull
	fired := false
	c.pull = func(ctx context.Context) (api.Result, bool, error) {
		item, ok, err := inner(ctx)
		if c.done && !fired {
			fired = true
			fn(c.err)
		}
		return item, ok, err
	}
}

// StreamIterator yields one StreamContainer per step until a halting
// condition or graph completion. Non-halting steps are fully realized
// before the iterator advances; only the halting step's container is
// handed out live.
type StreamIterator struct {
	app    *Application
	opts   RunOptions
	finish func(err error)
	done   bool
	last   *StreamContainer
}

// StreamIterate returns an iterator producing a container per step.
func (a *Application) StreamIterate(ctx context.Context, opts RunOptions) *StreamIterator {
	return &StreamIterator{
		app:    a,
		opts:   opts,
		finish: a.beginExecuteCall(ctx, api.MethodStreamIterate, opts),
	}
}

// Next advances to the next step's container. A live container handed out
// by a previous call is force-drained first so the engine knows the state
// to transition from. ok=false ends the iteration.
func (it *StreamIterator) Next(ctx context.Context) (*StreamContainer, bool, error) {
	if it.done {
		return nil, false, nil
	}
	if it.last != nil && !it.last.done {
		if _, _, err := it.last.Get(ctx); err != nil {
			it.stop(err)
			return nil, false, err
		}
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
		c := exhaustedContainer(node.Name, nil, it.app.state, nil)
		it.last = c
		it.stop(nil)
		return c, true, nil
	}

	halting := slices.Contains(it.opts.HaltAfter, node.Name)
	if halting && node.Shape.IsStreaming() {
		c, err := it.app.openStreamingStep(ctx, node, it.opts.Inputs)
		if err != nil {
			it.stop(err)
			return nil, false, err
		}
		it.last = c
		it.stopDeferred(c)
		return c, true, nil
	}

	res, err := it.app.executeNode(ctx, node, it.opts.Inputs)
	if err != nil {
		it.stop(err)
		return nil, false, err
	}
	c := exhaustedContainer(res.Action, res.Result, res.State, nil)
	it.last = c
	if halting {
		it.stop(nil)
	}
	return c, true, nil
}

func (it *StreamIterator) stop(err error) {
	if !it.done {
		it.done = true
		it.finish(err)
	}
}

// stopDeferred ends the iteration but delays the post execute-call hook
// until the live container commits.
func (it *StreamIterator) stopDeferred(c *StreamContainer) {
	if !it.done {
		it.done = true
		c.chainFinish(it.finish)
	}
}
