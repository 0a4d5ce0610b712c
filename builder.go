package stately

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/petrijr/stately/pkg/api"
	"github.com/petrijr/stately/pkg/persistence"
	"github.com/petrijr/stately/pkg/state"
)

// InitializeOptions controls how an application picks up from a persisted
// checkpoint.
//
// With ResumeAtNextAction the checkpoint's position counts as already
// executed and the run continues with whatever transition follows it;
// otherwise the run re-executes the position action itself.
//
// DefaultState and DefaultEntrypoint apply only when no checkpoint exists
// for the requested identifiers.
//
// Setting the ForkFrom fields copies another application's checkpoint into
// this one instead of resuming it in place: the loaded lineage is recorded
// as the new application's parent pointer, and the fork source identifiers
// must differ from the new application's own.
type InitializeOptions struct {
	ResumeAtNextAction bool
	DefaultState       map[string]any
	DefaultEntrypoint  string

	ForkFromAppID        string
	ForkFromPartitionKey string
	ForkFromSequenceID   *int64
}

// ApplicationBuilder assembles an Application. Configuration errors are
// collected and reported together from Build.
type ApplicationBuilder struct {
	graph *api.GraphBuilder

	initialState map[string]any
	stateSet     bool

	appID        string
	partitionKey string

	entrypoint    string
	entrypointSet bool

	sequenceID    int64
	sequenceIDSet bool

	hooks     []any
	parentCtx *api.ApplicationContext

	persister   persistence.Persister
	initializer persistence.Persister
	initOpts    InitializeOptions

	logger *slog.Logger

	errs []error
}

// NewApplicationBuilder starts a builder with an empty graph.
func NewApplicationBuilder() *ApplicationBuilder {
	return &ApplicationBuilder{graph: api.NewGraphBuilder()}
}

// WithState sets the initial state. Mutually exclusive with InitializeFrom.
func (b *ApplicationBuilder) WithState(initial map[string]any) *ApplicationBuilder {
	b.initialState = initial
	b.stateSet = true
	return b
}

// WithAction registers a named action.
func (b *ApplicationBuilder) WithAction(name string, a api.Action) *ApplicationBuilder {
	b.graph.WithAction(name, a)
	return b
}

// WithTransition adds an edge. The default condition (api.Default) must be
// declared after any conditional edges out of the same action.
func (b *ApplicationBuilder) WithTransition(from, to string, cond api.Condition) *ApplicationBuilder {
	b.graph.WithTransition(from, to, cond)
	return b
}

// WithEntrypoint sets the action the first step runs. Mutually exclusive
// with InitializeFrom, which derives the position from the checkpoint (use
// InitializeOptions.DefaultEntrypoint for the no-checkpoint case).
func (b *ApplicationBuilder) WithEntrypoint(name string) *ApplicationBuilder {
	b.entrypoint = name
	b.entrypointSet = true
	return b
}

// WithIdentifiers sets the application id and partition key. An empty
// appID gets a generated UUID at build time.
func (b *ApplicationBuilder) WithIdentifiers(appID, partitionKey string) *ApplicationBuilder {
	b.appID = appID
	b.partitionKey = partitionKey
	return b
}

// WithSequenceID overrides the starting sequence counter.
func (b *ApplicationBuilder) WithSequenceID(id int64) *ApplicationBuilder {
	b.sequenceID = id
	b.sequenceIDSet = true
	return b
}

// WithHooks registers lifecycle hooks, fired in registration order. Each
// hook must implement at least one of the lifecycle interfaces in pkg/api.
func (b *ApplicationBuilder) WithHooks(hooks ...any) *ApplicationBuilder {
	b.hooks = append(b.hooks, hooks...)
	return b
}

// WithParent links a nested application to the step building it: the
// parent's hooks fire for the nested run (before any hooks registered
// here), and the spawning step is recorded as the parent pointer. ctx must
// carry the ApplicationContext the engine threads into actions.
func (b *ApplicationBuilder) WithParent(ctx context.Context) *ApplicationBuilder {
	appCtx, ok := api.FromContext(ctx)
	if !ok {
		b.errorf("WithParent requires a context from a running action")
		return b
	}
	b.parentCtx = appCtx
	return b
}

// WithStatePersister sets the persister that checkpoints every completed
// step.
func (b *ApplicationBuilder) WithStatePersister(p persistence.Persister) *ApplicationBuilder {
	b.persister = p
	return b
}

// InitializeFrom loads the application's starting state, position, and
// sequence counter from a persisted checkpoint. The persister used for
// loading is often, but need not be, the one passed to WithStatePersister.
func (b *ApplicationBuilder) InitializeFrom(p persistence.Persister, opts InitializeOptions) *ApplicationBuilder {
	b.initializer = p
	b.initOpts = opts
	return b
}

// WithLogger sets the logger used for step failure reporting. Defaults to
// slog.Default.
func (b *ApplicationBuilder) WithLogger(logger *slog.Logger) *ApplicationBuilder {
	b.logger = logger
	return b
}

func (b *ApplicationBuilder) errorf(format string, args ...any) {
	b.errs = append(b.errs, api.NewBuildError(format, args...))
}

// Build validates the configuration, initializes persisters, loads any
// checkpoint, and returns the ready Application. It fires the
// post-application-create hook before returning.
func (b *ApplicationBuilder) Build(ctx context.Context) (*Application, error) {
	fork := b.initOpts.ForkFromAppID != "" || b.initOpts.ForkFromPartitionKey != "" || b.initOpts.ForkFromSequenceID != nil

	if b.initializer != nil {
		if b.stateSet {
			b.errorf("WithState and InitializeFrom are mutually exclusive: state comes from the checkpoint")
		}
		if b.entrypointSet {
			b.errorf("WithEntrypoint and InitializeFrom are mutually exclusive: use InitializeOptions.DefaultEntrypoint")
		}
	} else if fork {
		b.errorf("fork identifiers require InitializeFrom")
	}

	if fork {
		if b.initOpts.ForkFromAppID == "" {
			b.errorf("forking requires ForkFromAppID")
		}
		if b.initOpts.ForkFromPartitionKey == "" {
			b.errorf("forking requires ForkFromPartitionKey")
		}
		if b.parentCtx != nil {
			b.errorf("WithParent and fork identifiers are mutually exclusive: forking records its own lineage")
		}
		if b.initOpts.ForkFromAppID == b.appID && b.initOpts.ForkFromPartitionKey == b.partitionKey {
			b.errorf("fork source (%s, %s) must differ from the new application's identifiers",
				b.initOpts.ForkFromPartitionKey, b.initOpts.ForkFromAppID)
		}
	}

	entrypoint := b.entrypoint
	if b.initializer != nil {
		entrypoint = b.initOpts.DefaultEntrypoint
	}
	if entrypoint != "" {
		b.graph.WithEntrypoint(entrypoint)
	}

	graph, err := b.graph.Build()
	if err != nil {
		b.errs = append(b.errs, err)
	}

	registered := b.hooks
	if b.parentCtx != nil && b.parentCtx.Hooks != nil {
		registered = append([]any{b.parentCtx.Hooks}, b.hooks...)
	}
	hooks, err := api.NewHookSet(registered...)
	if err != nil {
		b.errs = append(b.errs, err)
	}

	if len(b.errs) > 0 {
		return nil, joinBuildErrors(b.errs)
	}

	for _, p := range []persistence.Persister{b.persister, b.initializer} {
		if init, ok := p.(persistence.Initializer); ok {
			if err := init.Initialize(ctx); err != nil {
				return nil, api.NewBuildError("initializing persister: %v", err)
			}
		}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &Application{
		graph:        graph,
		state:        state.New(b.initialState),
		appID:        b.appID,
		partitionKey: b.partitionKey,
		hooks:        hooks,
		persister:    b.persister,
		logger:       logger,
	}
	if b.parentCtx != nil {
		app.parent = &api.ParentPointer{
			AppID:        b.parentCtx.AppID,
			PartitionKey: b.parentCtx.PartitionKey,
			SequenceID:   b.parentCtx.SequenceID,
		}
	}

	if b.initializer != nil {
		if err := b.loadCheckpoint(ctx, app, fork); err != nil {
			return nil, err
		}
	}

	if app.appID == "" {
		app.appID = uuid.NewString()
	}
	if b.sequenceIDSet {
		app.sequenceID = b.sequenceID
	}

	hooks.PostApplicationCreate(ctx, &api.ApplicationCreateInfo{
		AppID:        app.appID,
		PartitionKey: app.partitionKey,
		SequenceID:   app.sequenceID,
		State:        app.state,
		Parent:       app.parent,
	})
	return app, nil
}

// loadCheckpoint resolves the starting state, sequence counter, and
// position from the configured initializer.
func (b *ApplicationBuilder) loadCheckpoint(ctx context.Context, app *Application, fork bool) error {
	pk, appID := app.partitionKey, app.appID
	var seq *int64
	if fork {
		pk = b.initOpts.ForkFromPartitionKey
		appID = b.initOpts.ForkFromAppID
		seq = b.initOpts.ForkFromSequenceID
	}

	chk, err := b.initializer.Load(ctx, pk, appID, seq)
	if err != nil {
		return api.NewBuildError("loading checkpoint for (%s, %s): %v", pk, appID, err)
	}
	if chk == nil {
		if fork {
			return api.NewBuildError("no checkpoint to fork from for (%s, %s)", pk, appID)
		}
		app.state = state.New(b.initOpts.DefaultState)
		return nil
	}

	if chk.State.IsZero() {
		return api.NewBuildError("checkpoint (%s, %s, %d) carries no state", pk, appID, chk.SequenceID)
	}
	if _, ok := app.graph.Node(chk.Position); !ok {
		return api.NewBuildError("checkpoint position %q is not an action in the graph", chk.Position)
	}

	app.state = chk.State
	app.sequenceID = chk.SequenceID
	if b.initOpts.ResumeAtNextAction {
		app.priorStep = chk.Position
	} else {
		app.forcedNext = chk.Position
	}
	if fork {
		app.parent = &api.ParentPointer{
			AppID:        appID,
			PartitionKey: pk,
			SequenceID:   chk.SequenceID,
		}
	}
	return nil
}

func joinBuildErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	msg := "invalid application configuration:"
	for _, e := range errs {
		msg += "\n  - " + e.Error()
	}
	return &api.BuildError{Msg: msg}
}
