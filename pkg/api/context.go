package api

import (
	"context"
)

// ParentPointer records the checkpoint a forked application branched from.
type ParentPointer struct {
	AppID        string
	PartitionKey string
	SequenceID   int64
}

// ApplicationContext is a read-only value describing the step currently
// being executed. It is constructed fresh per step and handed to actions
// either through the Go context (FromContext) or, on request, through the
// reserved __context input. Nested applications capture it to inherit
// identity and hooks from their parent run.
type ApplicationContext struct {
	AppID        string
	PartitionKey string
	SequenceID   int64
	Hooks        *HookSet
	Tracer       Tracer
}

type appContextKey struct{}

// WithAppContext returns a context carrying the given ApplicationContext.
func WithAppContext(ctx context.Context, appCtx *ApplicationContext) context.Context {
	return context.WithValue(ctx, appContextKey{}, appCtx)
}

// FromContext extracts the ApplicationContext threaded through ctx by the
// engine, if any.
func FromContext(ctx context.Context) (*ApplicationContext, bool) {
	appCtx, ok := ctx.Value(appContextKey{}).(*ApplicationContext)
	return appCtx, ok
}
