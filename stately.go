package stately

import (
	"github.com/petrijr/stately/pkg/api"
	"github.com/petrijr/stately/pkg/state"
)

// Re-export key types so users don't need to dig into pkg/api and
// pkg/state.

type (
	State         = state.State
	Action        = api.Action
	Inputs        = api.Inputs
	Result        = api.Result
	Condition     = api.Condition
	Graph         = api.Graph
	GraphBuilder  = api.GraphBuilder
	Node          = api.Node
	Transition    = api.Transition
	Stream        = api.Stream
	StreamFunc    = api.StreamFunc
	StreamYield   = api.StreamYield
	Tracer        = api.Tracer
	ActionOptions = api.ActionOptions

	ApplicationContext = api.ApplicationContext
	ParentPointer      = api.ParentPointer

	BuildError        = api.BuildError
	ContractViolation = api.ContractViolation
	InvocationError   = api.InvocationError
)

// Re-export constructors for actions, conditions, and graphs.

var (
	NewState        = state.New
	NewGraphBuilder = api.NewGraphBuilder

	ActionFunc              = api.ActionFunc
	SingleStepFunc          = api.SingleStepFunc
	StreamingFunc           = api.StreamingFunc
	StreamingSingleStepFunc = api.StreamingSingleStepFunc
	ResultAction            = api.ResultAction

	Default  = api.Default
	When     = api.When
	Expr     = api.Expr
	MustExpr = api.MustExpr
	Not      = api.Not
	And      = api.And
	Or       = api.Or

	SliceStream = api.SliceStream

	NewLoggingHook = api.NewLoggingHook

	FromContext = api.FromContext
)

// ErrNoApplicableTransition signals a run that reached an action with no
// satisfied outgoing transition. It is the normal end of a graph, not a
// failure.
var ErrNoApplicableTransition = api.ErrNoApplicableTransition

// Reserved input names injected by the engine.
const (
	ContextInput = api.ContextInput
	TracerInput  = api.TracerInput
)
