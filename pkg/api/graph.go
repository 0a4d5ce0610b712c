package api

import (
	"fmt"
	"strings"

	"github.com/petrijr/stately/pkg/state"
)

// Transition is a conditional edge between two actions, identified by name.
type Transition struct {
	From      string
	To        string
	Condition Condition
}

// Node is an action registered in a graph under a late-bound name, with its
// executor shape resolved once at build time.
type Node struct {
	Name   string
	Action Action
	Shape  Shape
}

// Graph is an immutable collection of actions and transitions plus an
// entrypoint. Construct one with GraphBuilder.
type Graph struct {
	nodes       map[string]*Node
	order       []string
	transitions []Transition
	entrypoint  string
}

// Entrypoint returns the name of the entry action.
func (g *Graph) Entrypoint() string { return g.entrypoint }

// Node looks up a registered action by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns all nodes in registration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.order))
	for i, name := range g.order {
		out[i] = g.nodes[name]
	}
	return out
}

// Transitions returns all transitions in declaration order.
func (g *Graph) Transitions() []Transition {
	out := make([]Transition, len(g.transitions))
	copy(out, g.transitions)
	return out
}

// NextActionName decides the action to run after prior, given the current
// state: the first transition out of prior whose condition holds, in
// declaration order, with the default transition always considered last by
// construction. When prior is empty the entrypoint is returned. When no
// transition applies the error wraps ErrNoApplicableTransition, which is a
// normal terminal condition rather than a failure.
func (g *Graph) NextActionName(prior string, s state.State) (string, error) {
	if prior == "" {
		return g.entrypoint, nil
	}
	for _, t := range g.transitions {
		if t.From != prior {
			continue
		}
		ok, err := t.Condition.Resolve(s)
		if err != nil {
			return "", fmt.Errorf("transition %s -> %s: %w", t.From, t.To, err)
		}
		if ok {
			return t.To, nil
		}
	}
	return "", fmt.Errorf("%w out of action %q", ErrNoApplicableTransition, prior)
}

// GraphBuilder assembles and validates a Graph.
type GraphBuilder struct {
	nodes       []*Node
	transitions []Transition
	entrypoint  string
	errs        []string
}

// NewGraphBuilder returns an empty builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{}
}

// WithAction registers an action under the given name. The name is the
// aliasing mechanism: the same action value may be registered several times
// under distinct names.
func (b *GraphBuilder) WithAction(name string, a Action) *GraphBuilder {
	if name == "" {
		b.errs = append(b.errs, "action registered with empty name")
		return b
	}
	if a == nil {
		b.errs = append(b.errs, fmt.Sprintf("action %q is nil", name))
		return b
	}
	b.nodes = append(b.nodes, &Node{Name: name, Action: a})
	return b
}

// WithTransition declares a conditional edge. Transitions are evaluated in
// declaration order per source action.
func (b *GraphBuilder) WithTransition(from, to string, cond Condition) *GraphBuilder {
	b.transitions = append(b.transitions, Transition{From: from, To: to, Condition: cond})
	return b
}

// WithEntrypoint sets the entry action name.
func (b *GraphBuilder) WithEntrypoint(name string) *GraphBuilder {
	b.entrypoint = name
	return b
}

// Build validates the graph structure and resolves every action's executor
// shape. All structural problems are reported together in one BuildError.
func (b *GraphBuilder) Build() (*Graph, error) {
	errs := append([]string{}, b.errs...)

	nodes := make(map[string]*Node, len(b.nodes))
	order := make([]string, 0, len(b.nodes))
	for _, n := range b.nodes {
		if _, dup := nodes[n.Name]; dup {
			errs = append(errs, fmt.Sprintf("action name %q registered twice", n.Name))
			continue
		}
		shape, err := ResolveShape(n.Name, n.Action)
		if err != nil {
			return nil, err
		}
		if err := validateDeclaredInputs(n.Name, n.Action); err != nil {
			errs = append(errs, err.Error())
		}
		node := *n
		node.Shape = shape
		nodes[n.Name] = &node
		order = append(order, n.Name)
	}

	if len(order) == 0 {
		errs = append(errs, "graph has no actions")
	}
	if b.entrypoint == "" {
		errs = append(errs, "no entrypoint set")
	} else if _, ok := nodes[b.entrypoint]; !ok && len(order) > 0 {
		errs = append(errs, fmt.Sprintf("entrypoint %q is not a registered action", b.entrypoint))
	}

	seenDefault := map[string]bool{}
	for _, t := range b.transitions {
		if _, ok := nodes[t.From]; !ok {
			errs = append(errs, fmt.Sprintf("transition source %q is not a registered action", t.From))
		}
		if _, ok := nodes[t.To]; !ok {
			errs = append(errs, fmt.Sprintf("transition target %q is not a registered action", t.To))
		}
		if seenDefault[t.From] {
			errs = append(errs, fmt.Sprintf(
				"action %q has a transition declared after its default transition", t.From))
		}
		if t.Condition.IsDefault() {
			seenDefault[t.From] = true
		}
	}

	if len(errs) > 0 {
		return nil, NewBuildError("invalid graph:\n  - %s", strings.Join(errs, "\n  - "))
	}

	transitions := make([]Transition, len(b.transitions))
	copy(transitions, b.transitions)

	return &Graph{
		nodes:       nodes,
		order:       order,
		transitions: transitions,
		entrypoint:  b.entrypoint,
	}, nil
}

func validateDeclaredInputs(name string, a Action) error {
	for _, in := range DeclaredInputs(a) {
		if strings.HasPrefix(in, ReservedInputPrefix) && in != ContextInput && in != TracerInput {
			return fmt.Errorf(
				"action %q declares reserved input %q; only %s and %s may be requested",
				name, in, ContextInput, TracerInput)
		}
	}
	return nil
}
