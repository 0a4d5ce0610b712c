// Package engine implements the step-execution protocol: input binding,
// the four executor strategies over the action shapes, and write-contract
// validation. The public run controller in the root package drives it.
package engine

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/petrijr/stately/pkg/api"
	"github.com/petrijr/stately/pkg/state"
)

// BindInputs assembles the inputs handed to an action: caller-supplied
// values for the declared parameter names, then the engine-injected
// __context and __tracer values when declared. Reserved-prefixed keys
// supplied by the caller are rejected; missing declared inputs are an
// error naming them; undeclared caller inputs are dropped.
func BindInputs(node *api.Node, user api.Inputs, appCtx *api.ApplicationContext, tracer api.Tracer) (api.Inputs, error) {
	var reserved []string
	for k := range user {
		if strings.HasPrefix(k, api.ReservedInputPrefix) {
			reserved = append(reserved, k)
		}
	}
	if len(reserved) > 0 {
		sort.Strings(reserved)
		return nil, &api.ContractViolation{
			Action: node.Name,
			Reason: "reserved inputs supplied by external caller",
			Keys:   reserved,
		}
	}

	bound := api.Inputs{}
	var missing []string
	for _, name := range api.DeclaredInputs(node.Action) {
		switch name {
		case api.ContextInput:
			bound[name] = appCtx
		case api.TracerInput:
			bound[name] = tracer
		default:
			v, ok := user[name]
			if !ok {
				missing = append(missing, name)
				continue
			}
			bound[name] = v
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf(
			"action %q requires inputs that were not provided: %s",
			node.Name, strings.Join(missing, ", "))
	}
	return bound, nil
}

// Execute invokes one action against the given state and returns its result
// and the new state, with the write contract validated. Streaming actions
// are drained to their terminal yield; onItem, when non-nil, is called once
// per intermediate element in emission order, strictly before the terminal
// merge.
func Execute(ctx context.Context, node *api.Node, s state.State, inputs api.Inputs, onItem func(api.Result)) (api.Result, state.State, error) {
	switch node.Shape {
	case api.ShapeRunUpdate:
		runner := node.Action.(api.Runner)
		result, err := runner.Run(ctx, s, inputs)
		if err != nil {
			return nil, s, err
		}
		return mergeResult(node, result, s)

	case api.ShapeSingleStep:
		single := node.Action.(api.SingleStep)
		result, newState, err := single.RunAndUpdate(ctx, s, inputs)
		if err != nil {
			return nil, s, err
		}
		if err := ValidateWrites(node, result, s, newState); err != nil {
			return nil, s, err
		}
		return result, newState, nil

	case api.ShapeStreaming, api.ShapeStreamingSingleStep:
		stream, err := OpenStream(ctx, node, s, inputs)
		if err != nil {
			return nil, s, err
		}
		final, err := DrainStream(ctx, node, stream, onItem)
		if err != nil {
			return nil, s, err
		}
		return FinishStream(node, final, s)

	default:
		return nil, s, &api.InvocationError{Action: node.Name, Reason: "unresolved action shape"}
	}
}

// OpenStream starts the streaming run phase of a streaming action.
func OpenStream(ctx context.Context, node *api.Node, s state.State, inputs api.Inputs) (api.Stream, error) {
	switch node.Shape {
	case api.ShapeStreaming:
		return node.Action.(api.StreamingRunner).StreamRun(ctx, s, inputs)
	case api.ShapeStreamingSingleStep:
		return node.Action.(api.StreamingSingleStep).StreamRunAndUpdate(ctx, s, inputs)
	default:
		return nil, &api.InvocationError{
			Action: node.Name,
			Reason: fmt.Sprintf("shape %s is not streaming", node.Shape),
		}
	}
}

// DrainStream pulls a stream to its terminal yield, invoking onItem per
// intermediate element. A stream exhausted without a terminal yield breaks
// the action contract.
func DrainStream(ctx context.Context, node *api.Node, stream api.Stream, onItem func(api.Result)) (api.StreamYield, error) {
	for {
		yield, ok, err := stream.Next(ctx)
		if err != nil {
			return api.StreamYield{}, err
		}
		if !ok {
			return api.StreamYield{}, &api.ContractViolation{
				Action: node.Name,
				Reason: "stream exhausted without a terminal element",
			}
		}
		if yield.Final {
			return yield, nil
		}
		if onItem != nil {
			onItem(yield.Result)
		}
	}
}

// FinishStream merges a terminal stream yield into state: via Update for
// separate-phase streaming actions, or by adopting the yield's state for
// fused ones.
func FinishStream(node *api.Node, final api.StreamYield, s state.State) (api.Result, state.State, error) {
	switch node.Shape {
	case api.ShapeStreaming:
		return mergeResult(node, final.Result, s)
	case api.ShapeStreamingSingleStep:
		if final.State == nil {
			return nil, s, &api.ContractViolation{
				Action: node.Name,
				Reason: "terminal stream element carries no state",
			}
		}
		newState := *final.State
		if err := ValidateWrites(node, final.Result, s, newState); err != nil {
			return nil, s, err
		}
		return final.Result, newState, nil
	default:
		return nil, s, &api.InvocationError{
			Action: node.Name,
			Reason: fmt.Sprintf("shape %s is not streaming", node.Shape),
		}
	}
}

// mergeResult runs the update phase of a separate-phase action and
// validates the write contract. The update phase never suspends, hence no
// ctx.
func mergeResult(node *api.Node, result api.Result, s state.State) (api.Result, state.State, error) {
	updater := node.Action.(api.Updater)
	newState, err := updater.Update(result, s)
	if err != nil {
		return nil, s, err
	}
	if err := ValidateWrites(node, result, s, newState); err != nil {
		return nil, s, err
	}
	return result, newState, nil
}

// ValidateWrites enforces the write contract: every key set, changed, or
// deleted in the next state (metadata aside) must be declared in writes, and
// every declared write must be present in the new state unless it was
// explicitly deleted from the old one.
func ValidateWrites(node *api.Node, result api.Result, prev, next state.State) error {
	declared := map[string]bool{}
	for _, w := range node.Action.Writes() {
		declared[w] = true
	}

	var undeclared []string
	for _, k := range next.Keys() {
		if state.IsMetadataKey(k) || declared[k] {
			continue
		}
		nv, _ := next.Get(k)
		ov, existed := prev.Get(k)
		if !existed || !reflect.DeepEqual(nv, ov) {
			undeclared = append(undeclared, k)
		}
	}
	for _, k := range prev.Keys() {
		if state.IsMetadataKey(k) || declared[k] {
			continue
		}
		if !next.Has(k) {
			undeclared = append(undeclared, k)
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return &api.ContractViolation{
			Action: node.Name,
			Reason: "state keys set or deleted outside declared writes",
			Keys:   undeclared,
		}
	}

	var missing []string
	for _, w := range node.Action.Writes() {
		if next.Has(w) {
			continue
		}
		if prev.Has(w) {
			// Explicitly deleted, which is a legitimate write.
			continue
		}
		if _, produced := result[w]; produced {
			// Produced but dropped by a custom update; the declared write
			// was honored.
			continue
		}
		missing = append(missing, w)
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &api.ContractViolation{
			Action: node.Name,
			Reason: "declared writes not produced",
			Keys:   missing,
		}
	}
	return nil
}
