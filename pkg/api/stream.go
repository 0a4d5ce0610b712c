package api

import (
	"context"

	"github.com/petrijr/stately/pkg/state"
)

// StreamYield is one element produced by a streaming action.
//
// Intermediate yields carry a partial Result and a nil State; they are fed
// to streaming observers but never merged. The terminal yield has Final set,
// carries the cumulative final Result, and, for fused streaming actions, a
// non-nil State.
type StreamYield struct {
	Result Result
	State  *state.State
	Final  bool
}

// Stream is the pull side of a streaming action. It is single-pass and not
// restartable: Next returns ok=false once the terminal yield has been
// delivered. A stream whose last yield is not Final breaks the action
// contract.
type Stream interface {
	Next(ctx context.Context) (StreamYield, bool, error)
}

// StreamFunc adapts a pull function to the Stream interface.
type StreamFunc func(ctx context.Context) (StreamYield, bool, error)

func (f StreamFunc) Next(ctx context.Context) (StreamYield, bool, error) {
	return f(ctx)
}

// SliceStream returns a Stream over the given intermediate results followed
// by a terminal yield with the final result and optional state. Useful for
// tests and for actions that compute results eagerly.
func SliceStream(intermediate []Result, final Result, finalState *state.State) Stream {
	i := 0
	return StreamFunc(func(ctx context.Context) (StreamYield, bool, error) {
		if err := ctx.Err(); err != nil {
			return StreamYield{}, false, err
		}
		if i < len(intermediate) {
			y := StreamYield{Result: intermediate[i]}
			i++
			return y, true, nil
		}
		if i == len(intermediate) {
			i++
			return StreamYield{Result: final, State: finalState, Final: true}, true, nil
		}
		return StreamYield{}, false, nil
	})
}
