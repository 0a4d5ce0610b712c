package api

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoApplicableTransition signals that no transition out of the current
// position is satisfied and no default exists. It is a normal terminal
// condition distinguishing "graph exhausted" from "halting condition met",
// not a failure.
var ErrNoApplicableTransition = errors.New("no applicable transition")

// BuildError reports an invalid builder or graph configuration. It is only
// ever returned at build time, never while stepping.
type BuildError struct {
	Msg string
}

func (e *BuildError) Error() string {
	return "build error: " + e.Msg
}

// NewBuildError formats a BuildError.
func NewBuildError(format string, args ...any) error {
	return &BuildError{Msg: fmt.Sprintf(format, args...)}
}

// ContractViolation reports an action breaking its declared contract: a
// result carrying keys outside its writes, a declared write left unset, or
// a reserved input supplied by an external caller.
type ContractViolation struct {
	Action string
	Reason string
	Keys   []string
}

func (e *ContractViolation) Error() string {
	msg := fmt.Sprintf("action %q violated its contract: %s", e.Action, e.Reason)
	if len(e.Keys) > 0 {
		msg += ": " + strings.Join(e.Keys, ", ")
	}
	return msg
}

// InvocationError reports an action that cannot be invoked as registered,
// for example a type implementing an incoherent combination of the action
// shape interfaces.
type InvocationError struct {
	Action string
	Reason string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("action %q cannot be invoked: %s", e.Action, e.Reason)
}
