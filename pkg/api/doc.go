// Package api contains the core building blocks used by the stately
// execution engine. It provides the low-level primitives for defining
// actions, wiring them into graphs, and observing execution.
//
// Most users interact with the higher-level stately package, which
// re-exports selected types and helpers from this package. The api package
// is intended for advanced use cases, custom integrations, or contributors
// extending the engine itself.
//
// # Concepts
//
// The api package centers around a small set of concepts:
//
//   - Actions and execution shapes
//   - Conditions and transitions
//   - Graphs
//   - Streams
//   - Lifecycle hooks
//
// These primitives are assembled by the higher-level ApplicationBuilder in
// the stately package, but can also be used directly where fine-grained
// control is needed.
//
// # Actions
//
// An Action is a single unit of work. It declares up front which state keys
// it reads, which it writes, and which runtime inputs it accepts; the
// engine enforces those declarations at execution time. Actions come in
// four shapes, resolved by ResolveShape: split run/update, fused
// single-step, and streaming variants of each. Adapters such as ActionFunc,
// SingleStepFunc, StreamingFunc and ResultAction build actions from plain
// functions.
//
// # Conditions and Graphs
//
// A Condition gates a Transition between two actions. Conditions are built
// from When (state-equality matching), Expr (a small comparison expression
// language), Default (always true), and the Not/And/Or combinators.
// GraphBuilder assembles actions and transitions into an immutable Graph,
// validating entrypoints, transition endpoints, reserved names and
// default-transition ordering at build time.
//
// # Streams
//
// Streaming actions produce intermediate results before committing a final
// one. Stream is the pull-side interface, StreamYield the element type, and
// SliceStream a ready-made implementation for fixed sequences. The engine
// consumes a stream to its terminal element, enforcing the contract that
// every stream ends with exactly one final yield.
//
// # Hooks
//
// Lifecycle hooks observe execution without participating in it. HookSet
// dispatches to whichever of the narrow hook interfaces (PreRunStepHook,
// PostStreamItemHook and so on) a registered value
// implements. NewLoggingHook provides a slog-based reference
// implementation.
package api
