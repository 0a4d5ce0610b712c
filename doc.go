// Package stately provides a lightweight, embeddable state machine runtime
// for Go.
//
// Stately is designed for backend services that orchestrate multi-step,
// stateful processes — agent loops, conversational flows, approval chains,
// data pipelines — without introducing external infrastructure. Execution
// runs fully in Go, state is an immutable versioned key/value mapping, and
// every step can be checkpointed to pluggable storage.
//
// # Core Concepts
//
// The programming model is intentionally small:
//
//  1. State
//  2. Action
//  3. Graph
//  4. Application
//  5. ApplicationBuilder
//
// # State
//
// State is an immutable snapshot of the machine's data. Every mutation
// (Update, Set, Append, Wipe) returns a new State; the snapshot a step
// observed never changes underneath it. State carries lineage metadata —
// the prior action and a per-application sequence counter — under reserved
// double-underscore keys.
//
// # Action
//
// An Action is a unit of work declaring the state fields it reads, the
// fields it writes, and any runtime inputs it needs. Four shapes exist:
//
//   - run/update: compute a result, then merge it into state
//   - single-step: compute result and next state in one call
//   - streaming: emit intermediate results before a terminal result
//   - streaming single-step: streaming with a fused state merge
//
// Adapters (ActionFunc, SingleStepFunc, StreamingFunc,
// StreamingSingleStepFunc) build actions from plain functions. The engine
// validates every step against the action's declared writes and fails the
// step on undeclared or missing writes.
//
// # Graph
//
// A Graph wires named actions together with conditional transitions.
// Conditions come from expression strings (Expr), field-equality maps
// (When), or the catch-all Default; transitions are evaluated in
// declaration order and the first satisfied one wins. A run ends normally
// when no transition applies.
//
// # Application
//
// An Application drives a graph over a state: Step executes one action,
// Run executes until a halt condition, Iterate hands out one step triple at
// a time, and StreamResult / StreamIterate expose streaming actions'
// intermediate results as they are produced. Lifecycle hooks observe steps,
// runs, streams, and spans; a persister checkpoints state after every step
// so applications can resume or fork later.
//
// # ApplicationBuilder
//
// ApplicationBuilder assembles the graph, initial state, identifiers,
// hooks, and persistence into an Application. InitializeFrom restores a
// prior application from its latest (or a pinned) checkpoint, either
// resuming it in place or forking it under a new identity with recorded
// lineage.
//
// Persistence backends include in-memory (tests), SQLite (embedded
// durability), PostgreSQL, and Redis.
//
// For examples, see the package examples and the project README.
package stately
