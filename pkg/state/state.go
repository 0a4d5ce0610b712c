// Package state provides the immutable key/value container passed between
// steps of a stately application.
//
// A State is a persistent snapshot: every mutating operation returns a new
// State and leaves the receiver untouched. Two reserved metadata keys record
// run lineage (the previously executed action and the monotonic sequence
// counter); they live in the same mapping so that equality and persistence
// cover them for free.
package state

import (
	"fmt"
	"reflect"
	"sort"
)

// Reserved metadata keys. They are stored alongside user data and are
// maintained by the run controller, not by actions.
const (
	PriorStepKey  = "__PRIOR_STEP"
	SequenceIDKey = "__SEQUENCE_ID"
)

// IsMetadataKey reports whether key is one of the reserved metadata keys.
func IsMetadataKey(key string) bool {
	return key == PriorStepKey || key == SequenceIDKey
}

// State is an immutable mapping from string keys to arbitrary values.
// The zero value is an empty, usable State.
type State struct {
	data map[string]any
}

// New creates a State from the given initial mapping. The mapping is copied;
// later mutation of initial does not affect the State.
func New(initial map[string]any) State {
	data := make(map[string]any, len(initial))
	for k, v := range initial {
		data[k] = v
	}
	return State{data: data}
}

// Get returns the value stored under key.
func (s State) Get(key string) (any, bool) {
	v, ok := s.data[key]
	return v, ok
}

// GetOrDefault returns the value stored under key, or def if absent.
func (s State) GetOrDefault(key string, def any) any {
	if v, ok := s.data[key]; ok {
		return v
	}
	return def
}

// Has reports whether key is present.
func (s State) Has(key string) bool {
	_, ok := s.data[key]
	return ok
}

// Len returns the number of keys, metadata included.
func (s State) Len() int {
	return len(s.data)
}

// IsZero reports whether the state was never initialized. An empty but
// initialized state is not zero.
func (s State) IsZero() bool {
	return s.data == nil
}

// Keys returns all keys in sorted order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns a copy of the full mapping, metadata keys included.
func (s State) All() map[string]any {
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Update returns a new State with the given key/value pairs merged in.
func (s State) Update(kv map[string]any) State {
	next := s.clone(len(kv))
	for k, v := range kv {
		next.data[k] = v
	}
	return next
}

// Set returns a new State with a single key set.
func (s State) Set(key string, value any) State {
	next := s.clone(1)
	next.data[key] = value
	return next
}

// Append returns a new State where values have been appended to the list
// stored under key. If the key is absent, the list is created. If the key
// holds a non-list value, Append panics, as this is a programming error of
// the calling action.
func (s State) Append(key string, values ...any) State {
	var list []any
	if existing, ok := s.data[key]; ok {
		prior, ok := existing.([]any)
		if !ok {
			panic(fmt.Sprintf("state: append to key %q which holds non-list value %T", key, existing))
		}
		list = make([]any, len(prior), len(prior)+len(values))
		copy(list, prior)
	}
	list = append(list, values...)
	return s.Set(key, list)
}

// Wipe returns a new State with the given keys deleted. Deleting an absent
// key is a no-op.
func (s State) Wipe(keys ...string) State {
	next := s.clone(0)
	for _, k := range keys {
		delete(next.data, k)
	}
	return next
}

// Subset returns a new State restricted to the given keys. Absent keys are
// skipped. Metadata keys are carried only when named explicitly.
func (s State) Subset(keys ...string) State {
	data := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := s.data[k]; ok {
			data[k] = v
		}
	}
	return State{data: data}
}

// Equal reports whether the two states hold equal mappings, metadata
// included. Values are compared with reflect.DeepEqual.
func (s State) Equal(other State) bool {
	if len(s.data) != len(other.data) {
		return false
	}
	for k, v := range s.data {
		ov, ok := other.data[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

// PriorStep returns the name of the last executed action, if any.
func (s State) PriorStep() (string, bool) {
	v, ok := s.data[PriorStepKey]
	if !ok || v == nil {
		return "", false
	}
	name, ok := v.(string)
	return name, ok
}

// SequenceID returns the recorded sequence counter, or 0 if none is set.
func (s State) SequenceID() int64 {
	switch v := s.data[SequenceIDKey].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		// JSON round-trips integers as float64.
		return int64(v)
	default:
		return 0
	}
}

// WithPriorStep returns a new State recording name as the last executed
// action.
func (s State) WithPriorStep(name string) State {
	return s.Set(PriorStepKey, name)
}

// WithSequenceID returns a new State recording the sequence counter.
func (s State) WithSequenceID(id int64) State {
	return s.Set(SequenceIDKey, id)
}

func (s State) clone(extra int) State {
	data := make(map[string]any, len(s.data)+extra)
	for k, v := range s.data {
		data[k] = v
	}
	return State{data: data}
}

func (s State) String() string {
	return fmt.Sprintf("State%v", s.All())
}
