package api

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/petrijr/stately/pkg/state"
)

// DefaultConditionName is the name of the always-true condition. A default
// transition must be declared last among the transitions of its source
// action.
const DefaultConditionName = "default"

// Condition is a named boolean predicate over state, used to pick the next
// transition out of an action.
type Condition struct {
	name string
	keys []string
	pred func(s state.State) (bool, error)
}

// Name returns the condition's display name.
func (c Condition) Name() string { return c.name }

// Keys returns the state keys the condition reads.
func (c Condition) Keys() []string { return c.keys }

// IsDefault reports whether this is the always-true default condition.
func (c Condition) IsDefault() bool { return c.name == DefaultConditionName }

// Resolve evaluates the condition against the given state.
func (c Condition) Resolve(s state.State) (bool, error) {
	if c.pred == nil {
		// Zero value behaves as default.
		return true, nil
	}
	return c.pred(s)
}

// Default returns the always-true condition.
func Default() Condition {
	return Condition{
		name: DefaultConditionName,
		pred: func(state.State) (bool, error) { return true, nil },
	}
}

// When returns a condition that is true when every given key equals the
// given value. Numeric values compare across int/float representations.
func When(kv map[string]any) Condition {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, kv[k])
	}

	return Condition{
		name: strings.Join(parts, ", "),
		keys: keys,
		pred: func(s state.State) (bool, error) {
			for _, k := range keys {
				v, ok := s.Get(k)
				if !ok {
					return false, fmt.Errorf("condition reads key %q which is not in state", k)
				}
				if !looseEqual(v, kv[k]) {
					return false, nil
				}
			}
			return true, nil
		},
	}
}

// Expr compiles a boolean expression over state keys into a condition.
// The language supports int, float, string and bool literals, identifiers
// (state keys), comparisons (== != < <= > >=), boolean connectives
// (&& || !) and parentheses.
func Expr(expression string) (Condition, error) {
	node, keys, err := parseExpr(expression)
	if err != nil {
		return Condition{}, fmt.Errorf("condition %q: %w", expression, err)
	}
	return Condition{
		name: expression,
		keys: keys,
		pred: func(s state.State) (bool, error) {
			v, err := node.eval(s)
			if err != nil {
				return false, fmt.Errorf("condition %q: %w", expression, err)
			}
			b, ok := v.(bool)
			if !ok {
				return false, fmt.Errorf("condition %q evaluated to %T, want bool", expression, v)
			}
			return b, nil
		},
	}, nil
}

// MustExpr is like Expr but panics on a parse error. Intended for
// statically known expressions.
func MustExpr(expression string) Condition {
	c, err := Expr(expression)
	if err != nil {
		panic(err)
	}
	return c
}

// Not negates a condition.
func Not(c Condition) Condition {
	return Condition{
		name: "!(" + c.name + ")",
		keys: c.keys,
		pred: func(s state.State) (bool, error) {
			b, err := c.Resolve(s)
			return !b, err
		},
	}
}

// And returns a condition true when all given conditions are true.
func And(conds ...Condition) Condition {
	return combine(conds, " && ", func(a, b bool) bool { return a && b }, true)
}

// Or returns a condition true when any given condition is true.
func Or(conds ...Condition) Condition {
	return combine(conds, " || ", func(a, b bool) bool { return a || b }, false)
}

func combine(conds []Condition, sep string, op func(a, b bool) bool, unit bool) Condition {
	names := make([]string, len(conds))
	var keys []string
	seen := map[string]bool{}
	for i, c := range conds {
		names[i] = c.name
		for _, k := range c.keys {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return Condition{
		name: "(" + strings.Join(names, sep) + ")",
		keys: keys,
		pred: func(s state.State) (bool, error) {
			acc := unit
			for _, c := range conds {
				b, err := c.Resolve(s)
				if err != nil {
					return false, err
				}
				acc = op(acc, b)
			}
			return acc, nil
		},
	}
}

// looseEqual compares two values, treating numeric types as interchangeable.
func looseEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
