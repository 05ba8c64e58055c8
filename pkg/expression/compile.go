package expression

import (
	"fmt"

	"github.com/go-logr/logr"
	"sigs.k8s.io/yaml"

	"github.com/l7mp/livequery/pkg/util"
)

// Parse parses an expression from YAML or JSON.
func Parse(s string) (*Expression, error) {
	e := &Expression{}
	if err := yaml.Unmarshal([]byte(s), e); err != nil {
		return nil, err
	}
	return e, nil
}

// Predicate turns a boolean expression into a filter function.
func Predicate[T any](e *Expression, vars any, log logr.Logger) func(T) (bool, error) {
	return func(item T) (bool, error) {
		v, err := e.Evaluate(EvalCtx{Object: item, Vars: vars, Log: log})
		if err != nil {
			return false, err
		}
		if v == nil {
			return false, nil
		}
		b, err := AsBool(v)
		if err != nil {
			return false, NewExpressionError(e, fmt.Errorf("predicate must evaluate to a boolean: %w", err))
		}
		return b, nil
	}
}

// Selector turns an expression into a mapping function.
func Selector[T any](e *Expression, vars any, log logr.Logger) func(T) (any, error) {
	return func(item T) (any, error) {
		return e.Evaluate(EvalCtx{Object: item, Vars: vars, Log: log})
	}
}

// Key turns an expression into a sort or grouping key. Keys are normalized so that any two keys
// can be compared with CompareKeys: integers become float64, other scalars are kept, composite
// values are rendered into strings.
func Key[T any](e *Expression, vars any, log logr.Logger) func(T) (any, error) {
	return func(item T) (any, error) {
		v, err := e.Evaluate(EvalCtx{Object: item, Vars: vars, Log: log})
		if err != nil {
			return nil, err
		}
		return normalizeKey(v), nil
	}
}

func normalizeKey(v any) any {
	switch v.(type) {
	case nil, bool, string, float64:
		return v
	}
	if f, err := AsFloat(v); err == nil {
		return f
	}
	return util.Stringify(v)
}

// CompareKeys orders normalized keys: nil < bool < number < string.
func CompareKeys(a, b any) int {
	ra, rb := keyRank(a), keyRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case string:
		y := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	}
	return 0
}

func keyRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	default:
		return 3
	}
}
