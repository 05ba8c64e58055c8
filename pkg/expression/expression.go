// Package expression implements a small JSON/YAML expression language for writing live query
// predicates, selectors and sort keys declaratively.
//
// An expression is a literal, a list, a map, or a single-key map whose key is an operator
// starting with "@", e.g., {"@gt": ["$.spec.replicas", 2]}. Strings starting with "$." refer
// to properties of the current element, {"@var": "name"} refers to an external variable.
package expression

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-logr/logr"
	"github.com/ohler55/ojg/jp"

	"github.com/l7mp/livequery/pkg/property"
)

type Unstructured = map[string]any

// EvalCtx is the evaluation context of an expression.
type EvalCtx struct {
	// Object is the current element.
	Object any
	// Vars holds the external variables.
	Vars   any
	Log    logr.Logger
}

// Expression is a node of an expression tree.
type Expression struct {
	Op      string
	Arg     *Expression
	Literal any
}

// Evaluate evaluates the expression in the given context.
func (e *Expression) Evaluate(ctx EvalCtx) (any, error) {
	if len(e.Op) == 0 {
		return nil, NewInvalidArgumentsError(fmt.Sprintf("empty operator in expression %q", e.String()))
	}
	if ctx.Log.GetSink() == nil {
		ctx.Log = logr.Discard()
	}

	switch e.Op {
	case "@nil":
		return nil, nil

	case "@bool", "@int", "@float", "@string":
		lit := e.Literal
		if e.Arg != nil {
			// eval stacked expressions stored in e.Arg
			v, err := e.Arg.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			lit = v
		}

		var v any
		var err error
		switch e.Op {
		case "@bool":
			v, err = AsBool(lit)
		case "@int":
			v, err = AsInt(lit)
		case "@float":
			v, err = AsFloat(lit)
		case "@string":
			var str string
			str, err = AsString(lit)
			if err == nil && e.Arg == nil {
				v, err = GetJSONPath(ctx, str)
			} else {
				v = str
			}
		}
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", v)
		return v, nil

	case "@list":
		ret := []any{}
		if e.Arg != nil {
			v, err := e.Arg.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			vs, err := AsList(v)
			if err != nil {
				return nil, NewExpressionError(e, err)
			}
			ret = vs
		} else {
			vs, ok := e.Literal.([]Expression)
			if !ok {
				return nil, NewExpressionError(e, errors.New("argument must be an expression list"))
			}
			for i := range vs {
				res, err := vs[i].Evaluate(ctx)
				if err != nil {
					return nil, err
				}
				ret = append(ret, res)
			}
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", ret)
		return ret, nil

	case "@dict":
		vm, ok := e.Literal.(map[string]Expression)
		if !ok {
			return nil, NewExpressionError(e, errors.New("argument must be a string->expression map"))
		}

		ret := Unstructured{}
		for k, exp := range vm {
			res, err := exp.Evaluate(ctx)
			if err != nil {
				return nil, err
			}
			ret[k] = res
		}

		ctx.Log.V(8).Info("eval ready", "expression", e.String(), "result", ret)
		return ret, nil

	case "@cond": // [cond, then, else]: only the selected branch is evaluated
		args, err := AsExpOrList(e.Arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		if len(args) != 3 {
			return nil, NewExpressionError(e, errors.New("expected 3 arguments"))
		}

		c, err := args[0].Evaluate(ctx)
		if err != nil {
			return nil, err
		}
		b, err := AsBool(c)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		if b {
			return args[1].Evaluate(ctx)
		}
		return args[2].Evaluate(ctx)
	}

	// operators: evaluate the argument first
	if e.Arg == nil {
		return nil, NewExpressionError(e, errors.New("empty argument list"))
	}

	arg, err := e.Arg.Evaluate(ctx)
	if err != nil {
		return nil, err
	}

	var v any
	switch e.Op {
	case "@var":
		name, err := AsString(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		p, err := property.ParsePath(name)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		v, _ = property.Resolve(ctx.Vars, p)

	case "@isnil":
		v = arg == nil

	case "@exists":
		v = arg != nil

	case "@not":
		b, err := AsBool(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		v = !b

	case "@and", "@or":
		args, err := AsBoolList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		res := e.Op == "@and"
		for _, b := range args {
			if e.Op == "@and" {
				res = res && b
			} else {
				res = res || b
			}
		}
		v = res

	case "@eq", "@neq":
		args, err := AsList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		if len(args) != 2 {
			return nil, NewExpressionError(e, errors.New("expected 2 arguments"))
		}
		eq := equal(args[0], args[1])
		v = eq == (e.Op == "@eq")

	case "@lt", "@lte", "@gt", "@gte":
		v, err = compare(e.Op, arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

	case "@add", "@sub", "@mul", "@div":
		v, err = arithmetic(e.Op, arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}

	case "@abs":
		is, fs, kind, err := AsIntOrFloatList([]any{arg})
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		if kind == reflect.Int64 {
			v = max(is[0], -is[0])
		} else {
			v = math.Abs(fs[0])
		}

	case "@len":
		switch x := arg.(type) {
		case string:
			v = int64(len(x))
		case Unstructured:
			v = int64(len(x))
		default:
			args, err := AsList(arg)
			if err != nil {
				return nil, NewExpressionError(e, err)
			}
			v = int64(len(args))
		}

	case "@in": // [elem, list]
		args, err := AsList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		if len(args) != 2 {
			return nil, NewExpressionError(e, errors.New("expected 2 arguments"))
		}
		list, err := AsList(args[1])
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		found := false
		for i := range list {
			if equal(list[i], args[0]) {
				found = true
				break
			}
		}
		v = found

	case "@concat":
		args, err := AsStringList(arg)
		if err != nil {
			return nil, NewExpressionError(e, err)
		}
		v = strings.Join(args, "")

	default:
		return nil, NewExpressionError(e, errors.New("unknown op"))
	}

	ctx.Log.V(8).Info("eval ready", "expression", e.String(), "arg", arg, "result", v)
	return v, nil
}

// GetJSONPath resolves a "$."-prefixed reference against the current element. Other strings are
// returned verbatim.
func GetJSONPath(ctx EvalCtx, key string) (any, error) {
	if key != "$" && !strings.HasPrefix(key, "$.") {
		return key, nil
	}

	if p, err := property.ParsePath(key); err == nil {
		v, _ := property.Resolve(ctx.Object, p)
		return v, nil
	}

	// complex JSONPath: evaluate over the unstructured form of the element
	x, err := jp.ParseString(key)
	if err != nil {
		return nil, NewInvalidArgumentsError(fmt.Sprintf("invalid JSONPath %q: %s", key, err))
	}
	obj := ctx.Object
	if u, ok := obj.(interface{ Unstructured() map[string]any }); ok {
		obj = u.Unstructured()
	}
	res := x.Get(obj)
	switch len(res) {
	case 0:
		return nil, nil
	case 1:
		return res[0], nil
	default:
		return res, nil
	}
}

func equal(a, b any) bool {
	is, fs, kind, err := AsIntOrFloatList([]any{a, b})
	if err == nil {
		if kind == reflect.Int64 {
			return is[0] == is[1]
		}
		return fs[0] == fs[1]
	}
	return reflect.DeepEqual(a, b)
}

func compare(op string, arg any) (bool, error) {
	if ss, err := AsBinaryStringList(arg); err == nil && isStringPair(arg) {
		c := strings.Compare(ss[0], ss[1])
		return cmpResult(op, c), nil
	}

	is, fs, kind, err := AsBinaryIntOrFloatList(arg)
	if err != nil {
		return false, err
	}
	c := 0
	if kind == reflect.Int64 {
		switch {
		case is[0] < is[1]:
			c = -1
		case is[0] > is[1]:
			c = 1
		}
	} else {
		switch {
		case fs[0] < fs[1]:
			c = -1
		case fs[0] > fs[1]:
			c = 1
		}
	}
	return cmpResult(op, c), nil
}

func isStringPair(arg any) bool {
	args, ok := arg.([]any)
	if !ok || len(args) != 2 {
		return false
	}
	_, ok1 := args[0].(string)
	_, ok2 := args[1].(string)
	return ok1 && ok2
}

func cmpResult(op string, c int) bool {
	switch op {
	case "@lt":
		return c < 0
	case "@lte":
		return c <= 0
	case "@gt":
		return c > 0
	default:
		return c >= 0
	}
}

func arithmetic(op string, arg any) (any, error) {
	is, fs, kind, err := AsIntOrFloatList(arg)
	if err != nil {
		return nil, err
	}
	if len(is)+len(fs) == 0 {
		return nil, errors.New("empty argument list")
	}

	if kind == reflect.Int64 {
		v := is[0]
		for _, x := range is[1:] {
			switch op {
			case "@add":
				v += x
			case "@sub":
				v -= x
			case "@mul":
				v *= x
			case "@div":
				if x == 0 {
					return nil, errors.New("division by zero")
				}
				v /= x
			}
		}
		return v, nil
	}

	v := fs[0]
	for _, x := range fs[1:] {
		switch op {
		case "@add":
			v += x
		case "@sub":
			v -= x
		case "@mul":
			v *= x
		case "@div":
			if x == 0 {
				return nil, errors.New("division by zero")
			}
			v /= x
		}
	}
	return v, nil
}
