package expression

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/l7mp/livequery/pkg/util"
)

func IsList(d any) bool {
	dv := reflect.ValueOf(d)
	return dv.Kind() == reflect.Slice || dv.Kind() == reflect.Array
}

func AsList(d any) ([]any, error) {
	if !IsList(d) {
		return nil, fmt.Errorf("argument is not a list: %s", util.Stringify(d))
	}

	ret, ok := d.([]any)
	if !ok {
		dv := reflect.ValueOf(d)
		ret = make([]any, dv.Len())
		for i := range ret {
			ret[i] = dv.Index(i).Interface()
		}
	}

	return ret, nil
}

func AsBool(d any) (bool, error) {
	if d == nil {
		return false, errors.New("argument is nil")
	}

	if reflect.ValueOf(d).Kind() == reflect.Bool {
		return reflect.ValueOf(d).Bool(), nil
	}
	return false, fmt.Errorf("argument is not a boolean: %s", util.Stringify(d))
}

func AsBoolList(d any) ([]bool, error) {
	args, err := AsList(d)
	if err != nil {
		return nil, err
	}

	ret := make([]bool, 0, len(args))
	for _, a := range args {
		b, err := AsBool(a)
		if err != nil {
			return nil, err
		}
		ret = append(ret, b)
	}
	return ret, nil
}

func AsString(d any) (string, error) {
	if d == nil {
		return "", errors.New("argument is nil")
	}

	v := reflect.ValueOf(d)
	switch v.Kind() { //nolint:exhaustive
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	}

	return "", fmt.Errorf("argument is not a string: %s", util.Stringify(d))
}

func AsStringList(d any) ([]string, error) {
	args, err := AsList(d)
	if err != nil {
		return nil, err
	}

	ret := make([]string, 0, len(args))
	for _, a := range args {
		s, err := AsString(a)
		if err != nil {
			return nil, err
		}
		ret = append(ret, s)
	}
	return ret, nil
}

func AsBinaryStringList(d any) ([]string, error) {
	vs, err := AsStringList(d)
	if err != nil {
		return nil, err
	}

	if len(vs) != 2 {
		return nil, fmt.Errorf("invalid number of arguments for a binary operator: %d", len(vs))
	}

	return vs, nil
}

func AsInt(d any) (int64, error) {
	if d == nil {
		return 0, errors.New("argument is nil")
	}

	v := reflect.ValueOf(d)
	switch v.Kind() { //nolint:exhaustive
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(v.Uint()), nil
	case reflect.String:
		if i, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return i, nil
		}
	}

	return 0, fmt.Errorf("argument is not an int: %s", util.Stringify(d))
}

func AsFloat(d any) (float64, error) {
	if d == nil {
		return 0.0, errors.New("argument is nil")
	}

	v := reflect.ValueOf(d)
	switch v.Kind() { //nolint:exhaustive
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), nil
	case reflect.String:
		if f, err := strconv.ParseFloat(v.String(), 64); err == nil {
			return f, nil
		}
	}

	return 0.0, fmt.Errorf("argument is not a float: %s", util.Stringify(d))
}

// AsIntOrFloatList converts a numeric list: the result is an int list if every element is an
// integer, a float list otherwise.
func AsIntOrFloatList(d any) ([]int64, []float64, reflect.Kind, error) {
	args, err := AsList(d)
	if err != nil {
		return nil, nil, reflect.Invalid, err
	}

	is := make([]int64, 0, len(args))
	ints := true
	for _, a := range args {
		if _, ok := a.(string); ok {
			return nil, nil, reflect.Invalid,
				fmt.Errorf("incompatible elems in numeric list: %s", util.Stringify(d))
		}
		i, err := AsInt(a)
		if err != nil {
			ints = false
			break
		}
		is = append(is, i)
	}
	if ints {
		return is, nil, reflect.Int64, nil
	}

	fs := make([]float64, 0, len(args))
	for _, a := range args {
		f, err := AsFloat(a)
		if err != nil {
			return nil, nil, reflect.Invalid,
				fmt.Errorf("incompatible elems in numeric list: %s", util.Stringify(d))
		}
		fs = append(fs, f)
	}
	return nil, fs, reflect.Float64, nil
}

func AsBinaryIntOrFloatList(d any) ([]int64, []float64, reflect.Kind, error) {
	is, fs, kind, err := AsIntOrFloatList(d)
	if err != nil {
		return is, fs, kind, err
	}

	if len(is)+len(fs) != 2 {
		return is, fs, kind,
			fmt.Errorf("invalid number (%d) of arguments in binary numeric list: %s",
				len(is)+len(fs), util.Stringify(d))
	}

	return is, fs, kind, nil
}

func AsMap(d any) (map[string]any, error) {
	ret, ok := d.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("failed to convert argument into a map: %s", util.Stringify(d))
	}

	return ret, nil
}

// AsExpOrList returns the elements of a literal expression list or the expression itself.
func AsExpOrList(e *Expression) ([]Expression, error) {
	if e == nil {
		return nil, errors.New("argument is nil")
	}

	if e.Op == "@list" && e.Arg == nil {
		ret, ok := e.Literal.([]Expression)
		if !ok {
			return nil, fmt.Errorf("internal error: list expression should contain a literal list: %s",
				e.String())
		}
		return ret, nil
	}

	return []Expression{*e}, nil
}
