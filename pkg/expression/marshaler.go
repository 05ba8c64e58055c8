package expression

import (
	"bytes"
	"fmt"

	"k8s.io/apimachinery/pkg/util/json"
)

func (e *Expression) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*e = Expression{Op: "@nil"}
		return nil
	}

	// try to unmarshal as a bool terminal expression
	bv := false
	if err := json.Unmarshal(b, &bv); err == nil {
		*e = Expression{Op: "@bool", Literal: bv}
		return nil
	}

	// try to unmarshal as an int terminal expression
	var iv int64 = 0
	if err := json.Unmarshal(b, &iv); err == nil {
		*e = Expression{Op: "@int", Literal: iv}
		return nil
	}

	// try to unmarshal as a float terminal expression
	fv := 0.0
	if err := json.Unmarshal(b, &fv); err == nil {
		*e = Expression{Op: "@float", Literal: fv}
		return nil
	}

	// try to unmarshal as a string terminal expression
	sv := ""
	if err := json.Unmarshal(b, &sv); err == nil {
		*e = Expression{Op: "@string", Literal: sv}
		return nil
	}

	// try to unmarshal as a literal list expression
	mv := []Expression{}
	if err := json.Unmarshal(b, &mv); err == nil {
		*e = Expression{Op: "@list", Literal: mv}
		return nil
	}

	// try to unmarshal as a map expression
	cv := map[string]Expression{}
	if err := json.Unmarshal(b, &cv); err == nil {
		// an op has a single key that starts with @
		if len(cv) == 1 {
			for op, exp := range cv {
				if len(op) > 0 && op[0] == '@' {
					exp := exp
					*e = Expression{Op: op, Arg: &exp}
					return nil
				}
			}
		}

		*e = Expression{Op: "@dict", Literal: cv}
		return nil
	}

	return NewUnmarshalError("expression", string(b))
}

func (e *Expression) MarshalJSON() ([]byte, error) {
	switch e.Op {
	case "@nil":
		return []byte("null"), nil

	case "@bool", "@int", "@float", "@string":
		if e.Arg != nil {
			// keep the op for a correct round-trip
			ret := map[string]*Expression{e.Op: e.Arg}
			return json.Marshal(ret)
		}
		var v any
		var err error
		switch e.Op {
		case "@bool":
			v, err = AsBool(e.Literal)
		case "@int":
			v, err = AsInt(e.Literal)
		case "@float":
			v, err = AsFloat(e.Literal)
		default:
			v, err = AsString(e.Literal)
		}
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)

	case "@list":
		if e.Arg != nil {
			return json.Marshal(map[string]*Expression{e.Op: e.Arg})
		}
		es, ok := e.Literal.([]Expression)
		if !ok {
			return nil, fmt.Errorf("invalid expression list: %#v", e)
		}
		return json.Marshal(es)

	case "@dict":
		es, ok := e.Literal.(map[string]Expression)
		if !ok {
			return nil, fmt.Errorf("invalid expression map: %#v", e)
		}
		em := make(map[string]*Expression, len(es))
		for k, v := range es {
			v := v
			em[k] = &v
		}
		return json.Marshal(em)

	default:
		if len(e.Op) == 0 || e.Op[0] != '@' {
			return nil, fmt.Errorf("expected an op starting with @, got %#v", e)
		}
		return json.Marshal(map[string]*Expression{e.Op: e.Arg})
	}
}

func (e *Expression) String() string {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf("<%s>", e.Op)
	}
	return string(b)
}

// DeepCopyInto copies the expression tree.
func (e *Expression) DeepCopyInto(out *Expression) {
	if e == nil || out == nil {
		return
	}
	*out = *e

	j, err := json.Marshal(e)
	if err != nil {
		return
	}
	_ = json.Unmarshal(j, out)
}
