package property

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// Path is a parsed property path, a chain of property names rooted at an element.
type Path []string

// String renders the path in dotted form.
func (p Path) String() string { return strings.Join(p, ".") }

// ParsePath parses a dotted property path ("address.city") or a JSONPath child chain
// ("$.address.city", "$['address']['city']"). The empty path and "$" denote the element itself.
// Paths with wildcards, filters, or indexes are rejected.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "$" || s == "$." {
		return Path{}, nil
	}
	if !strings.HasPrefix(s, "$") {
		s = "$." + s
	}

	x, err := jp.ParseString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid property path %q: %w", s, err)
	}

	ret := Path{}
	for _, frag := range x {
		switch f := frag.(type) {
		case jp.Root, jp.At, jp.Bracket:
			continue
		case jp.Child:
			ret = append(ret, string(f))
		default:
			return nil, fmt.Errorf("invalid property path %q: unsupported segment %T", s, f)
		}
	}
	return ret, nil
}

// Lookup returns a single property of v. Getters are asked directly, other values (maps, structs)
// are resolved with JSONPath.
func Lookup(v any, name string) (any, bool) {
	if v == nil {
		return nil, false
	}
	if g, ok := v.(Getter); ok {
		return g.Get(name)
	}
	res := jp.C(name).Get(v)
	if len(res) == 0 {
		return nil, false
	}
	return res[0], true
}

// Resolve walks a property path from v.
func Resolve(v any, p Path) (any, bool) {
	cur := v
	for _, name := range p {
		next, ok := Lookup(cur, name)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}
