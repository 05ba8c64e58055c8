package expression

import (
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/l7mp/livequery/pkg/property"
)

// Dependencies lists the properties an expression reads.
type Dependencies struct {
	// Paths are the element property paths in dotted form. The empty path stands for the whole
	// element and is reported for JSONPaths that cannot be reduced to a property chain.
	Paths []string
	// Vars are the names of the external variables.
	Vars []string
}

// Dependencies walks the expression and collects the properties it reads.
func (e *Expression) Dependencies() Dependencies {
	paths, vars := sets.New[string](), sets.New[string]()
	e.walk(paths, vars)
	return Dependencies{Paths: sets.List(paths), Vars: sets.List(vars)}
}

func (e *Expression) walk(paths, vars sets.Set[string]) {
	if e == nil {
		return
	}

	switch e.Op {
	case "@string":
		if e.Arg != nil {
			e.Arg.walk(paths, vars)
			return
		}
		s, ok := e.Literal.(string)
		if !ok || (s != "$" && !strings.HasPrefix(s, "$.")) {
			return
		}
		p, err := property.ParsePath(s)
		if err != nil {
			paths.Insert("")
			return
		}
		paths.Insert(p.String())

	case "@var":
		if e.Arg != nil && e.Arg.Op == "@string" && e.Arg.Arg == nil {
			if s, ok := e.Arg.Literal.(string); ok {
				vars.Insert(s)
				return
			}
		}
		// computed variable name: depends on every variable
		vars.Insert("")
		e.Arg.walk(paths, vars)

	case "@list":
		if e.Arg != nil {
			e.Arg.walk(paths, vars)
			return
		}
		if es, ok := e.Literal.([]Expression); ok {
			for i := range es {
				es[i].walk(paths, vars)
			}
		}

	case "@dict":
		if es, ok := e.Literal.(map[string]Expression); ok {
			for k := range es {
				exp := es[k]
				exp.walk(paths, vars)
			}
		}

	default:
		e.Arg.walk(paths, vars)
	}
}
