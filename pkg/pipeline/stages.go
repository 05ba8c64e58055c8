package pipeline

import (
	"errors"

	"github.com/l7mp/livequery/pkg/collection"
	"github.com/l7mp/livequery/pkg/expression"
	"github.com/l7mp/livequery/pkg/operator"
	"github.com/l7mp/livequery/pkg/property"
	"github.com/l7mp/livequery/pkg/util"
)

// compileGroupBy builds a "@groupBy" stage. The argument is a key expression or a [key, value]
// pair. Every group becomes an object {"key": ..., "items": [...]} listing the elements of the
// group, or their values, in source order. The object is updated in place as the group changes.
func (p *Pipeline) compileGroupBy(i int, op string, arg *expression.Expression, src collection.Observable[Object], opts Options) (operator.Query[Object], error) {
	keyExp, valueExp := arg, (*expression.Expression)(nil)
	if arg.Op == "@list" {
		exps, err := expression.AsExpOrList(arg)
		if err != nil {
			return nil, NewStageError(i, op, err)
		}
		if len(exps) != 2 {
			return nil, NewStageError(i, op, errors.New("argument must be a key or a [key, value] pair"))
		}
		keyExp, valueExp = &exps[0], &exps[1]
	}

	o, err := p.operatorOptions(i, op, opts, keyExp)
	if err != nil {
		return nil, err
	}
	keyFn := expression.Key[Object](keyExp, opts.Vars, p.log)
	groups, err := operator.GroupBy(src, func(item Object) (string, error) {
		k, err := keyFn(item)
		if err != nil {
			return "", err
		}
		return util.Stringify(k), nil
	}, operator.GroupOptions[string]{Options: o})
	if err != nil {
		return nil, NewStageError(i, op, err)
	}

	g := &groupProjector{
		key: expression.Selector[Object](keyExp, opts.Vars, p.log),
	}
	if valueExp != nil {
		if g.valueOpts, err = p.operatorOptions(i, op, opts, valueExp); err != nil {
			groups.Dispose()
			return nil, err
		}
		g.valueOpts.Name = ""
		g.value = expression.Selector[Object](valueExp, opts.Vars, p.log)
	}

	// groupings are not observable objects, there is nothing to track
	so := o
	so.DependsOn, so.External = nil, nil
	sel, err := operator.Select(groups, g.project, so)
	if err != nil {
		groups.Dispose()
		return nil, NewStageError(i, op, err)
	}
	sel.Own(groups)
	return sel, nil
}

type groupProjector struct {
	key       func(Object) (any, error)
	value     func(Object) (any, error)
	valueOpts operator.Options
}

// project turns a grouping into an object whose items follow the grouping.
func (g *groupProjector) project(grouping *operator.Grouping[string, Object]) (Object, error) {
	members, err := grouping.Snapshot()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, errors.New("empty group")
	}
	key, err := g.key(members[0])
	if err != nil {
		return nil, err
	}

	var items collection.Observable[Object] = grouping
	if g.value != nil {
		values, err := operator.Select(grouping, func(item Object) (Object, error) {
			v, err := g.value(item)
			if err != nil {
				return nil, err
			}
			return property.NewObject(map[string]any{"value": v}), nil
		}, g.valueOpts)
		if err != nil {
			return nil, err
		}
		grouping.Own(values)
		items = values
	}

	out := property.NewObject(map[string]any{"key": key})
	elems, _, err := items.Observe(func(collection.ChangeEvent[Object]) error {
		elems, err := items.Snapshot()
		if errors.Is(err, collection.ErrDisposed) {
			return nil
		}
		if err != nil {
			return err
		}
		return out.Set("items", g.list(elems))
	})
	if err != nil {
		return nil, err
	}
	if err := out.Set("items", g.list(elems)); err != nil {
		return nil, err
	}
	return out, nil
}

func (g *groupProjector) list(elems []Object) []any {
	ret := make([]any, len(elems))
	for i, e := range elems {
		if g.value == nil {
			ret[i] = e
			continue
		}
		ret[i], _ = e.Get("value")
	}
	return ret
}

// compileUnwind builds an "@unwind" stage. The argument is the property path of a list; every
// element produces one copy of itself per list entry, with the list replaced by the entry.
func (p *Pipeline) compileUnwind(i int, op string, arg *expression.Expression, src collection.Observable[Object], opts Options) (operator.Query[Object], error) {
	s, ok := arg.Literal.(string)
	if arg.Op != "@string" || !ok {
		return nil, NewStageError(i, op, errors.New("argument must be a property path"))
	}
	path, err := property.ParsePath(s)
	if err != nil {
		return nil, NewStageError(i, op, err)
	}
	if len(path) == 0 {
		return nil, NewStageError(i, op, errors.New("cannot unwind the element itself"))
	}

	o, err := p.operatorOptions(i, op, opts, arg)
	if err != nil {
		return nil, err
	}
	sel := expression.Selector[Object](arg, opts.Vars, p.log)
	return operator.SelectMany(src, func(item Object) (collection.Observable[Object], error) {
		v, err := sel(item)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return collection.New[Object](collection.Options{}), nil
		}
		entries, err := expression.AsList(v)
		if err != nil {
			return nil, err
		}
		out := make([]Object, 0, len(entries))
		for _, entry := range entries {
			u := item.Unstructured()
			if err := setPath(u, path, entry); err != nil {
				return nil, err
			}
			out = append(out, property.FromUnstructured(u))
		}
		return collection.NewFrom(out, collection.Options{}), nil
	}, o)
}

// setPath stores v at path in an unstructured tree.
func setPath(u map[string]any, path property.Path, v any) error {
	if o, ok := v.(interface{ Unstructured() map[string]any }); ok {
		v = o.Unstructured()
	}
	cur := u
	for _, name := range path[:len(path)-1] {
		next, ok := cur[name].(map[string]any)
		if !ok {
			return NewInvalidObjectError("cannot unwind " + path.String() + ": " + name + " is not an object")
		}
		cur = next
	}
	cur[path[len(path)-1]] = v
	return nil
}
