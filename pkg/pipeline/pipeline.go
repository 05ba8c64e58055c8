// Package pipeline compiles declarative live queries into chains of operators.
//
// A pipeline is an ordered list of stages, each a single-key map:
//
//	- "@where": {"@gt": ["$.spec.replicas", {"@var": "limits.min"}]}
//	- "@select": {"name": "$.metadata.name", "replicas": "$.spec.replicas"}
//	- "@orderBy": [{"@desc": "$.replicas"}, "$.name"]
//	- "@distinct": true
//	- "@groupBy": ["$.class", "$.grade"]
//	- "@unwind": "$.spec.ports"
//
// Elements are observable objects. The property paths read by each stage are wired into the
// dependency tracking of the operator, variables are bound to a named observable object.
package pipeline

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/go-logr/logr"
	"sigs.k8s.io/yaml"

	"github.com/l7mp/livequery/pkg/collection"
	"github.com/l7mp/livequery/pkg/dependency"
	"github.com/l7mp/livequery/pkg/expression"
	"github.com/l7mp/livequery/pkg/metrics"
	"github.com/l7mp/livequery/pkg/operator"
	"github.com/l7mp/livequery/pkg/property"
	"github.com/l7mp/livequery/pkg/util"
)

// Object is the element type of pipelines.
type Object = *property.Object

var _ operator.Query[Object] = &Pipeline{}

// Options configures a Pipeline.
type Options struct {
	// Name prefixes the names of the operators, defaults to "pipeline".
	Name   string
	Logger logr.Logger
	// Vars holds the external variables referenced with @var.
	Vars    *property.Object
	Metrics *metrics.Recorder
}

// Pipeline is a live query built from declarative stages.
type Pipeline struct {
	name   string
	stages []expression.Expression
	nodes  []operator.Query[Object]
	result operator.Query[Object]
	log    logr.Logger
}

// Parse decodes a YAML or JSON list of stages.
func Parse(doc []byte) ([]expression.Expression, error) {
	stages := []expression.Expression{}
	if err := yaml.Unmarshal(doc, &stages); err != nil {
		return nil, NewPipelineError(err)
	}
	return stages, nil
}

// NewFromYAML parses a list of stages and compiles it over src.
func NewFromYAML(src collection.Observable[Object], doc []byte, opts Options) (*Pipeline, error) {
	stages, err := Parse(doc)
	if err != nil {
		return nil, err
	}
	return New(src, stages, opts)
}

// New compiles a list of stages over src. Nothing is evaluated until the result is first read.
func New(src collection.Observable[Object], stages []expression.Expression, opts Options) (*Pipeline, error) {
	if src == nil {
		return nil, NewPipelineError(errors.New("nil source"))
	}
	if len(stages) == 0 {
		return nil, NewPipelineError(errors.New("empty pipeline"))
	}

	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}
	name := opts.Name
	if name == "" {
		name = "pipeline"
	}

	p := &Pipeline{
		name:   name,
		stages: stages,
		log:    logger.WithName("pipeline").WithValues("name", name),
	}

	cur := src
	for i := range stages {
		q, err := p.compile(i, &stages[i], cur, opts)
		if err != nil {
			p.Dispose()
			return nil, err
		}
		p.nodes = append(p.nodes, q)
		cur = q
	}
	p.result = p.nodes[len(p.nodes)-1]

	p.log.V(1).Info("pipeline ready", "stages", p.String())

	return p, nil
}

func (p *Pipeline) compile(i int, stage *expression.Expression, src collection.Observable[Object], opts Options) (operator.Query[Object], error) {
	if stage.Arg == nil {
		return nil, NewStageError(i, stage.Op, errors.New("stage must be a single-key map"))
	}
	arg := stage.Arg
	op := strings.TrimPrefix(stage.Op, "@")

	switch stage.Op {
	case "@where":
		o, err := p.operatorOptions(i, op, opts, arg)
		if err != nil {
			return nil, err
		}
		return operator.Where(src, expression.Predicate[Object](arg, opts.Vars, p.log), o)

	case "@select":
		o, err := p.operatorOptions(i, op, opts, arg)
		if err != nil {
			return nil, err
		}
		sel := expression.Selector[Object](arg, opts.Vars, p.log)
		return operator.Select(src, func(item Object) (Object, error) {
			v, err := sel(item)
			if err != nil {
				return nil, err
			}
			return asObject(v)
		}, o)

	case "@orderBy":
		return p.compileOrderBy(i, op, arg, src, opts)

	case "@distinct":
		o, err := p.operatorOptions(i, op, opts)
		if err != nil {
			return nil, err
		}
		return operator.Distinct(src, o)

	case "@groupBy":
		return p.compileGroupBy(i, op, arg, src, opts)

	case "@unwind":
		return p.compileUnwind(i, op, arg, src, opts)

	default:
		return nil, NewStageError(i, stage.Op, errors.New("unknown stage"))
	}
}

type orderKey struct {
	expr       *expression.Expression
	descending bool
}

func (p *Pipeline) compileOrderBy(i int, op string, arg *expression.Expression, src collection.Observable[Object], opts Options) (operator.Query[Object], error) {
	exps, err := expression.AsExpOrList(arg)
	if err != nil {
		return nil, NewStageError(i, op, err)
	}
	if len(exps) == 0 {
		return nil, NewStageError(i, op, errors.New("no sort keys"))
	}

	keys := make([]orderKey, 0, len(exps))
	for j := range exps {
		k := orderKey{expr: &exps[j]}
		if k.expr.Op == "@desc" || k.expr.Op == "@asc" {
			if k.expr.Arg == nil {
				return nil, NewStageError(i, op, fmt.Errorf("empty %s key", k.expr.Op))
			}
			k.descending = k.expr.Op == "@desc"
			k.expr = k.expr.Arg
		}
		keys = append(keys, k)
	}

	var sorted *operator.Sorted[Object]
	for j, k := range keys {
		o, err := p.operatorOptions(i, op, opts, k.expr)
		if err != nil {
			return nil, err
		}
		keyFn := expression.Key[Object](k.expr, opts.Vars, p.log)
		if j == 0 {
			sorted, err = operator.OrderByFunc(src, keyFn, expression.CompareKeys, k.descending, o)
		} else {
			// the refined operator reads the source directly, the parent is never loaded
			parent := sorted
			sorted, err = operator.ThenByFunc(parent, keyFn, expression.CompareKeys, k.descending, o)
			parent.Dispose()
		}
		if err != nil {
			return nil, NewStageError(i, op, err)
		}
	}

	return sorted, nil
}

// operatorOptions names the operator of stage i and derives its dependencies from the stage
// expressions.
func (p *Pipeline) operatorOptions(i int, op string, opts Options, exps ...*expression.Expression) (operator.Options, error) {
	o := operator.Options{
		Name:    fmt.Sprintf("%s[%d]:%s", p.name, i, op),
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	}

	for _, e := range exps {
		deps := e.Dependencies()
		o.DependsOn = append(o.DependsOn, deps.Paths...)
		for _, v := range deps.Vars {
			if opts.Vars == nil {
				return operator.Options{}, NewStageError(i, op,
					fmt.Errorf("variable %q referenced but no variables are bound", v))
			}
			o.External = append(o.External, dependency.External{Object: opts.Vars, Path: v})
		}
	}

	return o, nil
}

func asObject(v any) (Object, error) {
	switch x := v.(type) {
	case *property.Object:
		return x, nil
	case map[string]any:
		return property.NewObject(x), nil
	default:
		return nil, NewInvalidObjectError(fmt.Sprintf("selector must produce an object, got %s",
			util.Stringify(v)))
	}
}

// Stages returns the number of stages.
func (p *Pipeline) Stages() int { return len(p.stages) }

// String renders the stages.
func (p *Pipeline) String() string {
	ss := util.Map(func(e expression.Expression) string { return e.String() }, p.stages)
	return "[" + strings.Join(ss, ",") + "]"
}

func (p *Pipeline) Info() collection.Info { return p.result.Info() }

func (p *Pipeline) Observe(h collection.Handler[Object]) ([]Object, *collection.Subscription[Object], error) {
	return p.result.Observe(h)
}

func (p *Pipeline) Snapshot() ([]Object, error) { return p.result.Snapshot() }

func (p *Pipeline) Count() (int, error) { return p.result.Count() }

func (p *Pipeline) At(i int) (Object, error) { return p.result.At(i) }

func (p *Pipeline) All() iter.Seq2[int, Object] { return p.result.All() }

func (p *Pipeline) IsLoading() bool { return p.result.IsLoading() }

// Refresh recomputes every stage, upstream first.
func (p *Pipeline) Refresh() error {
	for _, n := range p.nodes {
		if err := n.Refresh(); err != nil {
			return err
		}
	}
	return nil
}

// Dispose disposes the operators, downstream first.
func (p *Pipeline) Dispose() {
	for i := len(p.nodes) - 1; i >= 0; i-- {
		p.nodes[i].Dispose()
	}
	p.log.V(1).Info("pipeline disposed")
}
