package pipeline

import (
	"errors"
	"fmt"

	"sigs.k8s.io/yaml"

	"github.com/l7mp/livequery/pkg/collection"
	"github.com/l7mp/livequery/pkg/expression"
	"github.com/l7mp/livequery/pkg/property"
)

// Document is a self-contained live query scenario: a data set, variables, a pipeline and a
// script of mutations to apply to the data set.
type Document struct {
	Objects   []map[string]any        `json:"objects"`
	Vars      map[string]any          `json:"vars,omitempty"`
	Pipeline  []expression.Expression `json:"pipeline"`
	Mutations []Mutation              `json:"mutations,omitempty"`
}

// Mutation is a single scripted change. Exactly one field must be set.
type Mutation struct {
	// Set sets a property of the object at the given position of the source.
	Set *SetStep `json:"set,omitempty"`
	// SetVar sets a variable.
	SetVar *SetStep `json:"setVar,omitempty"`
	// Add appends an object to the source.
	Add map[string]any `json:"add,omitempty"`
	// Remove removes the object at the given position of the source.
	Remove *int `json:"remove,omitempty"`
	// Move moves an object within the source.
	Move *MoveStep `json:"move,omitempty"`
}

type SetStep struct {
	Index    int    `json:"index,omitempty"`
	Property string `json:"property"`
	Value    any    `json:"value"`
}

type MoveStep struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// ParseDocument decodes a YAML or JSON document.
func ParseDocument(doc []byte) (*Document, error) {
	d := &Document{}
	if err := yaml.Unmarshal(doc, d); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if len(d.Pipeline) == 0 {
		return nil, errors.New("failed to parse document: no pipeline")
	}
	return d, nil
}

// Source creates the source collection holding the objects of the document.
func (d *Document) Source(opts collection.Options) *collection.Collection[Object] {
	objs := make([]Object, 0, len(d.Objects))
	for _, o := range d.Objects {
		objs = append(objs, property.FromUnstructured(o))
	}
	return collection.NewFrom(objs, opts)
}

// Variables creates the variable object of the document.
func (d *Document) Variables() *property.Object {
	return property.FromUnstructured(d.Vars)
}

// String describes the mutation.
func (m Mutation) String() string {
	switch {
	case m.Set != nil:
		return fmt.Sprintf("set [%d].%s=%v", m.Set.Index, m.Set.Property, m.Set.Value)
	case m.SetVar != nil:
		return fmt.Sprintf("setVar %s=%v", m.SetVar.Property, m.SetVar.Value)
	case m.Add != nil:
		return fmt.Sprintf("add %v", m.Add)
	case m.Remove != nil:
		return fmt.Sprintf("remove [%d]", *m.Remove)
	case m.Move != nil:
		return fmt.Sprintf("move [%d]->[%d]", m.Move.From, m.Move.To)
	default:
		return "noop"
	}
}

// Apply performs the mutation on the source and the variables.
func (m Mutation) Apply(src *collection.Collection[Object], vars *property.Object) error {
	switch {
	case m.Set != nil:
		o, err := src.At(m.Set.Index)
		if err != nil {
			return err
		}
		return property.SetPath(o, m.Set.Property, normalize(m.Set.Value))
	case m.SetVar != nil:
		return property.SetPath(vars, m.SetVar.Property, normalize(m.SetVar.Value))
	case m.Add != nil:
		return src.Add(property.FromUnstructured(m.Add))
	case m.Remove != nil:
		return src.RemoveAt(*m.Remove)
	case m.Move != nil:
		return src.Move(m.Move.From, m.Move.To)
	default:
		return errors.New("empty mutation")
	}
}

func normalize(v any) any {
	if m, ok := v.(map[string]any); ok {
		return property.FromUnstructured(m)
	}
	return v
}
