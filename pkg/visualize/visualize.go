// Package visualize renders live query graphs as diagrams.
package visualize

import (
	"fmt"
	"strings"

	"github.com/emicklei/dot"

	"github.com/l7mp/livequery/pkg/collection"
)

// Graph is the visualization graph of one or more live queries.
type Graph struct {
	Name  string
	Nodes []Node
	Edges []Edge
}

// Node is a source collection or an operator.
type Node struct {
	ID     string
	Kind   string
	Name   string
	Detail string
	// Sink is set for the queries the graph was built from.
	Sink bool
}

// Edge connects an input to the node reading it.
type Edge struct {
	From, To string
}

// IsSource reports whether the node is a source collection.
func (n Node) IsSource() bool { return n.Kind == "collection" }

// Label is the display label of the node.
func (n Node) Label() string {
	label := n.Kind
	if n.Name != "" {
		label = fmt.Sprintf("%s: %s", n.Name, n.Kind)
	}
	if n.Detail != "" {
		label += fmt.Sprintf(" (%s)", n.Detail)
	}
	return label
}

// BuildGraph walks the given queries back to their sources.
func BuildGraph(name string, queries ...collection.Describer) *Graph {
	g := &Graph{Name: name}
	seen := map[string]int{}
	edges := map[Edge]bool{}

	var walk func(d collection.Describer) string
	walk = func(d collection.Describer) string {
		info := d.Info()
		if _, ok := seen[info.ID]; ok {
			return info.ID
		}
		seen[info.ID] = len(g.Nodes)
		g.Nodes = append(g.Nodes, Node{ID: info.ID, Kind: info.Kind, Name: info.Name, Detail: info.Detail})

		for _, in := range info.Inputs {
			if in == nil {
				continue
			}
			e := Edge{From: walk(in), To: info.ID}
			if !edges[e] {
				edges[e] = true
				g.Edges = append(g.Edges, e)
			}
		}
		return info.ID
	}

	for _, q := range queries {
		id := walk(q)
		g.Nodes[seen[id]].Sink = true
	}

	return g
}

// Sources returns the source collections of the graph.
func (g *Graph) Sources() []Node {
	ret := []Node{}
	for _, n := range g.Nodes {
		if n.IsSource() {
			ret = append(ret, n)
		}
	}
	return ret
}

// BuildDotGraph creates a dot.Graph from the visualization graph.
func BuildDotGraph(g *Graph) *dot.Graph {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("rankdir", "LR")
	graph.Attr("newrank", "true")
	if g.Name != "" {
		graph.Attr("label", g.Name)
		graph.Attr("labelloc", "t")
		graph.Attr("fontsize", "16")
	}

	nodes := make(map[string]dot.Node, len(g.Nodes))
	for _, n := range g.Nodes {
		node := graph.Node(n.ID).
			Attr("label", n.Label()).
			Attr("fontname", "helvetica")

		switch {
		case n.IsSource():
			node.Attr("shape", "ellipse").
				Attr("style", "filled").
				Attr("fillcolor", "lightgreen")
		case n.Sink:
			node.Attr("shape", "box").
				Attr("style", "filled,rounded").
				Attr("fillcolor", "lightcyan").
				Attr("color", "darkblue").
				Attr("penwidth", "2")
		default:
			node.Attr("shape", "box").
				Attr("style", "filled,rounded").
				Attr("fillcolor", "lightblue").
				Attr("color", "darkblue")
		}
		nodes[n.ID] = node
	}

	for _, e := range g.Edges {
		from, ok1 := nodes[e.From]
		to, ok2 := nodes[e.To]
		if ok1 && ok2 {
			graph.Edge(from, to)
		}
	}

	return graph
}

// Generator renders a graph into a textual diagram.
type Generator interface {
	Generate(g *Graph) string
}

// NewGenerator returns the generator for the given format: "dot" or "mermaid".
func NewGenerator(format string) (Generator, error) {
	switch strings.ToLower(format) {
	case "dot", "graphviz":
		return &DotGenerator{}, nil
	case "mermaid":
		return &MermaidGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown diagram format %q", format)
	}
}
