package executor

import (
	"fmt"

	"github.com/weave-hq/weave/internal/core"
)

// Graph is the adjacency index computed from a DAG at load time. Loop
// semantics are interpreted by the dispatcher, not by topological sort.
type Graph struct {
	dag   *core.DAG
	nodes map[string]*core.Node
	out   map[string][]core.Edge
	in    map[string][]core.Edge
}

// NewGraph indexes a DAG. The DAG is assumed validated; only structural
// integrity needed for safe dispatch is re-checked.
func NewGraph(dag *core.DAG) (*Graph, error) {
	g := &Graph{
		dag:   dag,
		nodes: make(map[string]*core.Node, len(dag.Nodes)),
		out:   map[string][]core.Edge{},
		in:    map[string][]core.Edge{},
	}
	for i := range dag.Nodes {
		n := &dag.Nodes[i]
		if _, ok := g.nodes[n.ID]; ok {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		g.nodes[n.ID] = n
	}
	for _, e := range dag.Edges {
		if g.nodes[e.Source] == nil || g.nodes[e.Target] == nil {
			return nil, fmt.Errorf("edge %q references unknown node", e.ID)
		}
		g.out[e.Source] = append(g.out[e.Source], e)
		g.in[e.Target] = append(g.in[e.Target], e)
	}
	return g, nil
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *core.Node { return g.nodes[id] }

// OutEdges returns the outgoing edges of a node in input order.
func (g *Graph) OutEdges(id string) []core.Edge { return g.out[id] }

// InDegree counts distinct incoming edges of a node.
func (g *Graph) InDegree(id string) int { return len(g.in[id]) }

// Predecessors returns the distinct source node ids of a node's incoming
// edges.
func (g *Graph) Predecessors(id string) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range g.in[id] {
		if !seen[e.Source] {
			seen[e.Source] = true
			out = append(out, e.Source)
		}
	}
	return out
}
