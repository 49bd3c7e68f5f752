package tgen

import (
	"fmt"

	"github.com/heimdalr/dag"
)

// vertex adapts an Action to heimdalr/dag's IDInterface so the library
// can own acyclicity checking for us.
type vertex struct {
	id string
	a  Action
}

func (v *vertex) ID() string { return v.id }

// Graph is a read-only DAG of typed action vertices.
// Acyclicity and vertex-existence are validated by github.com/heimdalr/dag
// at build time; traversal order is kept separately in successors,
// because edge order matters for the driver: successors may include
// the same vertex via multiple in-edges, and for Pause vertices acting
// as synchronization barriers this is observable. The backing DAG library indexes
// children by map, which does not promise insertion order.
type Graph struct {
	d          *dag.DAG
	actions    map[string]Action
	successors map[string][]string
	startID    string
	edgeCount  int
}

// NewGraph builds an empty graph. Callers add the Start vertex first.
func NewGraph() *Graph {
	return &Graph{
		d:          dag.NewDAG(),
		actions:    make(map[string]Action),
		successors: make(map[string][]string),
	}
}

// AddAction registers a vertex. The first Start vertex added becomes
// the graph's unique start; adding a second Start is an error.
func (g *Graph) AddAction(id string, a Action) error {
	if _, exists := g.actions[id]; exists {
		return fmt.Errorf("%w: duplicate action id %q", ErrGraphFailure, id)
	}
	if a.Kind == ActionStart {
		if g.startID != "" {
			return fmt.Errorf("%w: more than one start action", ErrGraphFailure)
		}
		g.startID = id
	}
	if _, err := g.d.AddVertex(&vertex{id: id, a: a}); err != nil {
		return fmt.Errorf("%w: %v", ErrGraphFailure, err)
	}
	a.ID = id
	g.actions[id] = a
	return nil
}

// AddEdge adds a directed edge from -> to, in the order callers declare
// them; order is preserved for successors(from). heimdalr/dag rejects
// edges that would introduce a cycle or reference an unknown vertex.
func (g *Graph) AddEdge(from, to string) error {
	if _, ok := g.actions[from]; !ok {
		return fmt.Errorf("%w: unknown source action %q", ErrGraphFailure, from)
	}
	if _, ok := g.actions[to]; !ok {
		return fmt.Errorf("%w: unknown destination action %q", ErrGraphFailure, to)
	}
	if err := g.d.AddEdge(from, to); err != nil {
		return fmt.Errorf("%w: %v", ErrGraphFailure, err)
	}
	g.successors[from] = append(g.successors[from], to)
	g.edgeCount++
	return nil
}

// Start returns the id and Action of the graph's unique Start vertex.
func (g *Graph) Start() (string, Action, error) {
	if g.startID == "" {
		return "", Action{}, fmt.Errorf("%w: no start action", ErrGraphFailure)
	}
	return g.startID, g.actions[g.startID], nil
}

// Action returns the Action stored at id.
func (g *Graph) Action(id string) (Action, bool) {
	a, ok := g.actions[id]
	return a, ok
}

// Successors returns a new, order-preserving queue of every action that
// id has an outgoing edge to. A vertex reachable via multiple in-edges
// from elsewhere still appears once per edge when it is itself the
// source of those edges -- this method only reports id's own
// successors, so duplicate entries only arise if the caller recorded
// the same edge twice.
func (g *Graph) Successors(id string) []Action {
	ids := g.successors[id]
	out := make([]Action, 0, len(ids))
	for _, sid := range ids {
		out = append(out, g.actions[sid])
	}
	return out
}

// InDegree returns the number of incoming edges recorded for id, used
// to size a Pause vertex's synchronization-barrier threshold.
func (g *Graph) InDegree(id string) int {
	n := 0
	for _, succs := range g.successors {
		for _, s := range succs {
			if s == id {
				n++
			}
		}
	}
	return n
}

// HasEdges reports whether the graph has any edge at all, used by the
// driver to decide whether to start the client side.
func (g *Graph) HasEdges() bool {
	return g.edgeCount > 0
}

// IDString returns a stable log identifier for a vertex.
func (g *Graph) IDString(id string) string {
	return id
}
