package collab

import (
	"encoding/json"
	"slices"

	"github.com/dkeye/Huddle/internal/domain"
)

// Workflow is a replica of the shared node/edge graph. The server and
// every client apply the same StampedOperation sequence to their own
// Workflow and end up with the same graph.
type Workflow struct {
	nodes          []Node
	edges          []Edge
	lastModified   int64
	lastModifiedBy domain.UserID
}

// WorkflowData is the wire and snapshot form of a Workflow.
type WorkflowData struct {
	Nodes          []Node        `json:"nodes"`
	Edges          []Edge        `json:"edges"`
	LastModified   int64         `json:"lastModified"`
	LastModifiedBy domain.UserID `json:"lastModifiedBy,omitempty"`
}

// Apply runs one stamped operation. The caller validates first; an
// operation naming an absent element is a no-op on the graph but still
// moves lastModified.
func (w *Workflow) Apply(s StampedOperation) {
	op := s.Operation
	switch op.Type {
	case OpAddNode:
		if w.nodeIndex(op.Node.ID) < 0 {
			w.nodes = append(w.nodes, op.Node.clone())
		}
	case OpUpdateNode:
		if i := w.nodeIndex(op.targetID()); i >= 0 {
			n := &w.nodes[i]
			if n.Fields == nil {
				n.Fields = make(map[string]json.RawMessage)
			}
			for k, v := range op.changes() {
				if k == "id" {
					continue
				}
				n.Fields[k] = v
			}
		}
	case OpDeleteNode:
		id := op.targetID()
		w.nodes = slices.DeleteFunc(w.nodes, func(n Node) bool { return n.ID == id })
		w.edges = slices.DeleteFunc(w.edges, func(e Edge) bool { return e.Source == id || e.Target == id })
	case OpAddEdge:
		if w.edgeIndex(op.Edge.ID) < 0 {
			w.edges = append(w.edges, op.Edge.clone())
		}
	case OpDeleteEdge:
		id := op.targetID()
		w.edges = slices.DeleteFunc(w.edges, func(e Edge) bool { return e.ID == id })
	}
	w.lastModified = s.Timestamp
	w.lastModifiedBy = s.UserID
}

// Data returns a deep copy safe to hand to other goroutines.
func (w *Workflow) Data() WorkflowData {
	d := WorkflowData{
		Nodes:          make([]Node, 0, len(w.nodes)),
		Edges:          make([]Edge, 0, len(w.edges)),
		LastModified:   w.lastModified,
		LastModifiedBy: w.lastModifiedBy,
	}
	for _, n := range w.nodes {
		d.Nodes = append(d.Nodes, n.clone())
	}
	for _, e := range w.edges {
		d.Edges = append(d.Edges, e.clone())
	}
	return d
}

func (w *Workflow) HasNode(id string) bool { return w.nodeIndex(id) >= 0 }
func (w *Workflow) HasEdge(id string) bool { return w.edgeIndex(id) >= 0 }

func (w *Workflow) nodeIndex(id string) int {
	return slices.IndexFunc(w.nodes, func(n Node) bool { return n.ID == id })
}

func (w *Workflow) edgeIndex(id string) int {
	return slices.IndexFunc(w.edges, func(e Edge) bool { return e.ID == id })
}
