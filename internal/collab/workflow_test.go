package collab

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dkeye/Huddle/internal/domain"
)

func mustOp(t *testing.T, raw string) Operation {
	t.Helper()
	var op Operation
	if err := json.Unmarshal([]byte(raw), &op); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return op
}

func nodeIDs(d WorkflowData) []string {
	ids := make([]string, 0, len(d.Nodes))
	for _, n := range d.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func edgeIDs(d WorkflowData) []string {
	ids := make([]string, 0, len(d.Edges))
	for _, e := range d.Edges {
		ids = append(ids, e.ID)
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReplicasConverge(t *testing.T) {
	ops := []string{
		`{"type":"add_node","node":{"id":"n1","type":"start","position":{"x":0,"y":0}}}`,
		`{"type":"add_node","node":{"id":"n2","type":"task"}}`,
		`{"type":"add_node","node":{"id":"n3","type":"task"}}`,
		`{"type":"add_edge","edge":{"id":"e1","source":"n1","target":"n2"}}`,
		`{"type":"add_edge","edge":{"id":"e2","source":"n2","target":"n3"}}`,
		`{"type":"add_edge","edge":{"id":"e3","source":"n1","target":"n3"}}`,
		`{"type":"update_node","id":"n2","changes":{"data":{"label":"review"}}}`,
		`{"type":"delete_edge","id":"e3"}`,
		`{"type":"add_node","node":{"id":"n1","type":"duplicate"}}`,
	}

	server := NewState()
	var replica Workflow
	for i, raw := range ops {
		stamped, err := server.ApplyOperation(mustOp(t, raw), "alice", int64(1000+i))
		if err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		// The replica only ever sees what the server rebroadcasts.
		wire, err := json.Marshal(stamped)
		if err != nil {
			t.Fatal(err)
		}
		var received StampedOperation
		if err := json.Unmarshal(wire, &received); err != nil {
			t.Fatal(err)
		}
		replica.Apply(received)
	}

	got, want := replica.Data(), server.Workflow()
	if !equalStrings(nodeIDs(got), nodeIDs(want)) {
		t.Errorf("replica nodes = %v, server nodes = %v", nodeIDs(got), nodeIDs(want))
	}
	if !equalStrings(edgeIDs(got), edgeIDs(want)) {
		t.Errorf("replica edges = %v, server edges = %v", edgeIDs(got), edgeIDs(want))
	}
	if !equalStrings(nodeIDs(want), []string{"n1", "n2", "n3"}) {
		t.Errorf("nodes = %v, want [n1 n2 n3]", nodeIDs(want))
	}
	if !equalStrings(edgeIDs(want), []string{"e1", "e2"}) {
		t.Errorf("edges = %v, want [e1 e2]", edgeIDs(want))
	}
	if string(want.Nodes[0].Fields["type"]) != `"start"` {
		t.Errorf("re-adding n1 must not overwrite it, type = %s", want.Nodes[0].Fields["type"])
	}
	if string(want.Nodes[1].Fields["data"]) != `{"label":"review"}` {
		t.Errorf("n2 data = %s", want.Nodes[1].Fields["data"])
	}
	if want.LastModified != 1008 || want.LastModifiedBy != "alice" {
		t.Errorf("lastModified = %d by %q", want.LastModified, want.LastModifiedBy)
	}
	if len(server.History()) != len(ops) {
		t.Errorf("history length = %d, want %d", len(server.History()), len(ops))
	}
}

func TestDeleteNodeCascadesToIncidentEdges(t *testing.T) {
	s := NewState()
	for _, raw := range []string{
		`{"type":"add_node","node":{"id":"a"}}`,
		`{"type":"add_node","node":{"id":"b"}}`,
		`{"type":"add_node","node":{"id":"c"}}`,
		`{"type":"add_edge","edge":{"id":"ab","source":"a","target":"b"}}`,
		`{"type":"add_edge","edge":{"id":"ca","source":"c","target":"a"}}`,
		`{"type":"add_edge","edge":{"id":"bc","source":"b","target":"c"}}`,
		`{"type":"delete_node","id":"a"}`,
	} {
		if _, err := s.ApplyOperation(mustOp(t, raw), "bob", 1); err != nil {
			t.Fatal(err)
		}
	}
	d := s.Workflow()
	if !equalStrings(nodeIDs(d), []string{"b", "c"}) {
		t.Errorf("nodes = %v", nodeIDs(d))
	}
	if !equalStrings(edgeIDs(d), []string{"bc"}) {
		t.Errorf("edges = %v, want [bc]", edgeIDs(d))
	}
}

func TestStaleUpdateAfterDeleteIsDropped(t *testing.T) {
	s := NewState()
	for i, raw := range []string{
		`{"type":"add_node","node":{"id":"n1"}}`,
		`{"type":"delete_node","id":"n1"}`,
		`{"type":"update_node","node":{"id":"n1","data":{"label":"late"}}}`,
	} {
		if _, err := s.ApplyOperation(mustOp(t, raw), "carol", int64(i)); err != nil {
			t.Fatal(err)
		}
	}
	if len(s.Workflow().Nodes) != 0 {
		t.Errorf("nodes = %v, want none", nodeIDs(s.Workflow()))
	}
	if len(s.History()) != 3 {
		t.Errorf("the stale update is still part of history, got %d entries", len(s.History()))
	}
}

func TestUpdateNodeIsShallowMerge(t *testing.T) {
	s := NewState()
	s.ApplyOperation(mustOp(t, `{"type":"add_node","node":{"id":"n","data":{"a":1},"position":{"x":1}}}`), "u", 1)
	s.ApplyOperation(mustOp(t, `{"type":"update_node","id":"n","changes":{"data":{"b":2},"id":"hijack"}}`), "u", 2)

	n := s.Workflow().Nodes[0]
	if n.ID != "n" {
		t.Errorf("id changed to %q", n.ID)
	}
	if string(n.Fields["data"]) != `{"b":2}` {
		t.Errorf("data = %s, want replaced wholesale", n.Fields["data"])
	}
	if string(n.Fields["position"]) != `{"x":1}` {
		t.Errorf("position = %s, want untouched", n.Fields["position"])
	}
}

func TestOperationValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type":"rename_node","id":"n"}`},
		{"add without node", `{"type":"add_node"}`},
		{"add node without id", `{"type":"add_node","node":{"type":"x"}}`},
		{"add edge without id", `{"type":"add_edge","edge":{"source":"a","target":"b"}}`},
		{"delete without id", `{"type":"delete_edge"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState()
			_, err := s.ApplyOperation(mustOp(t, tt.raw), "u", 1)
			if !errors.Is(err, domain.ErrBadRequest) {
				t.Fatalf("err = %v, want ErrBadRequest", err)
			}
			if len(s.History()) != 0 {
				t.Error("rejected operation was appended to history")
			}
		})
	}
}

func TestNodeRejectsNonStringID(t *testing.T) {
	var n Node
	if err := json.Unmarshal([]byte(`{"id":7}`), &n); err == nil {
		t.Fatal("expected error for numeric id")
	}
}
