package collab

import (
	"encoding/json"
	"fmt"
	"maps"
)

// Node is a workflow graph vertex. Only the id is understood here; every
// other attribute travels untouched in Fields.
type Node struct {
	ID     string
	Fields map[string]json.RawMessage
}

// Edge is a directed workflow link. Source and target are read so that
// deleting a node can cascade to its incident edges.
type Edge struct {
	ID     string
	Source string
	Target string
	Fields map[string]json.RawMessage
}

func (n Node) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Fields)+1)
	for k, v := range n.Fields {
		out[k] = v
	}
	out["id"] = n.ID
	return json.Marshal(out)
}

func (n *Node) UnmarshalJSON(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	if n.ID, err = takeString(fields, "id"); err != nil {
		return err
	}
	n.Fields = fields
	return nil
}

func (e Edge) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["id"] = e.ID
	out["source"] = e.Source
	out["target"] = e.Target
	return json.Marshal(out)
}

func (e *Edge) UnmarshalJSON(data []byte) error {
	fields, err := decodeFields(data)
	if err != nil {
		return err
	}
	if e.ID, err = takeString(fields, "id"); err != nil {
		return err
	}
	if e.Source, err = takeString(fields, "source"); err != nil {
		return err
	}
	if e.Target, err = takeString(fields, "target"); err != nil {
		return err
	}
	e.Fields = fields
	return nil
}

func (n Node) clone() Node {
	return Node{ID: n.ID, Fields: maps.Clone(n.Fields)}
}

func (e Edge) clone() Edge {
	return Edge{ID: e.ID, Source: e.Source, Target: e.Target, Fields: maps.Clone(e.Fields)}
}

func decodeFields(data []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	return fields, nil
}

// takeString removes key from fields and decodes it as a string.
// A missing key yields "".
func takeString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", nil
	}
	delete(fields, key)
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s must be a string: %w", key, err)
	}
	return s, nil
}
