// Package graphdef holds the declarative workflow document types and
// the YAML parser that turns the authoritative serialization format
// (spec.md §6) into a WorkflowDef ready for the compiler.
package graphdef

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// PortRef identifies a port by node and its as-written token, which may
// be an index or a name. The compiler resolves Raw to an index using the
// node's declared port table.
type PortRef struct {
	NodeID string
	// Raw is the as-written port token ("0", "true", "success", ...).
	// Empty means "default port 0".
	Raw string
}

func (p PortRef) String() string {
	if p.Raw == "" {
		return p.NodeID
	}
	return fmt.Sprintf("%s:%s", p.NodeID, p.Raw)
}

// NodeSpec is one declared node: its id, its registered type tag, and
// the free-form config map the node's factory interprets.
type NodeSpec struct {
	ID     string                 `yaml:"id"`
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}

// edgeDoc mirrors the wire shape of one edge entry.
type edgeDoc struct {
	From     string      `yaml:"from"`
	FromPort interface{} `yaml:"from_port"`
	To       string      `yaml:"to"`
	ToPort   interface{} `yaml:"to_port"`
}

// Edge is a directed link from one output port to one input port.
type Edge struct {
	From PortRef
	To   PortRef
}

// workflowDoc mirrors the top-level wire document.
type workflowDoc struct {
	Nodes []NodeSpec `yaml:"nodes"`
	Edges []edgeDoc  `yaml:"edges"`
}

// WorkflowDef is the parsed, not-yet-validated workflow definition.
type WorkflowDef struct {
	Nodes []NodeSpec
	Edges []Edge
}

// portToken normalizes a YAML-decoded from_port/to_port value (which may
// arrive as an int, a float64 from a generic unmarshal, or a string)
// into the raw token the compiler later resolves against a node's port
// table.
func portToken(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return fmt.Sprintf("%d", t)
	case float64:
		return fmt.Sprintf("%d", int(t))
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Parse decodes a workflow document in the YAML format described in
// spec.md §6.
func Parse(doc []byte) (*WorkflowDef, error) {
	var raw workflowDoc
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("parse workflow document: %w", err)
	}

	def := &WorkflowDef{
		Nodes: raw.Nodes,
		Edges: make([]Edge, 0, len(raw.Edges)),
	}
	for _, e := range raw.Edges {
		def.Edges = append(def.Edges, Edge{
			From: PortRef{NodeID: e.From, Raw: portToken(e.FromPort)},
			To:   PortRef{NodeID: e.To, Raw: portToken(e.ToPort)},
		})
	}
	return def, nil
}

// Marshal serializes a WorkflowDef back to the document format, used by
// the round-trip property in spec.md §8.
func Marshal(def *WorkflowDef) ([]byte, error) {
	doc := workflowDoc{Nodes: def.Nodes}
	for _, e := range def.Edges {
		doc.Edges = append(doc.Edges, edgeDoc{
			From:     e.From.NodeID,
			FromPort: rawOrNil(e.From.Raw),
			To:       e.To.NodeID,
			ToPort:   rawOrNil(e.To.Raw),
		})
	}
	return yaml.Marshal(doc)
}

func rawOrNil(raw string) interface{} {
	if raw == "" {
		return nil
	}
	return raw
}
