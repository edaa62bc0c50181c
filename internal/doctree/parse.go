package doctree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"folio/api/internal/schema"
)

type wireNode struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Attrs   map[string]any    `json:"attrs"`
	Marks   []Mark            `json:"marks"`
	Text    string            `json:"text"`
	Content []json.RawMessage `json:"content"`
}

type wireDocument struct {
	SchemaVersion int             `json:"schemaVersion"`
	Root          json.RawMessage `json:"root"`
}

// Parse decodes a JSON tree. It accepts either a Document envelope
// ({"schemaVersion":..,"root":..}) or a bare doc node as sent by editors.
// Node types the registry does not know are kept as opaque unknown nodes.
func Parse(reg *schema.Registry, data []byte) (Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Document{}, errors.New("parse document: empty input")
	}

	var env wireDocument
	if err := json.Unmarshal(data, &env); err != nil {
		return Document{}, fmt.Errorf("parse document: %w", err)
	}
	rootRaw := json.RawMessage(data)
	version := reg.Version()
	if len(env.Root) > 0 {
		rootRaw = env.Root
		if env.SchemaVersion > 0 {
			version = env.SchemaVersion
		}
	}

	root, err := parseNode(reg, rootRaw, 1)
	if err != nil {
		return Document{}, err
	}
	if root.Type != schema.TypeDoc {
		return Document{}, fmt.Errorf("parse document: root must be %s, got %s", schema.TypeDoc, root.Type)
	}
	return Document{SchemaVersion: version, Root: root}, nil
}

// ParseNode decodes a single node subtree.
func ParseNode(reg *schema.Registry, data []byte) (Node, error) {
	return parseNode(reg, data, 1)
}

func parseNode(reg *schema.Registry, data json.RawMessage, depth int) (Node, error) {
	if depth > MaxDepth {
		return Node{}, ErrMaxDepthExceeded
	}
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return Node{}, fmt.Errorf("parse node: %w", err)
	}
	if w.Type == "" {
		return Node{}, errors.New("parse node: missing type")
	}

	nt := schema.NodeType(w.Type)
	s, known := reg.Lookup(nt)
	if !known {
		return opaqueNode(w, data)
	}

	n := Node{ID: w.ID, Type: nt, Attrs: w.Attrs, Text: w.Text}
	if n.ID == "" {
		// Editors commonly keep block ids in attrs.id.
		if id, ok := n.Attrs["id"].(string); ok {
			if _, declared := s.Attribute("id"); !declared {
				n.ID = id
				n.Attrs = cloneAttrs(n.Attrs)
				delete(n.Attrs, "id")
			}
		}
	}
	if len(w.Marks) > 0 {
		n.Marks = w.Marks
	}
	if len(w.Content) > 0 {
		n.Content = make([]Node, 0, len(w.Content))
		for _, raw := range w.Content {
			child, err := parseNode(reg, raw, depth+1)
			if err != nil {
				return Node{}, err
			}
			n.Content = append(n.Content, child)
		}
	}
	return n, nil
}

func opaqueNode(w wireNode, data json.RawMessage) (Node, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Node{}, fmt.Errorf("parse node: %w", err)
	}
	id := w.ID
	if id == "" {
		id, _ = w.Attrs["id"].(string)
	}
	return Node{
		ID:   id,
		Type: schema.TypeUnknown,
		Attrs: map[string]any{
			schema.AttrOriginalType: w.Type,
			schema.AttrRaw:          raw,
		},
	}, nil
}
