// Package doctree holds the typed content tree shared by every document
// operation. Trees are values: transforms return new trees and never modify
// their input.
package doctree

import (
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"folio/api/internal/schema"
)

// MaxDepth caps tree nesting. Deeper trees are rejected, not truncated.
const MaxDepth = 128

var ErrMaxDepthExceeded = errors.New("doctree: maximum nesting depth exceeded")

type Mark struct {
	Type  schema.MarkType `json:"type"`
	Attrs map[string]any  `json:"attrs,omitempty"`
}

type Node struct {
	ID      string          `json:"id,omitempty"`
	Type    schema.NodeType `json:"type"`
	Attrs   map[string]any  `json:"attrs,omitempty"`
	Marks   []Mark          `json:"marks,omitempty"`
	Text    string          `json:"text,omitempty"`
	Content []Node          `json:"content,omitempty"`
}

// Document is one immutable snapshot of a page body.
type Document struct {
	SchemaVersion int  `json:"schemaVersion"`
	Root          Node `json:"root"`
}

type nodeJSON Node

// MarshalJSON writes unknown nodes back in the shape they arrived in, so a
// registry that knows the type can recover it.
func (n Node) MarshalJSON() ([]byte, error) {
	if n.Type == schema.TypeUnknown {
		if raw, ok := n.Attrs[schema.AttrRaw].(map[string]any); ok {
			return json.Marshal(raw)
		}
	}
	return json.Marshal(nodeJSON(n))
}

// NewNodeID returns a fresh StableId.
func NewNodeID() string {
	return uuid.NewString()
}

// NewText builds a text node.
func NewText(text string, marks ...Mark) Node {
	return Node{Type: schema.TypeText, Text: text, Marks: marks}
}

// NewNode builds an element node with a fresh id.
func NewNode(t schema.NodeType, attrs map[string]any, children ...Node) Node {
	return Node{ID: NewNodeID(), Type: t, Attrs: attrs, Content: children}
}

// NewDocument wraps block children in a doc root.
func NewDocument(version int, children ...Node) Document {
	return Document{SchemaVersion: version, Root: Node{Type: schema.TypeDoc, Content: children}}
}

func (n Node) IsText() bool {
	return n.Type == schema.TypeText
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := n
	out.Attrs = cloneAttrs(n.Attrs)
	if n.Marks != nil {
		out.Marks = make([]Mark, len(n.Marks))
		for i, m := range n.Marks {
			out.Marks[i] = Mark{Type: m.Type, Attrs: cloneAttrs(m.Attrs)}
		}
	}
	if n.Content != nil {
		out.Content = make([]Node, len(n.Content))
		for i, c := range n.Content {
			out.Content[i] = c.Clone()
		}
	}
	return out
}

func cloneAttrs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneAttrs(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
