package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownType = errors.New("schema: unknown node type")

// Registry is an immutable set of node and mark schemas. Build one with
// NewRegistry and pass it to every tree operation.
type Registry struct {
	version    int
	nodes      map[NodeType]NodeSchema
	marks      map[MarkType]MarkSchema
	byDataType map[string]NodeType
	byTag      map[string]NodeType
	markByData map[string]MarkType
	markByTag  map[string]MarkType
}

// NewRegistry validates the schemas and indexes them for lookup. When no
// marks are given the built-in mark set is used.
func NewRegistry(version int, schemas []NodeSchema, marks ...MarkSchema) (*Registry, error) {
	if version <= 0 {
		return nil, fmt.Errorf("schema: version must be positive, got %d", version)
	}
	if len(marks) == 0 {
		marks = builtinMarks()
	}
	r := &Registry{
		version:    version,
		nodes:      make(map[NodeType]NodeSchema, len(schemas)),
		marks:      make(map[MarkType]MarkSchema, len(marks)),
		byDataType: map[string]NodeType{},
		byTag:      map[string]NodeType{},
		markByData: map[string]MarkType{},
		markByTag:  map[string]MarkType{},
	}
	for _, s := range schemas {
		if s.Type == "" {
			return nil, errors.New("schema: node schema without type")
		}
		if _, dup := r.nodes[s.Type]; dup {
			return nil, fmt.Errorf("schema: duplicate node type %q", s.Type)
		}
		if s.Atomic && s.Content != Leaf {
			return nil, fmt.Errorf("schema: atomic node %q must be a leaf", s.Type)
		}
		attrs, err := canonicalDefaults(string(s.Type), s.Attributes)
		if err != nil {
			return nil, err
		}
		s.Attributes = attrs
		r.nodes[s.Type] = s

		if s.HTML.DataType != "" {
			if other, dup := r.byDataType[s.HTML.DataType]; dup {
				return nil, fmt.Errorf("schema: data-type %q used by %q and %q", s.HTML.DataType, other, s.Type)
			}
			r.byDataType[s.HTML.DataType] = s.Type
			continue
		}
		for _, tag := range append([]string{s.HTML.Tag}, s.HTML.AltTags...) {
			if tag == "" {
				continue
			}
			if other, dup := r.byTag[tag]; dup {
				return nil, fmt.Errorf("schema: tag %q used by %q and %q", tag, other, s.Type)
			}
			r.byTag[tag] = s.Type
		}
	}
	if _, ok := r.nodes[TypeDoc]; !ok {
		return nil, errors.New("schema: registry needs a doc node")
	}
	if _, ok := r.nodes[TypeText]; !ok {
		return nil, errors.New("schema: registry needs a text node")
	}
	if _, ok := r.nodes[TypeUnknown]; !ok {
		r.nodes[TypeUnknown] = unknownSchema()
		r.byDataType[string(TypeUnknown)] = TypeUnknown
	}
	for _, s := range r.nodes {
		for _, child := range s.Allowed {
			if _, ok := r.nodes[child]; !ok {
				return nil, fmt.Errorf("schema: %q allows unregistered child %q", s.Type, child)
			}
		}
	}

	for _, m := range marks {
		if _, dup := r.marks[m.Type]; dup {
			return nil, fmt.Errorf("schema: duplicate mark type %q", m.Type)
		}
		attrs, err := canonicalDefaults(string(m.Type), m.Attributes)
		if err != nil {
			return nil, err
		}
		m.Attributes = attrs
		r.marks[m.Type] = m
		if m.DataMark != "" {
			r.markByData[m.DataMark] = m.Type
			continue
		}
		for _, tag := range append([]string{m.Tag}, m.AltTags...) {
			if tag != "" {
				r.markByTag[tag] = m.Type
			}
		}
	}
	return r, nil
}

func canonicalDefaults(owner string, attrs []Attribute) ([]Attribute, error) {
	out := make([]Attribute, len(attrs))
	seen := make(map[string]bool, len(attrs))
	for i, a := range attrs {
		if seen[a.Name] {
			return nil, fmt.Errorf("schema: %s declares attribute %q twice", owner, a.Name)
		}
		seen[a.Name] = true
		def, err := a.Canonical(a.Default)
		if err != nil {
			return nil, fmt.Errorf("schema: %s default: %w", owner, err)
		}
		a.Default = def
		out[i] = a
	}
	return out, nil
}

func (r *Registry) Version() int {
	return r.version
}

// Lookup returns the schema for a node type.
func (r *Registry) Lookup(t NodeType) (NodeSchema, bool) {
	s, ok := r.nodes[t]
	return s, ok
}

// Mark returns the schema for a mark type.
func (r *Registry) Mark(t MarkType) (MarkSchema, bool) {
	m, ok := r.marks[t]
	return m, ok
}

// Types lists the registered node types in sorted order.
func (r *Registry) Types() []NodeType {
	out := make([]NodeType, 0, len(r.nodes))
	for t := range r.nodes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultAttributes returns a fresh map of the default attribute values.
func (r *Registry) DefaultAttributes(t NodeType) map[string]any {
	s, ok := r.nodes[t]
	if !ok || len(s.Attributes) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.Attributes))
	for _, a := range s.Attributes {
		out[a.Name] = a.Default
	}
	return out
}

func (r *Registry) EncodeAttribute(t NodeType, name string, v any) (string, error) {
	s, ok := r.nodes[t]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	a, ok := s.Attribute(name)
	if !ok {
		return "", fmt.Errorf("schema: %s has no attribute %q", t, name)
	}
	return a.Encode(v)
}

// DecodeAttribute parses a raw attribute value. Malformed values fall back
// to the default; names the type does not declare come back as the raw string.
func (r *Registry) DecodeAttribute(t NodeType, name, raw string) any {
	s, ok := r.nodes[t]
	if !ok {
		return raw
	}
	a, ok := s.Attribute(name)
	if !ok {
		return raw
	}
	v, err := a.Decode(raw)
	if err != nil {
		return a.Default
	}
	return v
}

// CheckChildren reports the first child type the parent's content model
// rejects.
func (r *Registry) CheckChildren(parent NodeType, children []NodeType) error {
	ps, ok := r.nodes[parent]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, parent)
	}
	if len(children) > 0 && (ps.Atomic || ps.Content == Leaf) {
		return fmt.Errorf("%s cannot have children", parent)
	}
	for _, c := range children {
		cs, ok := r.nodes[c]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownType, c)
		}
		if !ps.allows(cs) {
			return fmt.Errorf("%s does not accept %s children", parent, c)
		}
	}
	return nil
}

// ValidateNode checks one element node's attributes and the types of its
// direct children. It does not descend.
func (r *Registry) ValidateNode(id string, t NodeType, attrs map[string]any, children []NodeType) []*SchemaError {
	var errs []*SchemaError
	for _, problem := range r.CheckAttributes(t, attrs) {
		errs = append(errs, &SchemaError{NodeID: id, NodeType: t, Reason: problem})
	}
	if t == TypeUnknown || len(children) == 0 {
		return errs
	}
	if err := r.CheckChildren(t, children); err != nil {
		errs = append(errs, &SchemaError{NodeID: id, NodeType: t, Reason: err.Error()})
	}
	return errs
}

// CheckAttributes reports undeclared names, values the codec rejects and
// values outside the declared bounds.
func (r *Registry) CheckAttributes(t NodeType, attrs map[string]any) []string {
	s, ok := r.nodes[t]
	if !ok {
		return []string{fmt.Sprintf("unknown node type %q", t)}
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []string
	for _, name := range names {
		a, ok := s.Attribute(name)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown attribute %q", name))
			continue
		}
		if err := a.Check(attrs[name]); err != nil {
			problems = append(problems, err.Error())
		}
	}
	return problems
}

// MatchElement finds the node type for an HTML element. The data-type
// discriminator wins over the tag.
func (r *Registry) MatchElement(tag, dataType string) (NodeSchema, bool) {
	if dataType != "" {
		t, ok := r.byDataType[dataType]
		if !ok {
			return NodeSchema{}, false
		}
		return r.nodes[t], true
	}
	t, ok := r.byTag[strings.ToLower(tag)]
	if !ok {
		return NodeSchema{}, false
	}
	return r.nodes[t], true
}

// MatchMark finds the mark for an inline HTML element.
func (r *Registry) MatchMark(tag, dataMark string) (MarkSchema, bool) {
	if dataMark != "" {
		t, ok := r.markByData[dataMark]
		if !ok {
			return MarkSchema{}, false
		}
		return r.marks[t], true
	}
	t, ok := r.markByTag[strings.ToLower(tag)]
	if !ok {
		return MarkSchema{}, false
	}
	return r.marks[t], true
}
