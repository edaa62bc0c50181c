package doctree

import (
	"fmt"
	"sort"

	"folio/api/internal/schema"
)

// Validate checks doc against reg and returns every violation found. The
// error return is reserved for trees that cannot be walked at all
// (ErrMaxDepthExceeded).
func Validate(reg *schema.Registry, doc Document) ([]*schema.SchemaError, error) {
	v := validator{reg: reg, seen: map[string]bool{}}
	if doc.Root.Type != schema.TypeDoc {
		v.report(doc.Root, fmt.Sprintf("root must be %s", schema.TypeDoc))
	}
	if doc.Root.ID != "" {
		v.report(doc.Root, "root cannot carry an id")
	}
	if err := v.node(doc.Root, 1); err != nil {
		return nil, err
	}
	return v.errs, nil
}

type validator struct {
	reg  *schema.Registry
	seen map[string]bool
	errs []*schema.SchemaError
}

func (v *validator) report(n Node, reason string) {
	v.errs = append(v.errs, &schema.SchemaError{NodeID: n.ID, NodeType: n.Type, Reason: reason})
}

func (v *validator) node(n Node, depth int) error {
	if depth > MaxDepth {
		return ErrMaxDepthExceeded
	}
	if n.ID != "" {
		if v.seen[n.ID] {
			v.report(n, "duplicate node id")
		}
		v.seen[n.ID] = true
	}

	s, known := v.reg.Lookup(n.Type)
	if !known {
		v.report(n, "unknown node type")
		return nil
	}

	if n.IsText() {
		if n.Text == "" {
			v.report(n, "empty text node")
		}
		if len(n.Content) > 0 {
			v.report(n, "text node cannot have children")
		}
		for _, m := range n.Marks {
			ms, ok := v.reg.Mark(m.Type)
			if !ok {
				continue
			}
			for _, problem := range checkMarkAttrs(ms, m.Attrs) {
				v.report(n, fmt.Sprintf("mark %s: %s", m.Type, problem))
			}
		}
		return nil
	}
	if n.Text != "" {
		v.report(n, "only text nodes carry text")
	}
	if len(n.Marks) > 0 {
		v.report(n, "only text nodes carry marks")
	}
	types := make([]schema.NodeType, len(n.Content))
	for i, c := range n.Content {
		types[i] = c.Type
	}
	v.errs = append(v.errs, v.reg.ValidateNode(n.ID, n.Type, n.Attrs, types)...)
	if s.Type == schema.TypeUnknown {
		return nil
	}
	for _, c := range n.Content {
		if err := v.node(c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func checkMarkAttrs(ms schema.MarkSchema, attrs map[string]any) []string {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []string
	for _, name := range names {
		val := attrs[name]
		a, ok := ms.Attribute(name)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown attribute %q", name))
			continue
		}
		if err := a.Check(val); err != nil {
			problems = append(problems, err.Error())
		}
	}
	return problems
}
