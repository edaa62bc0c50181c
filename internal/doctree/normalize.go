package doctree

import (
	"reflect"
	"strings"

	"folio/api/internal/schema"
)

// Normalize returns the canonical form of doc under reg: defaults filled,
// attribute values passed through their codecs, empty text runs dropped and
// adjacent runs with identical marks merged. Line breaks in text and string
// attributes are folded to "\n", as an HTML parser would. Values a codec rejects are kept
// as-is for Validate to report. Normalize is idempotent.
func Normalize(reg *schema.Registry, doc Document) (Document, error) {
	root, _, err := normalizeNode(reg, doc.Root, 1)
	if err != nil {
		return Document{}, err
	}
	return Document{SchemaVersion: reg.Version(), Root: root}, nil
}

func normalizeNode(reg *schema.Registry, n Node, depth int) (Node, bool, error) {
	if depth > MaxDepth {
		return Node{}, false, ErrMaxDepthExceeded
	}
	out := Node{ID: n.ID, Type: n.Type, Text: foldNewlines(n.Text)}

	if n.IsText() {
		if out.Text == "" {
			return Node{}, false, nil
		}
		out.Attrs = cloneAttrs(n.Attrs)
		out.Marks = normalizeMarks(reg, n.Marks)
		return out, true, nil
	}

	s, known := reg.Lookup(n.Type)
	if known {
		out.Attrs = normalizeAttrs(s.Attributes, n.Attrs)
	} else {
		out.Attrs = cloneAttrs(n.Attrs)
	}
	if len(n.Marks) > 0 {
		out.Marks = normalizeMarks(reg, n.Marks)
	}

	if len(n.Content) == 0 {
		return out, true, nil
	}
	children := make([]Node, 0, len(n.Content))
	for _, c := range n.Content {
		nc, keep, err := normalizeNode(reg, c, depth+1)
		if err != nil {
			return Node{}, false, err
		}
		if !keep {
			continue
		}
		if last := len(children) - 1; last >= 0 && mergeable(children[last], nc) {
			children[last].Text += nc.Text
			continue
		}
		children = append(children, nc)
	}
	if len(children) > 0 {
		out.Content = children
	}
	return out, true, nil
}

// mergeable reports whether b can be folded into the run a. The merged run
// keeps a's id, so b must not carry one of its own.
func mergeable(a, b Node) bool {
	if !a.IsText() || !b.IsText() || b.ID != "" {
		return false
	}
	if len(a.Attrs) > 0 || len(b.Attrs) > 0 {
		return false
	}
	return marksEqual(a.Marks, b.Marks)
}

func normalizeAttrs(defs []schema.Attribute, in map[string]any) map[string]any {
	if len(defs) == 0 && len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(defs)+len(in))
	for _, a := range defs {
		out[a.Name] = a.Default
	}
	for name, v := range in {
		a, declared := findAttr(defs, name)
		if !declared {
			out[name] = cloneValue(v)
			continue
		}
		cv, err := a.Canonical(v)
		if err != nil {
			out[name] = cloneValue(v)
			continue
		}
		if s, ok := cv.(string); ok {
			cv = foldNewlines(s)
		}
		out[name] = cv
	}
	return out
}

var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

func foldNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	return newlines.Replace(s)
}

func normalizeMarks(reg *schema.Registry, marks []Mark) []Mark {
	if len(marks) == 0 {
		return nil
	}
	out := make([]Mark, 0, len(marks))
	for _, m := range marks {
		ms, known := reg.Mark(m.Type)
		if !known {
			out = append(out, Mark{Type: m.Type, Attrs: cloneAttrs(m.Attrs)})
			continue
		}
		attrs := normalizeAttrs(ms.Attributes, m.Attrs)
		out = append(out, Mark{Type: m.Type, Attrs: attrs})
	}
	return out
}

func findAttr(defs []schema.Attribute, name string) (schema.Attribute, bool) {
	for _, a := range defs {
		if a.Name == name {
			return a, true
		}
	}
	return schema.Attribute{}, false
}

func marksEqual(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type || !attrsEqual(a[i].Attrs, b[i].Attrs) {
			return false
		}
	}
	return true
}

func attrsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}
