package transcode

import (
	"strings"

	"folio/api/internal/doctree"
	"folio/api/internal/schema"
)

// ToPlainText flattens doc to text: one line per block, marks stripped,
// atomic nodes rendered through their extractor or as a [type] placeholder.
func ToPlainText(reg *schema.Registry, doc doctree.Document) (string, error) {
	t := textWriter{reg: reg}
	if err := t.blocks(doc.Root.Content, 2); err != nil {
		return "", err
	}
	return strings.Join(t.lines, "\n"), nil
}

type textWriter struct {
	reg   *schema.Registry
	lines []string
}

func (t *textWriter) blocks(nodes []doctree.Node, depth int) error {
	if depth > doctree.MaxDepth {
		return doctree.ErrMaxDepthExceeded
	}
	var line strings.Builder
	open := false
	flush := func() {
		if open {
			t.lines = append(t.lines, line.String())
			line.Reset()
			open = false
		}
	}
	for _, n := range nodes {
		if t.inline(n) {
			t.writeInline(&line, n)
			open = true
			continue
		}
		flush()
		if err := t.block(n, depth); err != nil {
			return err
		}
	}
	flush()
	return nil
}

func (t *textWriter) block(n doctree.Node, depth int) error {
	s, ok := t.reg.Lookup(n.Type)
	if !ok {
		t.lines = append(t.lines, "["+string(n.Type)+"]")
		return nil
	}
	if s.Atomic {
		t.lines = append(t.lines, placeholder(s, n))
		return nil
	}
	switch s.Content {
	case schema.InlineChildren:
		var line strings.Builder
		for _, c := range n.Content {
			t.writeInline(&line, c)
		}
		t.lines = append(t.lines, line.String())
	case schema.BlockChildren, schema.Mixed:
		return t.blocks(n.Content, depth+1)
	}
	return nil
}

func (t *textWriter) inline(n doctree.Node) bool {
	if n.IsText() {
		return true
	}
	s, ok := t.reg.Lookup(n.Type)
	return ok && s.IsInline()
}

func (t *textWriter) writeInline(b *strings.Builder, n doctree.Node) {
	if n.IsText() {
		b.WriteString(n.Text)
		return
	}
	s, ok := t.reg.Lookup(n.Type)
	if !ok {
		return
	}
	if s.Atomic {
		b.WriteString(placeholder(s, n))
		return
	}
	for _, c := range n.Content {
		t.writeInline(b, c)
	}
}

func placeholder(s schema.NodeSchema, n doctree.Node) string {
	if s.PlainText != nil {
		return s.PlainText(n.Attrs)
	}
	return "[" + string(s.Type) + "]"
}
