// Package transcode converts document trees to and from HTML and plain text.
// All functions are pure: the same registry and tree always produce the same
// output, which makes results safe to cache by tree hash.
package transcode

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"

	"folio/api/internal/doctree"
	"folio/api/internal/schema"
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true, "hr": true,
	"img": true, "input": true, "link": true, "meta": true, "source": true, "track": true, "wbr": true,
}

// ToHTML renders doc as an HTML fragment. No whitespace is inserted between
// elements, attributes are emitted in lexicographic order and attribute
// values equal to their default are omitted.
func ToHTML(reg *schema.Registry, doc doctree.Document) (string, error) {
	w := htmlWriter{reg: reg}
	for _, n := range doc.Root.Content {
		if err := w.node(n, false, 2); err != nil {
			return "", err
		}
	}
	return w.b.String(), nil
}

// NodeToHTML renders a single subtree.
func NodeToHTML(reg *schema.Registry, n doctree.Node, inline bool) (string, error) {
	w := htmlWriter{reg: reg}
	if err := w.node(n, inline, 1); err != nil {
		return "", err
	}
	return w.b.String(), nil
}

type htmlWriter struct {
	reg *schema.Registry
	b   strings.Builder
}

type htmlAttr struct {
	key, val string
}

func (w *htmlWriter) node(n doctree.Node, inline bool, depth int) error {
	if depth > doctree.MaxDepth {
		return doctree.ErrMaxDepthExceeded
	}
	if n.IsText() {
		return w.text(n)
	}

	s, known := w.reg.Lookup(n.Type)
	if !known {
		return w.foreign(n, inline)
	}
	tag := s.HTML.Tag
	if s.HTML.TagFor != nil {
		tag = s.HTML.TagFor(n.Attrs)
	}
	if s.Group == schema.GroupAny {
		tag = "div"
		if inline {
			tag = "span"
		}
	}
	if tag == "" {
		return fmt.Errorf("render %s: no html mapping", n.Type)
	}

	attrs := make([]htmlAttr, 0, len(s.Attributes)+2)
	if s.HTML.DataType != "" {
		attrs = append(attrs, htmlAttr{"data-type", s.HTML.DataType})
	}
	if n.ID != "" {
		attrs = append(attrs, htmlAttr{"data-node-id", n.ID})
	}
	for _, a := range s.Attributes {
		if a.InTag {
			continue
		}
		v, ok := n.Attrs[a.Name]
		if !ok || a.IsDefault(v) {
			continue
		}
		raw, err := a.Encode(v)
		if err != nil {
			return fmt.Errorf("render %s: %w", n.Type, err)
		}
		attrs = append(attrs, htmlAttr{a.HTMLAttr(), raw})
	}
	w.open(tag, attrs)
	if voidElements[tag] {
		return nil
	}

	if s.Atomic {
		if s.HTML.Inner != nil {
			w.b.WriteString(s.HTML.Inner(n.Attrs))
		}
	} else {
		if s.HTML.ContentTag != "" {
			w.open(s.HTML.ContentTag, nil)
		}
		for _, c := range n.Content {
			childInline := s.Content == schema.InlineChildren
			if s.Content == schema.Mixed {
				childInline = w.isInline(c)
			}
			if err := w.node(c, childInline, depth+1); err != nil {
				return err
			}
		}
		if s.HTML.ContentTag != "" {
			w.close(s.HTML.ContentTag)
		}
	}
	w.close(tag)
	return nil
}

func (w *htmlWriter) isInline(n doctree.Node) bool {
	if n.IsText() {
		return true
	}
	s, ok := w.reg.Lookup(n.Type)
	return ok && s.IsInline()
}

// text writes a run with its marks nested first-outermost. A run with a
// StableId is wrapped in a span carrying the id.
func (w *htmlWriter) text(n doctree.Node) error {
	inner := html.EscapeString(n.Text)
	for i := len(n.Marks) - 1; i >= 0; i-- {
		wrapped, err := w.mark(n.Marks[i], inner)
		if err != nil {
			return err
		}
		inner = wrapped
	}
	if n.ID != "" {
		w.open("span", []htmlAttr{{"data-node-id", n.ID}})
		w.b.WriteString(inner)
		w.close("span")
		return nil
	}
	w.b.WriteString(inner)
	return nil
}

func (w *htmlWriter) mark(m doctree.Mark, inner string) (string, error) {
	ms, known := w.reg.Mark(m.Type)
	if !known {
		attrs := []htmlAttr{{"data-mark", string(m.Type)}}
		if len(m.Attrs) > 0 {
			raw, err := json.Marshal(m.Attrs)
			if err != nil {
				return "", fmt.Errorf("render mark %s: %w", m.Type, err)
			}
			attrs = append(attrs, htmlAttr{"data-attrs", string(raw)})
		}
		return wrap("span", attrs, inner), nil
	}

	var attrs []htmlAttr
	if ms.DataMark != "" {
		attrs = append(attrs, htmlAttr{"data-mark", ms.DataMark})
	}
	for _, a := range ms.Attributes {
		v, ok := m.Attrs[a.Name]
		if !ok || a.IsDefault(v) {
			continue
		}
		raw, err := a.Encode(v)
		if err != nil {
			return "", fmt.Errorf("render mark %s: %w", m.Type, err)
		}
		attrs = append(attrs, htmlAttr{a.HTMLAttr(), raw})
	}
	return wrap(ms.Tag, attrs, inner), nil
}

// foreign renders a node whose type the registry does not know as an opaque
// unknown element so nothing is lost.
func (w *htmlWriter) foreign(n doctree.Node, inline bool) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("render %s: %w", n.Type, err)
	}
	tag := "div"
	if inline {
		tag = "span"
	}
	attrs := []htmlAttr{
		{"data-type", string(schema.TypeUnknown)},
		{"data-original-type", string(n.Type)},
		{"data-raw", string(raw)},
	}
	if n.ID != "" {
		attrs = append(attrs, htmlAttr{"data-node-id", n.ID})
	}
	w.open(tag, attrs)
	w.close(tag)
	return nil
}

func (w *htmlWriter) open(tag string, attrs []htmlAttr) {
	w.b.WriteString(openTag(tag, attrs))
}

func (w *htmlWriter) close(tag string) {
	w.b.WriteString("</" + tag + ">")
}

func wrap(tag string, attrs []htmlAttr, inner string) string {
	return openTag(tag, attrs) + inner + "</" + tag + ">"
}

func openTag(tag string, attrs []htmlAttr) string {
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].key < attrs[j].key })
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(tag)
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a.key)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(a.val))
		b.WriteByte('"')
	}
	b.WriteByte('>')
	return b.String()
}
