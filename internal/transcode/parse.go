package transcode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"folio/api/internal/doctree"
	"folio/api/internal/schema"
)

// DecodeError describes an HTML fragment that could not be mapped onto the
// schema. Its content was kept as generic paragraph or text nodes.
type DecodeError struct {
	Fragment string `json:"fragment"`
	Reason   string `json:"reason"`
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("decode html: %s: %s", e.Reason, e.Fragment)
}

const maxFragment = 120

// Elements that only group other content. They are unwrapped silently.
var wrapperElements = map[string]bool{
	"div": true, "section": true, "article": true, "main": true, "header": true,
	"footer": true, "nav": true, "aside": true, "figure": true, "thead": true,
	"tbody": true, "tfoot": true, "html": true, "body": true, "center": true,
}

// Inline elements without a mapping whose text is kept in the surrounding run.
var inlineElements = map[string]bool{
	"span": true, "font": true, "small": true, "big": true, "abbr": true, "cite": true,
	"kbd": true, "samp": true, "var": true, "q": true, "label": true, "time": true,
	"dfn": true, "bdi": true, "bdo": true, "ins": true,
}

// FromHTML parses an HTML fragment into a normalized document. Fragments that
// cannot be mapped are kept as paragraphs or text and listed as DecodeErrors;
// the error return is reserved for input that cannot be parsed at all.
func FromHTML(reg *schema.Registry, src string) (doctree.Document, []DecodeError, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(src), body)
	if err != nil {
		return doctree.Document{}, nil, fmt.Errorf("parse html: %w", err)
	}

	p := &htmlParser{reg: reg}
	children, err := p.blocks(nodes, 2)
	if err != nil {
		return doctree.Document{}, nil, err
	}
	doc := doctree.Document{
		SchemaVersion: reg.Version(),
		Root:          doctree.Node{Type: schema.TypeDoc, Content: children},
	}
	doc, err = doctree.Normalize(reg, doc)
	if err != nil {
		return doctree.Document{}, nil, err
	}
	return doc, p.issues, nil
}

type htmlParser struct {
	reg    *schema.Registry
	issues []DecodeError
}

func (p *htmlParser) report(h *html.Node, reason string) {
	var buf bytes.Buffer
	_ = html.Render(&buf, h)
	frag := buf.String()
	if len(frag) > maxFragment {
		frag = frag[:maxFragment] + "..."
	}
	p.issues = append(p.issues, DecodeError{Fragment: frag, Reason: reason})
}

// blocks decodes children of a block container. Inline content found between
// blocks is collected into a paragraph.
func (p *htmlParser) blocks(nodes []*html.Node, depth int) ([]doctree.Node, error) {
	if depth > doctree.MaxDepth {
		return nil, doctree.ErrMaxDepthExceeded
	}
	var out, pending []doctree.Node
	flush := func() {
		if hasText(pending) {
			out = append(out, doctree.Node{Type: schema.TypeParagraph, Content: pending})
		}
		pending = nil
	}

	for _, h := range nodes {
		switch h.Type {
		case html.TextNode:
			if strings.TrimSpace(h.Data) == "" && len(pending) == 0 {
				continue
			}
			pending = append(pending, doctree.NewText(h.Data))
		case html.ElementNode:
			if p.isInline(h) {
				run, err := p.inline([]*html.Node{h}, nil, depth)
				if err != nil {
					return nil, err
				}
				pending = append(pending, run...)
				continue
			}
			flush()
			decoded, err := p.block(h, depth)
			if err != nil {
				return nil, err
			}
			out = append(out, decoded...)
		}
	}
	flush()
	return out, nil
}

func (p *htmlParser) block(h *html.Node, depth int) ([]doctree.Node, error) {
	dataType := attr(h, "data-type")
	if s, ok := p.reg.MatchElement(h.Data, dataType); ok {
		n, err := p.element(h, s, depth)
		if err != nil {
			return nil, err
		}
		return []doctree.Node{n}, nil
	}
	if dataType != "" {
		return []doctree.Node{opaque(h, dataType)}, nil
	}
	if wrapperElements[h.Data] {
		return p.blocks(children(h), depth+1)
	}

	p.report(h, "unrecognized element "+h.Data)
	if p.containsBlock(h) {
		return p.blocks(children(h), depth+1)
	}
	run, err := p.inline(children(h), nil, depth+1)
	if err != nil {
		return nil, err
	}
	if !hasText(run) {
		return nil, nil
	}
	return []doctree.Node{{Type: schema.TypeParagraph, Content: run}}, nil
}

func (p *htmlParser) element(h *html.Node, s schema.NodeSchema, depth int) (doctree.Node, error) {
	if depth > doctree.MaxDepth {
		return doctree.Node{}, doctree.ErrMaxDepthExceeded
	}
	n := doctree.Node{ID: attr(h, "data-node-id"), Type: s.Type}
	n.Attrs = p.attributes(h, s.Attributes, s.HTML.FromTag)
	if s.Atomic || s.Content == schema.Leaf {
		return n, nil
	}

	kids := contentChildren(h, s.HTML.ContentTag)
	var err error
	switch s.Content {
	case schema.BlockChildren:
		n.Content, err = p.blocks(kids, depth+1)
	case schema.InlineChildren:
		n.Content, err = p.inline(kids, nil, depth+1)
	case schema.Mixed:
		n.Content, err = p.mixed(kids, depth+1)
	}
	if err != nil {
		return doctree.Node{}, err
	}
	return n, nil
}

func (p *htmlParser) attributes(h *html.Node, defs []schema.Attribute, fromTag func(string) map[string]any) map[string]any {
	out := map[string]any{}
	var tagAttrs map[string]any
	if fromTag != nil {
		tagAttrs = fromTag(h.Data)
	}
	for _, a := range defs {
		if a.InTag {
			if v, ok := tagAttrs[a.Name]; ok {
				out[a.Name] = v
			}
			continue
		}
		raw, ok := lookupAttr(h, a.HTMLAttr())
		if !ok {
			continue
		}
		v, err := a.Decode(raw)
		if err != nil {
			p.report(h, fmt.Sprintf("invalid %s attribute", a.HTMLAttr()))
			continue
		}
		out[a.Name] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// inline decodes phrasing content. Marks accumulate outermost first.
func (p *htmlParser) inline(nodes []*html.Node, marks []doctree.Mark, depth int) ([]doctree.Node, error) {
	if depth > doctree.MaxDepth {
		return nil, doctree.ErrMaxDepthExceeded
	}
	var out []doctree.Node
	for _, h := range nodes {
		switch h.Type {
		case html.TextNode:
			if h.Data != "" {
				out = append(out, doctree.NewText(h.Data, copyMarks(marks)...))
			}
			continue
		case html.ElementNode:
		default:
			continue
		}

		dataType := attr(h, "data-type")
		dataMark := attr(h, "data-mark")
		id, hasID := lookupAttr(h, "data-node-id")

		if h.Data == "span" && dataType == "" && dataMark == "" && hasID {
			run, err := p.inline(children(h), marks, depth+1)
			if err != nil {
				return nil, err
			}
			for i := range run {
				if run[i].IsText() {
					run[i].ID = id
					break
				}
			}
			out = append(out, run...)
			continue
		}

		if dataType != "" {
			s, ok := p.reg.MatchElement(h.Data, dataType)
			if !ok {
				out = append(out, opaque(h, dataType))
				continue
			}
			if s.IsInline() || s.Group == schema.GroupAny {
				n, err := p.element(h, s, depth+1)
				if err != nil {
					return nil, err
				}
				out = append(out, n)
				continue
			}
			p.report(h, "block element inside inline content")
			run, err := p.inline(children(h), marks, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, run...)
			continue
		}

		if ms, ok := p.reg.MatchMark(h.Data, dataMark); ok {
			m := doctree.Mark{Type: ms.Type, Attrs: p.attributes(h, ms.Attributes, nil)}
			run, err := p.inline(children(h), append(copyMarks(marks), m), depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, run...)
			continue
		}
		if dataMark != "" {
			m := doctree.Mark{Type: schema.MarkType(dataMark)}
			if raw := attr(h, "data-attrs"); raw != "" {
				var attrs map[string]any
				if err := json.Unmarshal([]byte(raw), &attrs); err == nil {
					m.Attrs = attrs
				} else {
					p.report(h, "invalid data-attrs on mark")
				}
			}
			run, err := p.inline(children(h), append(copyMarks(marks), m), depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, run...)
			continue
		}

		if s, ok := p.reg.MatchElement(h.Data, ""); ok {
			if s.IsInline() {
				n, err := p.element(h, s, depth+1)
				if err != nil {
					return nil, err
				}
				out = append(out, n)
				continue
			}
			p.report(h, "block element inside inline content")
		} else if !inlineElements[h.Data] {
			p.report(h, "unrecognized element "+h.Data)
		}
		run, err := p.inline(children(h), marks, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, run...)
	}
	return out, nil
}

func (p *htmlParser) mixed(nodes []*html.Node, depth int) ([]doctree.Node, error) {
	var out []doctree.Node
	for _, h := range nodes {
		switch {
		case h.Type == html.TextNode:
			if strings.TrimSpace(h.Data) == "" {
				continue
			}
			out = append(out, doctree.NewText(h.Data))
		case h.Type != html.ElementNode:
		case p.isInline(h):
			run, err := p.inline([]*html.Node{h}, nil, depth)
			if err != nil {
				return nil, err
			}
			out = append(out, run...)
		default:
			decoded, err := p.block(h, depth)
			if err != nil {
				return nil, err
			}
			out = append(out, decoded...)
		}
	}
	return out, nil
}

func (p *htmlParser) isInline(h *html.Node) bool {
	dataType := attr(h, "data-type")
	if s, ok := p.reg.MatchElement(h.Data, dataType); ok {
		if s.Group == schema.GroupAny {
			return h.Data == "span"
		}
		return s.IsInline()
	}
	if dataType != "" {
		return h.Data == "span"
	}
	if _, ok := p.reg.MatchMark(h.Data, attr(h, "data-mark")); ok {
		return true
	}
	if attr(h, "data-mark") != "" {
		return true
	}
	return inlineElements[h.Data]
}

func (p *htmlParser) containsBlock(h *html.Node) bool {
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if !p.isInline(c) {
			return true
		}
	}
	return false
}

// opaque keeps an element with an unregistered data-type as an unknown node.
func opaque(h *html.Node, dataType string) doctree.Node {
	raw := map[string]any{"type": dataType}
	attrs := map[string]any{}
	id := attr(h, "data-node-id")
	for _, a := range h.Attr {
		if !strings.HasPrefix(a.Key, "data-") || a.Key == "data-type" || a.Key == "data-node-id" {
			continue
		}
		attrs[camel(strings.TrimPrefix(a.Key, "data-"))] = a.Val
	}
	if len(attrs) > 0 {
		raw["attrs"] = attrs
	}
	if id != "" {
		raw["id"] = id
	}
	return doctree.Node{
		ID:   id,
		Type: schema.TypeUnknown,
		Attrs: map[string]any{
			schema.AttrOriginalType: dataType,
			schema.AttrRaw:          raw,
		},
	}
}

func contentChildren(h *html.Node, contentTag string) []*html.Node {
	var out []*html.Node
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		if contentTag != "" && c.Type == html.ElementNode && c.Data == contentTag {
			out = append(out, children(c)...)
			continue
		}
		out = append(out, c)
	}
	return out
}

func children(h *html.Node) []*html.Node {
	var out []*html.Node
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		out = append(out, c)
	}
	return out
}

func lookupAttr(h *html.Node, key string) (string, bool) {
	for _, a := range h.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attr(h *html.Node, key string) string {
	v, _ := lookupAttr(h, key)
	return v
}

func hasText(nodes []doctree.Node) bool {
	for _, n := range nodes {
		if !n.IsText() || strings.TrimSpace(n.Text) != "" {
			return true
		}
	}
	return false
}

func copyMarks(marks []doctree.Mark) []doctree.Mark {
	if len(marks) == 0 {
		return nil
	}
	out := make([]doctree.Mark, len(marks))
	copy(out, marks)
	return out
}

func camel(kebab string) string {
	var b strings.Builder
	upper := false
	for _, r := range kebab {
		if r == '-' {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
