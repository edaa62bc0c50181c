package doctree

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"folio/api/internal/schema"
)

func TestParseAcceptsBareDocAndEnvelope(t *testing.T) {
	reg := schema.Default()
	bare := `{"type":"doc","content":[{"type":"paragraph","attrs":{"id":"p1"},"content":[{"type":"text","text":"Hi"}]}]}`
	env := `{"schemaVersion":1,"root":{"type":"doc","content":[{"type":"paragraph","id":"p1","content":[{"type":"text","text":"Hi"}]}]}}`

	a, err := Parse(reg, []byte(bare))
	if err != nil {
		t.Fatalf("Parse(bare) error = %v", err)
	}
	b, err := Parse(reg, []byte(env))
	if err != nil {
		t.Fatalf("Parse(envelope) error = %v", err)
	}
	if !Equal(a, b) {
		t.Fatalf("bare and envelope parse differently:\n%+v\n%+v", a, b)
	}
	if a.Root.Content[0].ID != "p1" {
		t.Fatalf("expected attrs.id lifted to node id, got %q", a.Root.Content[0].ID)
	}
	if _, ok := a.Root.Content[0].Attrs["id"]; ok {
		t.Fatal("expected id removed from attrs")
	}
}

func TestParseRejectsNonDocRoot(t *testing.T) {
	_, err := Parse(schema.Default(), []byte(`{"type":"paragraph"}`))
	if err == nil {
		t.Fatal("expected error for non-doc root")
	}
}

func TestParsePreservesUnknownNodes(t *testing.T) {
	reg := schema.Default()
	src := `{"type":"doc","content":[{"type":"kanban","id":"k1","attrs":{"columns":3},"content":[{"type":"card"}]}]}`

	doc, err := Parse(reg, []byte(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	n := doc.Root.Content[0]
	if n.Type != schema.TypeUnknown || n.ID != "k1" {
		t.Fatalf("expected opaque unknown node, got %+v", n)
	}
	if n.Attrs[schema.AttrOriginalType] != "kanban" {
		t.Fatalf("originalType = %v", n.Attrs[schema.AttrOriginalType])
	}

	out, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(out), `"type":"kanban"`) || !strings.Contains(string(out), `"card"`) {
		t.Fatalf("expected raw node re-emitted, got %s", out)
	}

	again, err := Parse(reg, mustMarshal(t, doc))
	if err != nil {
		t.Fatalf("Parse(again) error = %v", err)
	}
	if !Equal(doc, again) {
		t.Fatal("unknown node not stable across JSON round trip")
	}
}

func TestParseEnforcesMaxDepth(t *testing.T) {
	var b strings.Builder
	b.WriteString(`{"type":"doc","content":[`)
	for i := 0; i < MaxDepth+1; i++ {
		b.WriteString(`{"type":"blockquote","content":[`)
	}
	for i := 0; i < MaxDepth+1; i++ {
		b.WriteString(`]}`)
	}
	b.WriteString(`]}`)

	_, err := Parse(schema.Default(), []byte(b.String()))
	if !errors.Is(err, ErrMaxDepthExceeded) {
		t.Fatalf("expected ErrMaxDepthExceeded, got %v", err)
	}
}

func TestNormalizeFillsDefaultsAndCanonicalizes(t *testing.T) {
	reg := schema.Default()
	doc := NewDocument(0,
		Node{ID: "h", Type: schema.TypeHeading, Attrs: map[string]any{"level": float64(2)}, Content: []Node{NewText("Title")}},
		Node{ID: "t", Type: schema.TypeTaskList, Content: []Node{
			{ID: "ti", Type: schema.TypeTaskItem, Attrs: map[string]any{"checked": "true"}},
		}},
	)

	got, err := Normalize(reg, doc)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if got.SchemaVersion != reg.Version() {
		t.Fatalf("SchemaVersion = %d", got.SchemaVersion)
	}
	h := got.Root.Content[0]
	if h.Attrs["level"] != 2 || h.Attrs["textAlign"] != "" {
		t.Fatalf("heading attrs = %#v", h.Attrs)
	}
	item := got.Root.Content[1].Content[0]
	if item.Attrs["checked"] != true {
		t.Fatalf("task item attrs = %#v", item.Attrs)
	}
	if doc.Root.Content[0].Attrs["level"] != float64(2) {
		t.Fatal("Normalize modified its input")
	}
}

func TestNormalizeFoldsCarriageReturns(t *testing.T) {
	reg := schema.Default()
	doc := NewDocument(0,
		Node{ID: "c", Type: schema.TypeCodeBlock, Content: []Node{NewText("a\r\nb\rc")}},
		Node{ID: "m", Type: schema.TypeMathBlock, Attrs: map[string]any{"latex": "x\r\ny"}},
	)

	got, err := Normalize(reg, doc)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if text := got.Root.Content[0].Content[0].Text; text != "a\nb\nc" {
		t.Fatalf("code text = %q", text)
	}
	if latex := got.Root.Content[1].Attrs["latex"]; latex != "x\ny" {
		t.Fatalf("latex = %q", latex)
	}
}

func TestNormalizeMergesRuns(t *testing.T) {
	reg := schema.Default()
	bold := Mark{Type: schema.MarkBold}

	tests := []struct {
		name  string
		runs  []Node
		texts []string
	}{
		{
			name:  "same marks merge",
			runs:  []Node{NewText("a", bold), NewText("b", bold)},
			texts: []string{"ab"},
		},
		{
			name:  "different marks stay apart",
			runs:  []Node{NewText("a", bold), NewText("b")},
			texts: []string{"a", "b"},
		},
		{
			name:  "empty runs dropped",
			runs:  []Node{NewText(""), NewText("a"), NewText(""), NewText("b")},
			texts: []string{"ab"},
		},
		{
			name:  "second run with id kept apart",
			runs:  []Node{NewText("a"), {ID: "r2", Type: schema.TypeText, Text: "b"}},
			texts: []string{"a", "b"},
		},
		{
			name:  "first run id kept",
			runs:  []Node{{ID: "r1", Type: schema.TypeText, Text: "a"}, NewText("b"), NewText("c")},
			texts: []string{"abc"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := NewDocument(1, Node{Type: schema.TypeParagraph, Content: tc.runs})
			got, err := Normalize(reg, doc)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			runs := got.Root.Content[0].Content
			if len(runs) != len(tc.texts) {
				t.Fatalf("got %d runs, want %d: %+v", len(runs), len(tc.texts), runs)
			}
			for i, want := range tc.texts {
				if runs[i].Text != want {
					t.Fatalf("run %d = %q, want %q", i, runs[i].Text, want)
				}
			}
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	reg := schema.Default()
	doc := sampleDocument()

	once, err := Normalize(reg, doc)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	twice, err := Normalize(reg, once)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if !Equal(once, twice) {
		t.Fatalf("normalize not idempotent:\n%s\n%s", mustMarshal(t, once), mustMarshal(t, twice))
	}
}

func TestValidateReportsViolations(t *testing.T) {
	reg := schema.Default()
	tests := []struct {
		name   string
		doc    Document
		reason string
	}{
		{
			name:   "block inside paragraph",
			doc:    NewDocument(1, Node{ID: "p", Type: schema.TypeParagraph, Content: []Node{{Type: schema.TypeParagraph}}}),
			reason: "does not accept",
		},
		{
			name:   "unknown attribute on known type",
			doc:    NewDocument(1, Node{ID: "p", Type: schema.TypeParagraph, Attrs: map[string]any{"colour": "red"}}),
			reason: `unknown attribute "colour"`,
		},
		{
			name:   "bad attribute value",
			doc:    NewDocument(1, Node{ID: "h", Type: schema.TypeHeading, Attrs: map[string]any{"level": "high"}}),
			reason: "encode attribute level",
		},
		{
			name:   "heading level out of range",
			doc:    NewDocument(1, Node{ID: "h", Type: schema.TypeHeading, Attrs: map[string]any{"level": 7}, Content: []Node{NewText("x")}}),
			reason: "outside 1..6",
		},
		{
			name: "root with id",
			doc: Document{SchemaVersion: 1, Root: Node{ID: "root", Type: schema.TypeDoc, Content: []Node{
				{ID: "p", Type: schema.TypeParagraph},
			}}},
			reason: "root cannot carry an id",
		},
		{
			name:   "children on atomic",
			doc:    NewDocument(1, Node{ID: "i", Type: schema.TypeImage, Content: []Node{NewText("x")}}),
			reason: "cannot have children",
		},
		{
			name:   "unregistered type",
			doc:    NewDocument(1, Node{ID: "w", Type: "widget"}),
			reason: "unknown node type",
		},
		{
			name: "duplicate ids",
			doc: NewDocument(1,
				Node{ID: "dup", Type: schema.TypeParagraph},
				Node{ID: "dup", Type: schema.TypeParagraph},
			),
			reason: "duplicate node id",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			errs, err := Validate(reg, tc.doc)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if len(errs) == 0 {
				t.Fatal("expected schema errors")
			}
			found := false
			for _, e := range errs {
				if strings.Contains(e.Reason, tc.reason) {
					found = true
				}
			}
			if !found {
				t.Fatalf("no error with reason %q in %v", tc.reason, errs)
			}
		})
	}
}

func TestValidateAcceptsSample(t *testing.T) {
	reg := schema.Default()
	doc, err := Normalize(reg, sampleDocument())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	errs, err := Validate(reg, doc)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("unexpected schema errors: %v", errs)
	}
}

func TestValidateFailsClosedOnDepth(t *testing.T) {
	n := Node{Type: schema.TypeParagraph}
	for i := 0; i < MaxDepth+1; i++ {
		n = Node{Type: schema.TypeBlockquote, Content: []Node{n}}
	}
	_, err := Validate(schema.Default(), NewDocument(1, n))
	if !errors.Is(err, ErrMaxDepthExceeded) {
		t.Fatalf("expected ErrMaxDepthExceeded, got %v", err)
	}
}

func TestHashFollowsStructure(t *testing.T) {
	a := sampleDocument()
	b := sampleDocument()
	ha, err := Hash(a)
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	hb, _ := Hash(b)
	if ha != hb {
		t.Fatal("equal documents hash differently")
	}

	b.Root.Content[0].Content[0].Text = "changed"
	hc, _ := Hash(b)
	if ha == hc {
		t.Fatal("different documents share a hash")
	}
}

func TestFindAndTextLength(t *testing.T) {
	doc := sampleDocument()
	n, ok := Find(doc, "p1")
	if !ok {
		t.Fatal("expected p1 to be found")
	}
	if got := Text(n); got != "Hello wörld" {
		t.Fatalf("Text() = %q", got)
	}
	if got := TextLength(n); got != 11 {
		t.Fatalf("TextLength() = %d, want 11", got)
	}
	if _, ok := Find(doc, "missing"); ok {
		t.Fatal("expected missing id not found")
	}
	if idx := Index(doc); len(idx) != 4 {
		t.Fatalf("Index() size = %d, want 4", len(idx))
	}
}

func sampleDocument() Document {
	return Document{
		SchemaVersion: 1,
		Root: Node{Type: schema.TypeDoc, Content: []Node{
			{ID: "p1", Type: schema.TypeParagraph, Content: []Node{
				NewText("Hello "),
				NewText("wörld", Mark{Type: schema.MarkBold}),
			}},
			{ID: "l1", Type: schema.TypeBulletList, Content: []Node{
				{ID: "li1", Type: schema.TypeListItem, Content: []Node{
					{Type: schema.TypeParagraph, Content: []Node{
						NewText("link", Mark{Type: schema.MarkLink, Attrs: map[string]any{"href": "https://example.com"}}),
						{Type: schema.TypeMention, Attrs: map[string]any{"entityId": "u1", "label": "Ana"}},
					}},
				}},
			}},
			{ID: "img", Type: schema.TypeImage, Attrs: map[string]any{"src": "a.png"}},
		}},
	}
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return raw
}
