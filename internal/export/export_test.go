package export

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"folio/api/internal/annotation"
	"folio/api/internal/cache"
	"folio/api/internal/doctree"
	"folio/api/internal/history"
	"folio/api/internal/rbac"
	"folio/api/internal/render"
	"folio/api/internal/schema"
	"folio/api/internal/store"
)

type fixture struct {
	svc      *Service
	store    *store.MemoryStore
	history  *history.MemoryLog
	comments *annotation.Service
}

var commenter = rbac.Actor{ID: "alice", Role: rbac.RoleCommenter}

func newFixture(t *testing.T) fixture {
	t.Helper()
	reg := schema.Default()
	st := store.NewMemoryStore()
	log := history.NewMemoryLog(reg)
	comments := annotation.NewService(st, log, reg, rbac.RoleAuthorizer{})
	renderer := render.NewService(reg, cache.NewMemoryCache(), time.Minute, nil)
	return fixture{
		svc:      NewService(log, st, comments, renderer, nil),
		store:    st,
		history:  log,
		comments: comments,
	}
}

func (f fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	doc := doctree.NewDocument(schema.DefaultVersion,
		doctree.Node{ID: "h1", Type: schema.TypeHeading, Attrs: map[string]any{"level": 1}, Content: []doctree.Node{doctree.NewText("Plan")}},
		doctree.Node{ID: "p1", Type: schema.TypeParagraph, Content: []doctree.Node{doctree.NewText("Ship the <beta> in May")}},
	)
	if _, err := f.history.Append(ctx, "roadmap", doc, "bob", time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("append snapshot: %v", err)
	}
	if err := f.store.UpsertPage(ctx, store.Page{ID: "roadmap", Title: "Q2 Roadmap", LatestVersion: 1}); err != nil {
		t.Fatalf("upsert page: %v", err)
	}
	body, _ := json.Marshal(map[string]any{
		"type":    "doc",
		"content": []any{map[string]any{"type": "paragraph", "content": []any{map[string]any{"type": "text", "text": "Is May realistic?"}}}},
	})
	if _, err := f.comments.CreateComment(ctx, commenter, annotation.CreateCommentInput{
		PageID:  "roadmap",
		Content: body,
		Anchor:  &annotation.AnchorInput{NodeID: "p1", Start: 19, End: 22},
	}); err != nil {
		t.Fatalf("create comment: %v", err)
	}
}

func TestExportHTMLWithComments(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res, err := f.svc.Export(context.Background(), Request{PageID: "roadmap", Format: FormatHTML, IncludeComments: true, Actor: commenter})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	html := string(res.Data)
	for _, want := range []string{
		"<title>Q2 Roadmap</title>",
		"<h1 data-node-id=\"h1\">Plan</h1>",
		"Ship the &lt;beta&gt; in May",
		"&ldquo;May&rdquo;",
		"Is May realistic?",
		"Version 1 | bob",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("export missing %q\n%s", want, html)
		}
	}
	if res.Filename != "Q2-Roadmap.html" {
		t.Errorf("unexpected filename %q", res.Filename)
	}
	if strings.Contains(html, "&lt;h1") {
		t.Error("rendered content must not be escaped twice")
	}
}

func TestExportWithoutComments(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res, err := f.svc.Export(context.Background(), Request{PageID: "roadmap", Format: FormatHTML})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if strings.Contains(string(res.Data), "Is May realistic?") {
		t.Error("comments exported without being requested")
	}
}

func TestExportText(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res, err := f.svc.Export(context.Background(), Request{PageID: "roadmap", Format: FormatText, IncludeComments: true, Actor: commenter})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	text := string(res.Data)
	for _, want := range []string{"Q2 Roadmap\n", "Plan\nShip the <beta> in May", "> May\nalice: Is May realistic?"} {
		if !strings.Contains(text, want) {
			t.Errorf("text export missing %q\n%s", want, text)
		}
	}
	if res.MimeType != "text/plain; charset=utf-8" {
		t.Errorf("unexpected mime type %q", res.MimeType)
	}
}

func TestExportPDFUsesConverter(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	var gotHTML, gotTitle string
	f.svc.pdf = func(_ context.Context, html, title string) (*Result, error) {
		gotHTML, gotTitle = html, title
		return &Result{Data: []byte("%PDF"), Filename: sanitizeFilename(title) + ".pdf", MimeType: "application/pdf"}, nil
	}

	res, err := f.svc.Export(context.Background(), Request{PageID: "roadmap", Format: FormatPDF})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if gotTitle != "Q2 Roadmap" || !strings.Contains(gotHTML, "Plan") {
		t.Fatalf("converter got title %q html %q", gotTitle, gotHTML)
	}
	if string(res.Data) != "%PDF" {
		t.Fatalf("unexpected data %q", res.Data)
	}
}

func TestExportErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Export(ctx, Request{PageID: "missing"}); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
	f.seed(t)
	if _, err := f.svc.Export(ctx, Request{PageID: "roadmap", Version: 7}); !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable for unknown version, got %v", err)
	}
	if _, err := f.svc.Export(ctx, Request{PageID: "roadmap", Format: "odt"}); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatHTML {
		t.Fatalf("empty format = %q, %v", f, err)
	}
	if f, err := ParseFormat("docx"); err != nil || f != FormatDOCX {
		t.Fatalf("docx = %q, %v", f, err)
	}
	if _, err := ParseFormat("rtf"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello-World"},
		{"My Document v1.2", "My-Document-v12"},
		{"Special!@#$%Chars", "SpecialChars"},
		{"", "document"},
		{"日本語", "document"},
		{"Very Long Title That Exceeds Fifty Characters Limit", "Very-Long-Title-That-Exceeds-Fifty-Characters-Limi"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizeFilename(tt.input); got != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello world", "hello%20world"},
		{"test+sign", "test%2Bsign"},
		{"special<>", "special%3C%3E"},
		{"normal-text.txt", "normal-text.txt"},
		{"é", "%C3%A9"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := percentEncodeForDataURL(tt.input); got != tt.expected {
				t.Errorf("percentEncodeForDataURL(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRenderDocumentHTML(t *testing.T) {
	html, err := RenderDocumentHTML(TemplateData{
		Title:       "Test <Document>",
		Version:     3,
		ContentHTML: "<p>This is the content.</p>",
		Threads: []TemplateThread{{
			Quote:    "content",
			Anchor:   "ORPHANED",
			Author:   "carol",
			Body:     "<script>x</script>",
			Resolved: true,
			Replies:  []TemplateReply{{Author: "dan", Body: "ok"}},
		}},
	})
	if err != nil {
		t.Fatalf("RenderDocumentHTML() error = %v", err)
	}
	for _, want := range []string{
		"Test &lt;Document&gt;",
		"<p>This is the content.</p>",
		"thread resolved",
		"(orphaned)",
		"&lt;script&gt;",
		"dan",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("template output missing %q", want)
		}
	}
}
