package history

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"folio/api/internal/doctree"
	"folio/api/internal/schema"
)

func paragraphDoc(text string) doctree.Document {
	return doctree.NewDocument(schema.DefaultVersion, doctree.Node{
		ID:      "p1",
		Type:    schema.TypeParagraph,
		Content: []doctree.Node{doctree.NewText(text)},
	})
}

func backends(t *testing.T) map[string]Log {
	t.Helper()
	reg := schema.Default()
	logs := map[string]Log{
		"memory": NewMemoryLog(reg),
		"git":    NewGitLog(t.TempDir(), reg),
	}
	if endpoint := os.Getenv("FOLIO_TEST_S3_ENDPOINT"); endpoint != "" {
		obj, err := NewObjectLog(context.Background(), ObjectConfig{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("FOLIO_TEST_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("FOLIO_TEST_S3_SECRET_KEY"),
			Bucket:    "folio-history-test-" + time.Now().UTC().Format("20060102150405"),
		}, reg)
		if err != nil {
			t.Fatalf("NewObjectLog() error = %v", err)
		}
		logs["object"] = obj
	}
	return logs
}

func TestAppendAssignsIncreasingVersions(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i, text := range []string{"one", "two", "three"} {
				snap, err := log.Append(ctx, "page-1", paragraphDoc(text), "alice", base.Add(time.Duration(i)*time.Minute))
				if err != nil {
					t.Fatalf("Append(%d) error = %v", i, err)
				}
				if snap.Version != i+1 {
					t.Fatalf("Append(%d) version = %d, want %d", i, snap.Version, i+1)
				}
				if snap.Ref == "" {
					t.Fatalf("Append(%d) returned empty ref", i)
				}
			}

			latest, err := log.Latest(ctx, "page-1")
			if err != nil {
				t.Fatalf("Latest() error = %v", err)
			}
			if latest.Version != 3 || doctree.Text(latest.Doc.Root) != "three" {
				t.Fatalf("Latest() = v%d %q", latest.Version, doctree.Text(latest.Doc.Root))
			}
			if !latest.CreatedAt.Equal(base.Add(2 * time.Minute)) {
				t.Fatalf("Latest() createdAt = %s", latest.CreatedAt)
			}

			second, err := log.Get(ctx, "page-1", 2)
			if err != nil {
				t.Fatalf("Get(2) error = %v", err)
			}
			if !doctree.Equal(second.Doc, paragraphDoc("two")) {
				t.Fatalf("Get(2) doc mismatch: %+v", second.Doc)
			}
			if second.AuthorID != "alice" {
				t.Fatalf("Get(2) author = %q", second.AuthorID)
			}

			if _, err := log.Get(ctx, "page-1", 9); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(9) expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, text := range []string{"a", "b", "c", "d"} {
				if _, err := log.Append(ctx, "page-2", paragraphDoc(text), "bob", at); err != nil {
					t.Fatalf("Append() error = %v", err)
				}
			}

			all, err := log.List(ctx, "page-2", 0)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(all) != 4 {
				t.Fatalf("List() len = %d, want 4", len(all))
			}
			for i, info := range all {
				if info.Version != 4-i {
					t.Fatalf("List()[%d].Version = %d, want %d", i, info.Version, 4-i)
				}
			}

			limited, err := log.List(ctx, "page-2", 2)
			if err != nil {
				t.Fatalf("List(limit) error = %v", err)
			}
			if len(limited) != 2 || limited[0].Version != 4 || limited[1].Version != 3 {
				t.Fatalf("List(limit) = %+v", limited)
			}
		})
	}
}

func TestMissingPage(t *testing.T) {
	ctx := context.Background()
	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := log.Latest(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Latest() expected ErrNotFound, got %v", err)
			}
			items, err := log.List(ctx, "nobody", 0)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(items) != 0 {
				t.Fatalf("List() = %+v, want empty", items)
			}
		})
	}
}

func TestPagesAreIndependent(t *testing.T) {
	ctx := context.Background()
	at := time.Now().UTC().Truncate(time.Second)
	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := log.Append(ctx, "left", paragraphDoc("l1"), "a", at); err != nil {
				t.Fatalf("Append(left) error = %v", err)
			}
			if _, err := log.Append(ctx, "left", paragraphDoc("l2"), "a", at); err != nil {
				t.Fatalf("Append(left) error = %v", err)
			}
			snap, err := log.Append(ctx, "right", paragraphDoc("r1"), "a", at)
			if err != nil {
				t.Fatalf("Append(right) error = %v", err)
			}
			if snap.Version != 1 {
				t.Fatalf("right version = %d, want 1", snap.Version)
			}
		})
	}
}

func TestInvalidPageID(t *testing.T) {
	ctx := context.Background()
	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"", "..", "a/b", `a\b`} {
				_, err := log.Append(ctx, id, paragraphDoc("x"), "a", time.Now())
				if !errors.Is(err, ErrInvalidPageID) {
					t.Fatalf("Append(%q) expected ErrInvalidPageID, got %v", id, err)
				}
			}
		})
	}
}

func TestSnapshotCodecPreservesUnknownNodes(t *testing.T) {
	reg := schema.Default()
	doc, err := doctree.Parse(reg, []byte(`{"type":"doc","content":[{"type":"poll","attrs":{"question":"?"}}]}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	payload, err := encodeSnapshot(Snapshot{PageID: "p", Version: 1, AuthorID: "a", Doc: doc})
	if err != nil {
		t.Fatalf("encodeSnapshot() error = %v", err)
	}
	got, err := decodeSnapshot(reg, payload)
	if err != nil {
		t.Fatalf("decodeSnapshot() error = %v", err)
	}
	want, err := doctree.Normalize(reg, doc)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	want.SchemaVersion = doc.SchemaVersion
	if !doctree.Equal(got.Doc, want) {
		t.Fatalf("decoded doc differs:\n got %+v\nwant %+v", got.Doc, want)
	}
	if got.Doc.Root.Content[0].Attrs[schema.AttrOriginalType] != "poll" {
		t.Fatalf("unknown node lost its type: %+v", got.Doc.Root.Content[0])
	}
}

func TestLatestRestoresAttributeKinds(t *testing.T) {
	reg := schema.Default()
	doc, err := doctree.Normalize(reg, doctree.NewDocument(schema.DefaultVersion, doctree.Node{
		ID:      "h1",
		Type:    schema.TypeHeading,
		Attrs:   map[string]any{"level": 3},
		Content: []doctree.Node{doctree.NewText("Title")},
	}))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := log.Append(ctx, "page-h", doc, "user-a", time.Now()); err != nil {
				t.Fatalf("Append() error = %v", err)
			}
			got, err := log.Latest(ctx, "page-h")
			if err != nil {
				t.Fatalf("Latest() error = %v", err)
			}
			level, ok := got.Doc.Root.Content[0].Attrs["level"].(int)
			if !ok || level != 3 {
				t.Fatalf("level = %#v, want int 3", got.Doc.Root.Content[0].Attrs["level"])
			}
			if !doctree.Equal(got.Doc, doc) {
				t.Fatalf("latest doc differs from appended:\n got %+v\nwant %+v", got.Doc, doc)
			}
		})
	}
}
