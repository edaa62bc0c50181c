// Package history stores the append-only log of finalized page snapshots.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"folio/api/internal/doctree"
	"folio/api/internal/schema"
)

var (
	ErrNotFound      = errors.New("history: snapshot not found")
	ErrInvalidPageID = errors.New("history: invalid page id")
)

type Snapshot struct {
	PageID    string           `json:"pageId"`
	Version   int              `json:"version"`
	AuthorID  string           `json:"authorId"`
	CreatedAt time.Time        `json:"createdAt"`
	Ref       string           `json:"ref,omitempty"`
	Doc       doctree.Document `json:"doc"`
}

type SnapshotInfo struct {
	PageID    string    `json:"pageId"`
	Version   int       `json:"version"`
	AuthorID  string    `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
	Ref       string    `json:"ref,omitempty"`
}

func (s Snapshot) Info() SnapshotInfo {
	return SnapshotInfo{PageID: s.PageID, Version: s.Version, AuthorID: s.AuthorID, CreatedAt: s.CreatedAt, Ref: s.Ref}
}

// Log is an append-only, per-page sequence of snapshots. Versions start at 1
// and increase by one per append. Appends to one page are serialized.
type Log interface {
	Append(ctx context.Context, pageID string, doc doctree.Document, authorID string, at time.Time) (Snapshot, error)
	Latest(ctx context.Context, pageID string) (Snapshot, error)
	Get(ctx context.Context, pageID string, version int) (Snapshot, error)
	// List returns snapshot metadata newest first. limit <= 0 means all.
	List(ctx context.Context, pageID string, limit int) ([]SnapshotInfo, error)
}

type record struct {
	PageID    string          `json:"pageId"`
	Version   int             `json:"version"`
	AuthorID  string          `json:"authorId"`
	CreatedAt time.Time       `json:"createdAt"`
	Doc       json.RawMessage `json:"doc"`
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	doc, err := json.Marshal(s.Doc)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot doc: %w", err)
	}
	payload, err := json.MarshalIndent(record{
		PageID:    s.PageID,
		Version:   s.Version,
		AuthorID:  s.AuthorID,
		CreatedAt: s.CreatedAt.UTC(),
		Doc:       doc,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return append(payload, '\n'), nil
}

func decodeSnapshot(reg *schema.Registry, data []byte) (Snapshot, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	parsed, err := doctree.Parse(reg, r.Doc)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot doc: %w", err)
	}
	// JSON numbers come back as float64; attributes need their declared kinds.
	doc, err := doctree.Normalize(reg, parsed)
	if err != nil {
		return Snapshot{}, fmt.Errorf("normalize snapshot doc: %w", err)
	}
	doc.SchemaVersion = parsed.SchemaVersion
	return Snapshot{
		PageID:    r.PageID,
		Version:   r.Version,
		AuthorID:  r.AuthorID,
		CreatedAt: r.CreatedAt,
		Doc:       doc,
	}, nil
}

func checkPageID(pageID string) error {
	if pageID == "" || pageID == "." || pageID == ".." || strings.ContainsAny(pageID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidPageID, pageID)
	}
	return nil
}
