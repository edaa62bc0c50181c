package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"folio/api/internal/doctree"
	"folio/api/internal/schema"
)

// MemoryLog keeps encoded snapshots in process memory. Snapshots go through
// the same codec as the persistent backends.
type MemoryLog struct {
	reg   *schema.Registry
	mu    sync.RWMutex
	pages map[string][][]byte
}

func NewMemoryLog(reg *schema.Registry) *MemoryLog {
	return &MemoryLog{reg: reg, pages: map[string][][]byte{}}
}

func (m *MemoryLog) Append(_ context.Context, pageID string, doc doctree.Document, authorID string, at time.Time) (Snapshot, error) {
	if err := checkPageID(pageID); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		PageID:    pageID,
		Version:   len(m.pages[pageID]) + 1,
		AuthorID:  authorID,
		CreatedAt: at.UTC(),
		Doc:       doc,
	}
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return Snapshot{}, err
	}
	m.pages[pageID] = append(m.pages[pageID], payload)
	snap.Ref = fmt.Sprintf("mem:%s:%d", pageID, snap.Version)
	return snap, nil
}

func (m *MemoryLog) Latest(ctx context.Context, pageID string) (Snapshot, error) {
	m.mu.RLock()
	n := len(m.pages[pageID])
	m.mu.RUnlock()
	if n == 0 {
		return Snapshot{}, fmt.Errorf("%w: page %s", ErrNotFound, pageID)
	}
	return m.Get(ctx, pageID, n)
}

func (m *MemoryLog) Get(_ context.Context, pageID string, version int) (Snapshot, error) {
	m.mu.RLock()
	versions := m.pages[pageID]
	m.mu.RUnlock()
	if version < 1 || version > len(versions) {
		return Snapshot{}, fmt.Errorf("%w: page %s version %d", ErrNotFound, pageID, version)
	}
	snap, err := decodeSnapshot(m.reg, versions[version-1])
	if err != nil {
		return Snapshot{}, err
	}
	snap.Ref = fmt.Sprintf("mem:%s:%d", pageID, version)
	return snap, nil
}

func (m *MemoryLog) List(ctx context.Context, pageID string, limit int) ([]SnapshotInfo, error) {
	m.mu.RLock()
	n := len(m.pages[pageID])
	m.mu.RUnlock()

	items := make([]SnapshotInfo, 0, n)
	for v := n; v >= 1; v-- {
		snap, err := m.Get(ctx, pageID, v)
		if err != nil {
			return nil, err
		}
		items = append(items, snap.Info())
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, nil
}
