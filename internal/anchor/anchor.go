// Package anchor ties annotations to text ranges and re-resolves them
// against later snapshots of the same page.
package anchor

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"folio/api/internal/doctree"
)

type State string

const (
	// Bound: the node exists and the stored range still fits.
	Bound State = "bound"
	// Shifted: the node exists but shrank; the range was clamped.
	Shifted State = "shifted"
	// Orphaned: the node is gone. The comment is kept, unanchored.
	Orphaned State = "orphaned"
)

var ErrNodeNotFound = errors.New("anchor: node not found")

// Anchor is a text range inside one node, measured in runes over the
// concatenated text of the node's runs.
type Anchor struct {
	NodeID          string `json:"nodeId"`
	Start           int    `json:"textOffsetStart"`
	End             int    `json:"textOffsetEnd"`
	SnapshotVersion int    `json:"snapshotVersion"`
}

type Resolution struct {
	State  State  `json:"state"`
	NodeID string `json:"nodeId"`
	Start  int    `json:"textOffsetStart"`
	End    int    `json:"textOffsetEnd"`
}

// Capture validates a range against the snapshot it was selected in and
// returns the anchor plus the selected text.
func Capture(doc doctree.Document, version int, nodeID string, start, end int) (Anchor, string, error) {
	n, ok := doctree.Find(doc, nodeID)
	if !ok {
		return Anchor{}, "", fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	start, end = order(start, end)
	text := doctree.Text(n)
	length := utf8.RuneCountInString(text)
	start, end = clamp(start, length), clamp(end, length)

	runes := []rune(text)
	return Anchor{NodeID: nodeID, Start: start, End: end, SnapshotVersion: version}, string(runes[start:end]), nil
}

// Index resolves many anchors against one document.
type Index struct {
	lengths map[string]int
}

func NewIndex(doc doctree.Document) *Index {
	nodes := doctree.Index(doc)
	lengths := make(map[string]int, len(nodes))
	for id, n := range nodes {
		lengths[id] = doctree.TextLength(n)
	}
	return &Index{lengths: lengths}
}

// Resolve is pure: the same anchor and document always give the same result.
func (ix *Index) Resolve(a Anchor) Resolution {
	length, ok := ix.lengths[a.NodeID]
	if a.NodeID == "" || !ok {
		return Resolution{State: Orphaned, NodeID: a.NodeID}
	}
	start, end := order(a.Start, a.End)
	cs, ce := clamp(start, length), clamp(end, length)
	state := Bound
	if cs != start || ce != end {
		state = Shifted
	}
	return Resolution{State: state, NodeID: a.NodeID, Start: cs, End: ce}
}

func Resolve(a Anchor, doc doctree.Document) Resolution {
	return NewIndex(doc).Resolve(a)
}

// ResolveAll resolves a batch with a single walk of the document.
func ResolveAll(anchors []Anchor, doc doctree.Document) []Resolution {
	ix := NewIndex(doc)
	out := make([]Resolution, len(anchors))
	for i, a := range anchors {
		out[i] = ix.Resolve(a)
	}
	return out
}

func order(start, end int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = 0
	}
	if start > end {
		start, end = end, start
	}
	return start, end
}

func clamp(v, length int) int {
	if v > length {
		return length
	}
	return v
}
