package doctree

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrSkipChildren returned from a WalkFunc skips the node's subtree.
var ErrSkipChildren = errors.New("doctree: skip children")

type WalkFunc func(n Node, depth int) error

// Walk visits n and its descendants depth-first, pre-order.
func Walk(n Node, fn WalkFunc) error {
	return walk(n, 1, fn)
}

func walk(n Node, depth int, fn WalkFunc) error {
	if depth > MaxDepth {
		return ErrMaxDepthExceeded
	}
	if err := fn(n, depth); err != nil {
		if errors.Is(err, ErrSkipChildren) {
			return nil
		}
		return err
	}
	for _, c := range n.Content {
		if err := walk(c, depth+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the node with the given StableId.
func Find(doc Document, id string) (Node, bool) {
	if id == "" {
		return Node{}, false
	}
	var found Node
	var ok bool
	stop := errors.New("found")
	_ = Walk(doc.Root, func(n Node, _ int) error {
		if n.ID == id {
			found, ok = n, true
			return stop
		}
		return nil
	})
	return found, ok
}

// Index maps every StableId in doc to its node.
func Index(doc Document) map[string]Node {
	out := map[string]Node{}
	_ = Walk(doc.Root, func(n Node, _ int) error {
		if n.ID != "" {
			if _, dup := out[n.ID]; !dup {
				out[n.ID] = n
			}
		}
		return nil
	})
	return out
}

// Text concatenates the text runs under n without separators. Offsets into
// this string (in runes) are the anchor coordinate space.
func Text(n Node) string {
	if n.IsText() {
		return n.Text
	}
	var b strings.Builder
	_ = Walk(n, func(c Node, _ int) error {
		if c.IsText() {
			b.WriteString(c.Text)
		}
		return nil
	})
	return b.String()
}

// TextLength is the rune length of Text(n).
func TextLength(n Node) int {
	if n.IsText() {
		return utf8.RuneCountInString(n.Text)
	}
	total := 0
	_ = Walk(n, func(c Node, _ int) error {
		if c.IsText() {
			total += utf8.RuneCountInString(c.Text)
		}
		return nil
	})
	return total
}
