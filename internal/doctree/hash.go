package doctree

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Equal compares two documents structurally, StableIds included. Nil and
// empty attribute maps and child lists are treated alike.
func Equal(a, b Document) bool {
	return a.SchemaVersion == b.SchemaVersion && NodesEqual(a.Root, b.Root)
}

func NodesEqual(a, b Node) bool {
	if a.ID != b.ID || a.Type != b.Type || a.Text != b.Text {
		return false
	}
	if !attrsEqual(a.Attrs, b.Attrs) || !marksEqual(a.Marks, b.Marks) {
		return false
	}
	if len(a.Content) != len(b.Content) {
		return false
	}
	for i := range a.Content {
		if !NodesEqual(a.Content[i], b.Content[i]) {
			return false
		}
	}
	return true
}

// Hash returns a hex BLAKE2b-256 digest of the canonical JSON encoding.
// encoding/json sorts map keys, so equal trees hash equally.
func Hash(doc Document) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("hash document: %w", err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
