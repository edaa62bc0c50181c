package annotation

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"folio/api/internal/doctree"
	"folio/api/internal/schema"
	"folio/api/internal/transcode"
)

const deletedText = "This comment has been deleted"

type content struct {
	doc       doctree.Document
	encoded   string
	plainText string
}

// parseContent accepts a comment body as a JSON document tree and returns it
// normalized, validated and flattened to plain text.
func parseContent(reg *schema.Registry, raw json.RawMessage) (content, error) {
	if len(raw) == 0 {
		return content{}, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	doc, err := doctree.Parse(reg, raw)
	if err != nil {
		return content{}, fmt.Errorf("%w: content: %v", ErrInvalidInput, err)
	}
	doc, err = doctree.Normalize(reg, doc)
	if err != nil {
		return content{}, fmt.Errorf("%w: content: %v", ErrInvalidInput, err)
	}
	issues, err := doctree.Validate(reg, doc)
	if errors.Is(err, doctree.ErrMaxDepthExceeded) {
		return content{}, fmt.Errorf("%w: content: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return content{}, err
	}
	if len(issues) > 0 {
		return content{}, fmt.Errorf("%w: content: %v", ErrInvalidInput, issues[0])
	}
	plain, err := transcode.ToPlainText(reg, doc)
	if err != nil {
		return content{}, fmt.Errorf("%w: content: %v", ErrInvalidInput, err)
	}
	if strings.TrimSpace(plain) == "" {
		return content{}, fmt.Errorf("%w: content is empty", ErrInvalidInput)
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return content{}, fmt.Errorf("encode content: %w", err)
	}
	return content{doc: doc, encoded: string(encoded), plainText: plain}, nil
}

// mentionedUsers returns the distinct user ids referenced by mention nodes.
func mentionedUsers(doc doctree.Document) []string {
	seen := map[string]bool{}
	var out []string
	_ = doctree.Walk(doc.Root, func(n doctree.Node, _ int) error {
		if n.Type != schema.TypeMention {
			return nil
		}
		kind, _ := n.Attrs["entityType"].(string)
		id, _ := n.Attrs["entityId"].(string)
		if (kind == "" || kind == "user") && id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
		return nil
	})
	sort.Strings(out)
	return out
}

func deletedMarker(reg *schema.Registry) doctree.Document {
	return doctree.NewDocument(reg.Version(), doctree.Node{
		Type:    schema.TypeParagraph,
		Content: []doctree.Node{doctree.NewText(deletedText)},
	})
}
