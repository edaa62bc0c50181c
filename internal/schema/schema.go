package schema

import "fmt"

type NodeType string

const (
	TypeDoc            NodeType = "doc"
	TypeParagraph      NodeType = "paragraph"
	TypeHeading        NodeType = "heading"
	TypeText           NodeType = "text"
	TypeBlockquote     NodeType = "blockquote"
	TypeBulletList     NodeType = "bulletList"
	TypeOrderedList    NodeType = "orderedList"
	TypeListItem       NodeType = "listItem"
	TypeTaskList       NodeType = "taskList"
	TypeTaskItem       NodeType = "taskItem"
	TypeCodeBlock      NodeType = "codeBlock"
	TypeHorizontalRule NodeType = "horizontalRule"
	TypeHardBreak      NodeType = "hardBreak"
	TypeTable          NodeType = "table"
	TypeTableRow       NodeType = "tableRow"
	TypeTableCell      NodeType = "tableCell"
	TypeTableHeader    NodeType = "tableHeader"
	TypeImage          NodeType = "image"
	TypeVideo          NodeType = "video"
	TypeEmbed          NodeType = "embed"
	TypeAttachment     NodeType = "attachment"
	TypeMathInline     NodeType = "mathInline"
	TypeMathBlock      NodeType = "mathBlock"
	TypeMention        NodeType = "mention"
	TypeSubpages       NodeType = "subpages"
	TypeCallout        NodeType = "callout"
	TypeDetails        NodeType = "details"
	TypeDetailsSummary NodeType = "detailsSummary"
	TypeDetailsContent NodeType = "detailsContent"
	TypeGantt          NodeType = "gantt"
	TypeUnknown        NodeType = "unknown"
)

// Attribute names carried by the opaque unknown node.
const (
	AttrOriginalType = "originalType"
	AttrRaw          = "raw"
)

// ContentModel describes which children a node type accepts.
type ContentModel int

const (
	Leaf ContentModel = iota
	BlockChildren
	InlineChildren
	Mixed
)

func (c ContentModel) String() string {
	switch c {
	case Leaf:
		return "leaf"
	case BlockChildren:
		return "block"
	case InlineChildren:
		return "inline"
	case Mixed:
		return "mixed"
	default:
		return fmt.Sprintf("ContentModel(%d)", int(c))
	}
}

// Group places a node type in block or inline flow. GroupAny is reserved for
// the opaque unknown node, which may sit in either.
type Group int

const (
	GroupBlock Group = iota
	GroupInline
	GroupAny
)

// HTMLSpec maps a node type onto an HTML element.
type HTMLSpec struct {
	Tag      string
	DataType string
	AltTags  []string
	// ContentTag wraps the children inside the element, e.g. code inside pre.
	ContentTag string
	// TagFor derives the element tag from attributes when it varies (h1..h6).
	TagFor func(attrs map[string]any) string
	// FromTag recovers the attributes carried by the tag itself.
	FromTag func(tag string) map[string]any
	// Inner renders escaped display markup inside atomic elements. It is
	// ignored on the way back in.
	Inner func(attrs map[string]any) string
}

// NodeSchema is the fixed shape of one node type.
type NodeSchema struct {
	Type       NodeType
	Group      Group
	Content    ContentModel
	Atomic     bool
	Allowed    []NodeType
	Attributes []Attribute
	HTML       HTMLSpec
	// PlainText extracts readable text from an atomic node. Nil means the
	// node renders as a bracketed placeholder.
	PlainText func(attrs map[string]any) string
}

// Attribute returns the attribute definition with the given name.
func (s NodeSchema) Attribute(name string) (Attribute, bool) {
	for _, a := range s.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

func (s NodeSchema) IsInline() bool {
	return s.Group == GroupInline
}

func (s NodeSchema) allows(child NodeSchema) bool {
	if child.Group == GroupAny {
		return true
	}
	if len(s.Allowed) > 0 {
		for _, t := range s.Allowed {
			if t == child.Type {
				return true
			}
		}
		return false
	}
	switch s.Content {
	case BlockChildren:
		return child.Group == GroupBlock
	case InlineChildren:
		return child.Group == GroupInline
	case Mixed:
		return true
	default:
		return false
	}
}

type MarkType string

const (
	MarkBold        MarkType = "bold"
	MarkItalic      MarkType = "italic"
	MarkUnderline   MarkType = "underline"
	MarkStrike      MarkType = "strike"
	MarkCode        MarkType = "code"
	MarkLink        MarkType = "link"
	MarkTextColor   MarkType = "textColor"
	MarkHighlight   MarkType = "highlight"
	MarkSubscript   MarkType = "subscript"
	MarkSuperscript MarkType = "superscript"
)

// MarkSchema maps a mark onto an inline HTML element. DataMark disambiguates
// marks that share a tag.
type MarkSchema struct {
	Type       MarkType
	Tag        string
	AltTags    []string
	DataMark   string
	Attributes []Attribute
}

func (m MarkSchema) Attribute(name string) (Attribute, bool) {
	for _, a := range m.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// SchemaError reports a node that does not satisfy its schema.
type SchemaError struct {
	NodeID   string
	NodeType NodeType
	Reason   string
}

func (e *SchemaError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("schema: %s: %s", e.NodeType, e.Reason)
	}
	return fmt.Sprintf("schema: %s %s: %s", e.NodeType, e.NodeID, e.Reason)
}
