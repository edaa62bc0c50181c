package schema

import (
	"fmt"
	"html"
	"strconv"
	"sync"
)

// DefaultVersion is the schema version of the built-in registry.
const DefaultVersion = 1

var defaultRegistry = sync.OnceValue(func() *Registry {
	r, err := NewRegistry(DefaultVersion, BuiltinNodes(), builtinMarks()...)
	if err != nil {
		panic(fmt.Sprintf("schema: built-in registry: %v", err))
	}
	return r
})

// Default returns the built-in registry. The value is shared and immutable.
func Default() *Registry {
	return defaultRegistry()
}

// BuiltinNodes returns fresh copies of the built-in node schemas, for callers
// that extend the set before building their own registry.
func BuiltinNodes() []NodeSchema {
	cellAttrs := []Attribute{
		{Name: "colspan", Kind: KindInt, Default: 1},
		{Name: "rowspan", Kind: KindInt, Default: 1},
		{Name: "colwidth", Kind: KindJSON, Default: nil},
	}

	return []NodeSchema{
		{Type: TypeDoc, Group: GroupBlock, Content: BlockChildren},
		{Type: TypeText, Group: GroupInline, Content: Leaf},
		{
			Type: TypeParagraph, Group: GroupBlock, Content: InlineChildren,
			Attributes: []Attribute{{Name: "textAlign", Kind: KindString, Default: ""}},
			HTML:       HTMLSpec{Tag: "p"},
		},
		{
			Type: TypeHeading, Group: GroupBlock, Content: InlineChildren,
			Attributes: []Attribute{
				{Name: "level", Kind: KindInt, Default: 1, InTag: true, Min: 1, Max: 6},
				{Name: "textAlign", Kind: KindString, Default: ""},
			},
			HTML: HTMLSpec{
				Tag:     "h1",
				AltTags: []string{"h2", "h3", "h4", "h5", "h6"},
				TagFor: func(attrs map[string]any) string {
					level, _ := attrs["level"].(int)
					if level < 1 || level > 6 {
						level = 1
					}
					return "h" + strconv.Itoa(level)
				},
				FromTag: func(tag string) map[string]any {
					level := 1
					if len(tag) == 2 && tag[1] >= '1' && tag[1] <= '6' {
						level = int(tag[1] - '0')
					}
					return map[string]any{"level": level}
				},
			},
		},
		{Type: TypeBlockquote, Group: GroupBlock, Content: BlockChildren, HTML: HTMLSpec{Tag: "blockquote"}},
		{
			Type: TypeBulletList, Group: GroupBlock, Content: BlockChildren,
			Allowed: []NodeType{TypeListItem},
			HTML:    HTMLSpec{Tag: "ul"},
		},
		{
			Type: TypeOrderedList, Group: GroupBlock, Content: BlockChildren,
			Allowed:    []NodeType{TypeListItem},
			Attributes: []Attribute{{Name: "start", Kind: KindInt, Default: 1}},
			HTML:       HTMLSpec{Tag: "ol"},
		},
		{Type: TypeListItem, Group: GroupBlock, Content: BlockChildren, HTML: HTMLSpec{Tag: "li"}},
		{
			Type: TypeTaskList, Group: GroupBlock, Content: BlockChildren,
			Allowed: []NodeType{TypeTaskItem},
			HTML:    HTMLSpec{Tag: "ul", DataType: "taskList"},
		},
		{
			Type: TypeTaskItem, Group: GroupBlock, Content: BlockChildren,
			Attributes: []Attribute{{Name: "checked", Kind: KindBool, Default: false}},
			HTML:       HTMLSpec{Tag: "li", DataType: "taskItem"},
		},
		{
			Type: TypeCodeBlock, Group: GroupBlock, Content: InlineChildren,
			Allowed:    []NodeType{TypeText},
			Attributes: []Attribute{{Name: "language", Kind: KindString, Default: ""}},
			HTML:       HTMLSpec{Tag: "pre", ContentTag: "code"},
		},
		{
			Type: TypeHorizontalRule, Group: GroupBlock, Content: Leaf, Atomic: true,
			HTML:      HTMLSpec{Tag: "hr"},
			PlainText: func(map[string]any) string { return "---" },
		},
		{
			Type: TypeHardBreak, Group: GroupInline, Content: Leaf, Atomic: true,
			HTML:      HTMLSpec{Tag: "br"},
			PlainText: func(map[string]any) string { return "\n" },
		},
		{
			Type: TypeTable, Group: GroupBlock, Content: BlockChildren,
			Allowed: []NodeType{TypeTableRow},
			HTML:    HTMLSpec{Tag: "table", ContentTag: "tbody"},
		},
		{
			Type: TypeTableRow, Group: GroupBlock, Content: BlockChildren,
			Allowed: []NodeType{TypeTableCell, TypeTableHeader},
			HTML:    HTMLSpec{Tag: "tr"},
		},
		{Type: TypeTableCell, Group: GroupBlock, Content: BlockChildren, Attributes: cloneAttrs(cellAttrs), HTML: HTMLSpec{Tag: "td"}},
		{Type: TypeTableHeader, Group: GroupBlock, Content: BlockChildren, Attributes: cloneAttrs(cellAttrs), HTML: HTMLSpec{Tag: "th"}},
		{
			Type: TypeImage, Group: GroupBlock, Content: Leaf, Atomic: true,
			Attributes: []Attribute{
				{Name: "src", Kind: KindString, Default: ""},
				{Name: "alt", Kind: KindString, Default: ""},
				{Name: "title", Kind: KindString, Default: ""},
				{Name: "width", Kind: KindString, Default: ""},
				{Name: "align", Kind: KindString, Default: "center"},
				{Name: "attachmentId", Kind: KindString, Default: ""},
			},
			HTML: HTMLSpec{
				Tag: "div", DataType: "image",
				Inner: func(attrs map[string]any) string {
					return fmt.Sprintf(`<img src="%s" alt="%s">`, escAttr(attrs, "src"), escAttr(attrs, "alt"))
				},
			},
			PlainText: func(attrs map[string]any) string {
				if alt := str(attrs, "alt"); alt != "" {
					return "[image: " + alt + "]"
				}
				return "[image]"
			},
		},
		{
			Type: TypeVideo, Group: GroupBlock, Content: Leaf, Atomic: true,
			Attributes: []Attribute{
				{Name: "src", Kind: KindString, Default: ""},
				{Name: "width", Kind: KindString, Default: ""},
				{Name: "align", Kind: KindString, Default: "center"},
				{Name: "attachmentId", Kind: KindString, Default: ""},
			},
			HTML: HTMLSpec{
				Tag: "div", DataType: "video",
				Inner: func(attrs map[string]any) string {
					return fmt.Sprintf(`<video src="%s" controls></video>`, escAttr(attrs, "src"))
				},
			},
		},
		{
			Type: TypeEmbed, Group: GroupBlock, Content: Leaf, Atomic: true,
			Attributes: []Attribute{
				{Name: "src", Kind: KindString, Default: ""},
				{Name: "provider", Kind: KindString, Default: ""},
				{Name: "title", Kind: KindString, Default: ""},
				{Name: "height", Kind: KindInt, Default: 480},
			},
			HTML: HTMLSpec{
				Tag: "div", DataType: "embed",
				Inner: func(attrs map[string]any) string {
					label := str(attrs, "title")
					if label == "" {
						label = str(attrs, "src")
					}
					return fmt.Sprintf(`<a href="%s">%s</a>`, escAttr(attrs, "src"), html.EscapeString(label))
				},
			},
			PlainText: func(attrs map[string]any) string {
				if title := str(attrs, "title"); title != "" {
					return title
				}
				return "[embed]"
			},
		},
		{
			Type: TypeAttachment, Group: GroupBlock, Content: Leaf, Atomic: true,
			Attributes: []Attribute{
				{Name: "url", Kind: KindString, Default: ""},
				{Name: "name", Kind: KindString, Default: ""},
				{Name: "mime", Kind: KindString, Default: ""},
				{Name: "size", Kind: KindInt, Default: 0},
				{Name: "attachmentId", Kind: KindString, Default: ""},
			},
			HTML: HTMLSpec{
				Tag: "div", DataType: "attachment",
				Inner: func(attrs map[string]any) string {
					return fmt.Sprintf(`<a href="%s">%s</a>`, escAttr(attrs, "url"), html.EscapeString(str(attrs, "name")))
				},
			},
			PlainText: func(attrs map[string]any) string {
				if name := str(attrs, "name"); name != "" {
					return name
				}
				return "[attachment]"
			},
		},
		{
			Type: TypeMathInline, Group: GroupInline, Content: Leaf, Atomic: true,
			Attributes: []Attribute{{Name: "latex", Kind: KindString, Default: ""}},
			HTML: HTMLSpec{
				Tag: "span", DataType: "mathInline",
				Inner: func(attrs map[string]any) string { return html.EscapeString(str(attrs, "latex")) },
			},
			PlainText: func(attrs map[string]any) string { return str(attrs, "latex") },
		},
		{
			Type: TypeMathBlock, Group: GroupBlock, Content: Leaf, Atomic: true,
			Attributes: []Attribute{{Name: "latex", Kind: KindString, Default: ""}},
			HTML: HTMLSpec{
				Tag: "div", DataType: "mathBlock",
				Inner: func(attrs map[string]any) string { return html.EscapeString(str(attrs, "latex")) },
			},
			PlainText: func(attrs map[string]any) string { return str(attrs, "latex") },
		},
		{
			Type: TypeMention, Group: GroupInline, Content: Leaf, Atomic: true,
			Attributes: []Attribute{
				{Name: "entityId", Kind: KindString, Default: ""},
				{Name: "entityType", Kind: KindString, Default: "user"},
				{Name: "label", Kind: KindString, Default: ""},
				{Name: "creatorId", Kind: KindString, Default: ""},
			},
			HTML: HTMLSpec{
				Tag: "span", DataType: "mention",
				Inner: func(attrs map[string]any) string { return "@" + html.EscapeString(str(attrs, "label")) },
			},
			PlainText: func(attrs map[string]any) string { return "@" + str(attrs, "label") },
		},
		{
			Type: TypeSubpages, Group: GroupBlock, Content: Leaf, Atomic: true,
			Attributes: []Attribute{{Name: "pageIds", Kind: KindJSON, Default: []any{}}},
			HTML:       HTMLSpec{Tag: "div", DataType: "subpages"},
			PlainText:  func(map[string]any) string { return "[subpages]" },
		},
		{
			Type: TypeCallout, Group: GroupBlock, Content: BlockChildren,
			Attributes: []Attribute{
				{Name: "calloutType", Kind: KindString, Default: "info"},
				{Name: "icon", Kind: KindString, Default: ""},
			},
			HTML: HTMLSpec{Tag: "div", DataType: "callout"},
		},
		{
			Type: TypeDetails, Group: GroupBlock, Content: BlockChildren,
			Allowed:    []NodeType{TypeDetailsSummary, TypeDetailsContent},
			Attributes: []Attribute{{Name: "open", Kind: KindBool, Default: false}},
			HTML:       HTMLSpec{Tag: "details"},
		},
		{Type: TypeDetailsSummary, Group: GroupBlock, Content: InlineChildren, HTML: HTMLSpec{Tag: "summary"}},
		{Type: TypeDetailsContent, Group: GroupBlock, Content: BlockChildren, HTML: HTMLSpec{Tag: "div", DataType: "detailsContent"}},
		{
			Type: TypeGantt, Group: GroupBlock, Content: Leaf, Atomic: true,
			Attributes: []Attribute{
				{Name: "title", Kind: KindString, Default: ""},
				{Name: "tasks", Kind: KindJSON, Default: []any{}},
			},
			HTML: HTMLSpec{Tag: "div", DataType: "gantt"},
			PlainText: func(attrs map[string]any) string {
				if title := str(attrs, "title"); title != "" {
					return title
				}
				return "[gantt]"
			},
		},
		unknownSchema(),
	}
}

func unknownSchema() NodeSchema {
	return NodeSchema{
		Type: TypeUnknown, Group: GroupAny, Content: Leaf, Atomic: true,
		Attributes: []Attribute{
			{Name: AttrOriginalType, Kind: KindString, Default: ""},
			{Name: AttrRaw, Kind: KindJSON, Default: nil},
		},
		HTML: HTMLSpec{Tag: "div", DataType: string(TypeUnknown), AltTags: []string{"span"}},
		PlainText: func(attrs map[string]any) string {
			if t := str(attrs, AttrOriginalType); t != "" {
				return "[" + t + "]"
			}
			return "[unknown]"
		},
	}
}

func builtinMarks() []MarkSchema {
	return []MarkSchema{
		{Type: MarkBold, Tag: "strong", AltTags: []string{"b"}},
		{Type: MarkItalic, Tag: "em", AltTags: []string{"i"}},
		{Type: MarkUnderline, Tag: "u"},
		{Type: MarkStrike, Tag: "s", AltTags: []string{"del", "strike"}},
		{Type: MarkCode, Tag: "code"},
		{
			Type: MarkLink, Tag: "a",
			Attributes: []Attribute{
				{Name: "href", Kind: KindString, Default: "", HTMLName: "href"},
				{Name: "target", Kind: KindString, Default: "", HTMLName: "target"},
			},
		},
		{
			Type: MarkTextColor, Tag: "span", DataMark: "textColor",
			Attributes: []Attribute{{Name: "color", Kind: KindString, Default: ""}},
		},
		{
			Type: MarkHighlight, Tag: "mark",
			Attributes: []Attribute{{Name: "color", Kind: KindString, Default: ""}},
		},
		{Type: MarkSubscript, Tag: "sub"},
		{Type: MarkSuperscript, Tag: "sup"},
	}
}

func cloneAttrs(in []Attribute) []Attribute {
	out := make([]Attribute, len(in))
	copy(out, in)
	return out
}

func str(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}

func escAttr(attrs map[string]any, key string) string {
	return html.EscapeString(str(attrs, key))
}
