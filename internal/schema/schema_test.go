package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryCoversBuiltinTypes(t *testing.T) {
	reg := Default()
	require.Equal(t, DefaultVersion, reg.Version())

	for _, nt := range []NodeType{
		TypeDoc, TypeParagraph, TypeHeading, TypeText, TypeBlockquote, TypeBulletList,
		TypeOrderedList, TypeListItem, TypeTaskList, TypeTaskItem, TypeCodeBlock,
		TypeHorizontalRule, TypeHardBreak, TypeTable, TypeTableRow, TypeTableCell,
		TypeTableHeader, TypeImage, TypeVideo, TypeEmbed, TypeAttachment, TypeMathInline,
		TypeMathBlock, TypeMention, TypeSubpages, TypeCallout, TypeDetails,
		TypeDetailsSummary, TypeDetailsContent, TypeGantt, TypeUnknown,
	} {
		_, ok := reg.Lookup(nt)
		assert.Truef(t, ok, "missing schema for %s", nt)
	}
	for _, mt := range []MarkType{
		MarkBold, MarkItalic, MarkUnderline, MarkStrike, MarkCode, MarkLink,
		MarkTextColor, MarkHighlight, MarkSubscript, MarkSuperscript,
	} {
		_, ok := reg.Mark(mt)
		assert.Truef(t, ok, "missing mark %s", mt)
	}
}

func TestAtomicNodesAreLeaves(t *testing.T) {
	reg := Default()
	for _, nt := range reg.Types() {
		s, _ := reg.Lookup(nt)
		if s.Atomic {
			assert.Equalf(t, Leaf, s.Content, "%s is atomic but not a leaf", nt)
		}
	}
}

func TestNewRegistryRejectsBadSchemas(t *testing.T) {
	base := func() []NodeSchema {
		return []NodeSchema{
			{Type: TypeDoc, Content: BlockChildren},
			{Type: TypeText, Group: GroupInline},
		}
	}

	tests := []struct {
		name    string
		version int
		extra   []NodeSchema
	}{
		{name: "zero version", version: 0},
		{name: "duplicate type", version: 1, extra: []NodeSchema{{Type: TypeDoc}}},
		{name: "atomic with children", version: 1, extra: []NodeSchema{{Type: "widget", Atomic: true, Content: BlockChildren}}},
		{name: "unregistered child", version: 1, extra: []NodeSchema{{Type: "list", Content: BlockChildren, Allowed: []NodeType{"item"}}}},
		{name: "bad default", version: 1, extra: []NodeSchema{{Type: "box", Attributes: []Attribute{{Name: "n", Kind: KindInt, Default: "x"}}}}},
		{name: "duplicate data-type", version: 1, extra: []NodeSchema{
			{Type: "a", HTML: HTMLSpec{Tag: "div", DataType: "same"}},
			{Type: "b", HTML: HTMLSpec{Tag: "div", DataType: "same"}},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRegistry(tc.version, append(base(), tc.extra...))
			require.Error(t, err)
		})
	}
}

func TestRegistriesWithDifferentVersionsCoexist(t *testing.T) {
	nodes := append(BuiltinNodes(), NodeSchema{
		Type: "poll", Group: GroupBlock, Atomic: true,
		Attributes: []Attribute{{Name: "question", Kind: KindString, Default: ""}},
		HTML:       HTMLSpec{Tag: "div", DataType: "poll"},
	})
	v2, err := NewRegistry(2, nodes)
	require.NoError(t, err)

	_, ok := v2.Lookup("poll")
	assert.True(t, ok)
	_, ok = Default().Lookup("poll")
	assert.False(t, ok)
	assert.Equal(t, 2, v2.Version())
	assert.Equal(t, DefaultVersion, Default().Version())
}

func TestAttributeCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		attr Attribute
		in   any
		want any
		raw  string
	}{
		{name: "int from float", attr: Attribute{Name: "level", Kind: KindInt}, in: float64(3), want: 3, raw: "3"},
		{name: "int from string", attr: Attribute{Name: "level", Kind: KindInt}, in: "4", want: 4, raw: "4"},
		{name: "float", attr: Attribute{Name: "ratio", Kind: KindFloat}, in: 0.5, want: 0.5, raw: "0.5"},
		{name: "bool", attr: Attribute{Name: "checked", Kind: KindBool}, in: true, want: true, raw: "true"},
		{name: "string", attr: Attribute{Name: "src", Kind: KindString}, in: "a.png", want: "a.png", raw: "a.png"},
		{
			name: "json",
			attr: Attribute{Name: "tasks", Kind: KindJSON},
			in:   []any{map[string]any{"name": "x", "days": float64(2)}},
			want: []any{map[string]any{"days": float64(2), "name": "x"}},
			raw:  `[{"days":2,"name":"x"}]`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := tc.attr.Encode(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.raw, raw)

			got, err := tc.attr.Canonical(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			again, err := tc.attr.Canonical(got)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestDecodeAttributeFallsBackToDefault(t *testing.T) {
	reg := Default()
	assert.Equal(t, 1, reg.DecodeAttribute(TypeHeading, "level", "not-a-number"))
	assert.Equal(t, false, reg.DecodeAttribute(TypeTaskItem, "checked", "maybe"))
	assert.Equal(t, 3, reg.DecodeAttribute(TypeHeading, "level", "3"))
}

func TestEncodeAttributeRejectsUnknownNames(t *testing.T) {
	reg := Default()
	_, err := reg.EncodeAttribute(TypeParagraph, "colour", "red")
	require.Error(t, err)

	_, err = reg.EncodeAttribute("nope", "x", 1)
	require.True(t, errors.Is(err, ErrUnknownType))
}

func TestCheckChildren(t *testing.T) {
	reg := Default()
	tests := []struct {
		name     string
		parent   NodeType
		children []NodeType
		wantErr  bool
	}{
		{name: "doc of blocks", parent: TypeDoc, children: []NodeType{TypeParagraph, TypeTable}},
		{name: "paragraph of inline", parent: TypeParagraph, children: []NodeType{TypeText, TypeMention, TypeHardBreak}},
		{name: "unknown anywhere", parent: TypeParagraph, children: []NodeType{TypeUnknown}},
		{name: "block in paragraph", parent: TypeParagraph, children: []NodeType{TypeParagraph}, wantErr: true},
		{name: "text in doc", parent: TypeDoc, children: []NodeType{TypeText}, wantErr: true},
		{name: "paragraph in list", parent: TypeBulletList, children: []NodeType{TypeParagraph}, wantErr: true},
		{name: "mention in code block", parent: TypeCodeBlock, children: []NodeType{TypeMention}, wantErr: true},
		{name: "children on atomic", parent: TypeImage, children: []NodeType{TypeText}, wantErr: true},
		{name: "unregistered child", parent: TypeDoc, children: []NodeType{"widget"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := reg.CheckChildren(tc.parent, tc.children)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCheckAttributes(t *testing.T) {
	reg := Default()
	assert.Empty(t, reg.CheckAttributes(TypeHeading, map[string]any{"level": 2}))
	assert.Equal(t, []string{`unknown attribute "colour"`}, reg.CheckAttributes(TypeHeading, map[string]any{"colour": "red"}))
	assert.Len(t, reg.CheckAttributes(TypeHeading, map[string]any{"level": "high"}), 1)
	assert.Equal(t, []string{"attribute level: 7 is outside 1..6"}, reg.CheckAttributes(TypeHeading, map[string]any{"level": 7}))
	assert.Len(t, reg.CheckAttributes(TypeHeading, map[string]any{"level": float64(0)}), 1)
	assert.Empty(t, reg.CheckAttributes(TypeHeading, map[string]any{"level": float64(6)}))
}

func TestValidateNode(t *testing.T) {
	reg := Default()
	assert.Empty(t, reg.ValidateNode("h", TypeHeading, map[string]any{"level": 3}, []NodeType{TypeText}))

	errs := reg.ValidateNode("h", TypeHeading, map[string]any{"level": 9}, []NodeType{TypeParagraph})
	require.Len(t, errs, 2)
	assert.Equal(t, "h", errs[0].NodeID)
	assert.Contains(t, errs[0].Reason, "outside 1..6")
	assert.Contains(t, errs[1].Reason, "does not accept")

	assert.Empty(t, reg.ValidateNode("u", TypeUnknown, map[string]any{AttrOriginalType: "poll"}, []NodeType{"anything"}))
}

func TestMatchElementPrefersDataType(t *testing.T) {
	reg := Default()

	s, ok := reg.MatchElement("ul", "")
	require.True(t, ok)
	assert.Equal(t, TypeBulletList, s.Type)

	s, ok = reg.MatchElement("ul", "taskList")
	require.True(t, ok)
	assert.Equal(t, TypeTaskList, s.Type)

	s, ok = reg.MatchElement("H3", "")
	require.True(t, ok)
	assert.Equal(t, TypeHeading, s.Type)

	_, ok = reg.MatchElement("div", "poll")
	assert.False(t, ok)

	m, ok := reg.MatchMark("b", "")
	require.True(t, ok)
	assert.Equal(t, MarkBold, m.Type)

	m, ok = reg.MatchMark("span", "textColor")
	require.True(t, ok)
	assert.Equal(t, MarkTextColor, m.Type)
}

func TestHTMLAttrNames(t *testing.T) {
	assert.Equal(t, "data-callout-type", Attribute{Name: "calloutType"}.HTMLAttr())
	assert.Equal(t, "href", Attribute{Name: "href", HTMLName: "href"}.HTMLAttr())
}
