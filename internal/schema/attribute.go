package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindJSON
)

// Attribute is one named, typed attribute of a node or mark. The value
// codec is fixed by Kind; Default is always stored in canonical form.
type Attribute struct {
	Name    string
	Kind    Kind
	Default any
	// InTag marks attributes recovered from the element tag instead of a
	// data attribute (heading level).
	InTag bool
	// HTMLName overrides the data-* attribute name (href on links).
	HTMLName string
	// Min and Max bound KindInt values when Max is non-zero.
	Min, Max int
}

// HTMLAttr is the HTML attribute name the value is written to.
func (a Attribute) HTMLAttr() string {
	if a.HTMLName != "" {
		return a.HTMLName
	}
	return "data-" + kebab(a.Name)
}

// Encode serializes a value to its attribute string form.
func (a Attribute) Encode(v any) (string, error) {
	switch a.Kind {
	case KindString:
		switch t := v.(type) {
		case string:
			return t, nil
		case nil:
			return "", nil
		case bool, int, int64, float64, json.Number:
			return fmt.Sprint(t), nil
		}
	case KindInt:
		switch t := v.(type) {
		case int:
			return strconv.Itoa(t), nil
		case int64:
			return strconv.FormatInt(t, 10), nil
		case float64:
			if t == math.Trunc(t) && !math.IsInf(t, 0) {
				return strconv.FormatInt(int64(t), 10), nil
			}
		case json.Number:
			if n, err := t.Int64(); err == nil {
				return strconv.FormatInt(n, 10), nil
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return strconv.FormatInt(n, 10), nil
			}
		}
	case KindFloat:
		switch t := v.(type) {
		case float64:
			if !math.IsNaN(t) && !math.IsInf(t, 0) {
				return strconv.FormatFloat(t, 'g', -1, 64), nil
			}
		case int:
			return strconv.Itoa(t), nil
		case int64:
			return strconv.FormatInt(t, 10), nil
		case json.Number:
			if f, err := t.Float64(); err == nil {
				return strconv.FormatFloat(f, 'g', -1, 64), nil
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				return strconv.FormatFloat(f, 'g', -1, 64), nil
			}
		}
	case KindBool:
		switch t := v.(type) {
		case bool:
			return strconv.FormatBool(t), nil
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
				return strconv.FormatBool(b), nil
			}
		}
	case KindJSON:
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode attribute %s: %w", a.Name, err)
		}
		return string(raw), nil
	}
	return "", fmt.Errorf("encode attribute %s: unsupported value %T", a.Name, v)
}

// Decode parses the attribute string form back into a value.
func (a Attribute) Decode(raw string) (any, error) {
	switch a.Kind {
	case KindString:
		return raw, nil
	case KindInt:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode attribute %s: %w", a.Name, err)
		}
		return int(n), nil
	case KindFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("decode attribute %s: %w", a.Name, err)
		}
		return f, nil
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("decode attribute %s: %w", a.Name, err)
		}
		return b, nil
	case KindJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode attribute %s: %w", a.Name, err)
		}
		return v, nil
	}
	return nil, fmt.Errorf("decode attribute %s: unknown kind %d", a.Name, a.Kind)
}

// Canonical runs a value through its codec so equal values compare equal
// regardless of how they were produced.
func (a Attribute) Canonical(v any) (any, error) {
	raw, err := a.Encode(v)
	if err != nil {
		return nil, err
	}
	return a.Decode(raw)
}

// Check canonicalizes v and enforces the declared bounds.
func (a Attribute) Check(v any) error {
	canon, err := a.Canonical(v)
	if err != nil {
		return err
	}
	if a.Kind != KindInt || a.Max == 0 {
		return nil
	}
	if n, ok := canon.(int); ok && (n < a.Min || n > a.Max) {
		return fmt.Errorf("attribute %s: %d is outside %d..%d", a.Name, n, a.Min, a.Max)
	}
	return nil
}

// IsDefault reports whether v equals the attribute default.
func (a Attribute) IsDefault(v any) bool {
	return reflect.DeepEqual(v, a.Default)
}

func kebab(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
