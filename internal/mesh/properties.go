package mesh

import (
	"encoding/json"
	"fmt"
	"sort"
)

// PropertyKind enumerates the closed set of value kinds a node or edge
// property may hold.
type PropertyKind int

const (
	KindString PropertyKind = iota
	KindNumber
	KindBool
	KindStringList
)

// PropertyValue is one property value. The kind set is closed: string,
// number, bool, or list of strings. Anything else is rejected at the
// template boundary rather than stored as an open dynamic value.
type PropertyValue struct {
	kind PropertyKind
	str  string
	num  float64
	b    bool
	list []string
}

func StringValue(s string) PropertyValue { return PropertyValue{kind: KindString, str: s} }
func NumberValue(n float64) PropertyValue {
	return PropertyValue{kind: KindNumber, num: n}
}
func BoolValue(b bool) PropertyValue { return PropertyValue{kind: KindBool, b: b} }
func StringListValue(l []string) PropertyValue {
	return PropertyValue{kind: KindStringList, list: l}
}

func (v PropertyValue) Kind() PropertyKind { return v.kind }
func (v PropertyValue) String() string     { return v.str }
func (v PropertyValue) Number() float64    { return v.num }
func (v PropertyValue) Bool() bool         { return v.b }
func (v PropertyValue) StringList() []string {
	return v.list
}

// Text renders any value kind as a plain string, used for search indexing
// and reference collection.
func (v PropertyValue) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if v.num == float64(int64(v.num)) {
			return fmt.Sprintf("%d", int64(v.num))
		}
		return fmt.Sprintf("%g", v.num)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindStringList:
		out := ""
		for i, s := range v.list {
			if i > 0 {
				out += ","
			}
			out += s
		}
		return out
	}
	return ""
}

// MarshalJSON encodes the underlying value directly.
func (v PropertyValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindStringList:
		return json.Marshal(v.list)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts the four supported kinds and rejects everything else.
func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pv, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = pv
	return nil
}

// ValueOf converts a dynamically typed value (from JSON schema templates or
// AI responses) into a PropertyValue. Unsupported kinds return an error.
func ValueOf(raw any) (PropertyValue, error) {
	switch x := raw.(type) {
	case string:
		return StringValue(x), nil
	case float64:
		return NumberValue(x), nil
	case int:
		return NumberValue(float64(x)), nil
	case int64:
		return NumberValue(float64(x)), nil
	case bool:
		return BoolValue(x), nil
	case []string:
		return StringListValue(x), nil
	case []any:
		list := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return PropertyValue{}, fmt.Errorf("list property contains non-string element %T", item)
			}
			list = append(list, s)
		}
		return StringListValue(list), nil
	}
	return PropertyValue{}, fmt.Errorf("unsupported property value type %T", raw)
}

// Properties is a typed property bag keyed by name.
type Properties map[string]PropertyValue

// Keys returns the property names in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetString returns the string value for key, or "" if absent or not a string.
func (p Properties) GetString(key string) string {
	v, ok := p[key]
	if !ok || v.kind != KindString {
		return ""
	}
	return v.str
}

// Clone returns a shallow copy of the bag.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
