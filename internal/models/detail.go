package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// FieldKind tags which variant a FieldValue holds.
type FieldKind int

const (
	KindScalar FieldKind = iota + 1
	KindSection
	KindList
	KindNumber
)

func (k FieldKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSection:
		return "section"
	case KindList:
		return "list"
	case KindNumber:
		return "number"
	default:
		return "unknown"
	}
}

// FieldValue is one entry of a document's detail data: a plain string, a section of
// named sub-fields, an ordered list of strings, or an integer.
type FieldValue struct {
	Kind    FieldKind
	Scalar  string
	Section map[string]string
	List    []string
	Number  int64
}

// Scalar returns a string field value.
func Scalar(s string) FieldValue {
	return FieldValue{Kind: KindScalar, Scalar: s}
}

// Section returns a section field value. A nil map is replaced with an empty one.
func Section(fields map[string]string) FieldValue {
	if fields == nil {
		fields = map[string]string{}
	}
	return FieldValue{Kind: KindSection, Section: fields}
}

// Number returns an integer field value.
func Number(n int64) FieldValue {
	return FieldValue{Kind: KindNumber, Number: n}
}

// List returns a list field value.
func List(items ...string) FieldValue {
	if items == nil {
		items = []string{}
	}
	return FieldValue{Kind: KindList, List: items}
}

// IsSection reports whether v holds sub-fields.
func (v FieldValue) IsSection() bool { return v.Kind == KindSection }

// Interface returns the plain Go value used for Firestore and JSON encoding.
func (v FieldValue) Interface() interface{} {
	switch v.Kind {
	case KindSection:
		m := make(map[string]interface{}, len(v.Section))
		for k, s := range v.Section {
			m[k] = s
		}
		return m
	case KindList:
		l := make([]interface{}, len(v.List))
		for i, s := range v.List {
			l[i] = s
		}
		return l
	case KindNumber:
		return v.Number
	default:
		return v.Scalar
	}
}

func (v FieldValue) clone() FieldValue {
	c := FieldValue{Kind: v.Kind, Scalar: v.Scalar, Number: v.Number}
	if v.Section != nil {
		c.Section = make(map[string]string, len(v.Section))
		for k, s := range v.Section {
			c.Section[k] = s
		}
	}
	if v.List != nil {
		c.List = append([]string(nil), v.List...)
	}
	return c
}

// MarshalJSON encodes the value as a JSON string, object, array or number.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindSection:
		return json.Marshal(v.Section)
	case KindList:
		return json.Marshal(v.List)
	case KindNumber:
		return json.Marshal(v.Number)
	default:
		return json.Marshal(v.Scalar)
	}
}

// UnmarshalJSON decodes a JSON string, object, array or integer.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fv, err := fieldValueFrom(raw)
	if err != nil {
		return err
	}
	*v = fv
	return nil
}

// DetailData maps section keys scraped from a detail page to their values.
type DetailData map[string]FieldValue

// Keys returns the keys in sorted order.
func (d DetailData) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (d DetailData) Clone() DetailData {
	if d == nil {
		return nil
	}
	c := make(DetailData, len(d))
	for k, v := range d {
		c[k] = v.clone()
	}
	return c
}

// ToMap converts the detail data into nested plain maps and slices.
func (d DetailData) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(d))
	for k, v := range d {
		m[k] = v.Interface()
	}
	return m
}

// Lookup returns the sub-field of a section, or the value of a scalar top-level field when
// section is empty.
func (d DetailData) Lookup(section, field string) (string, bool) {
	if section == "" {
		v, ok := d[field]
		if !ok || v.Kind != KindScalar {
			return "", false
		}
		return v.Scalar, true
	}
	v, ok := d[section]
	if !ok || !v.IsSection() {
		return "", false
	}
	s, ok := v.Section[field]
	return s, ok
}

// DetailDataFromMap rebuilds detail data from nested plain values, as read back from
// Firestore. Entries of an unsupported shape are reported as an error.
func DetailDataFromMap(m map[string]interface{}) (DetailData, error) {
	d := make(DetailData, len(m))
	for k, raw := range m {
		v, err := fieldValueFrom(raw)
		if err != nil {
			return nil, fmt.Errorf("detail field %q: %w", k, err)
		}
		d[k] = v
	}
	return d, nil
}

func fieldValueFrom(raw interface{}) (FieldValue, error) {
	switch t := raw.(type) {
	case string:
		return Scalar(t), nil
	case map[string]interface{}:
		fields := make(map[string]string, len(t))
		for k, sub := range t {
			s, ok := sub.(string)
			if !ok {
				return FieldValue{}, fmt.Errorf("section entry %q is %T, want string", k, sub)
			}
			fields[k] = s
		}
		return Section(fields), nil
	case []interface{}:
		items := make([]string, 0, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return FieldValue{}, fmt.Errorf("list item %d is %T, want string", i, item)
			}
			items = append(items, s)
		}
		return List(items...), nil
	case int64:
		return Number(t), nil
	case float64:
		// JSON numbers decode as float64; only integral values are accepted.
		if t != math.Trunc(t) || math.Abs(t) > 1<<53 {
			return FieldValue{}, fmt.Errorf("number %v is not an integer", t)
		}
		return Number(int64(t)), nil
	default:
		return FieldValue{}, fmt.Errorf("unsupported value of type %T", raw)
	}
}
