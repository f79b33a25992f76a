package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Extra is what a stored record carries besides the values of its modeled
// fields: keys the Go type has no field for, and the exact JSON each modeled
// key was read with. EncodeRecord uses it to write an unchanged record back
// with the same keys and values, including empty strings, nulls and values
// whose JSON type did not fit the field.
type Extra struct {
	unknown map[string]json.RawMessage
	stored  map[string]storedValue
}

type storedValue struct {
	raw     json.RawMessage
	decoded []byte
}

// DecodeRecord fills v (a pointer to a struct without custom JSON methods)
// from the JSON object in data, one field at a time. A value of the wrong
// JSON type never fails the record: scalars are read into string fields as
// their literal text, anything else leaves the field zero. The original value
// is kept either way. Only data that is not a JSON object is an error.
func DecodeRecord(data []byte, v interface{}) (Extra, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return Extra{}, err
	}
	if all == nil {
		return Extra{}, fmt.Errorf("record is null")
	}

	rv := reflect.ValueOf(v).Elem()
	x := Extra{stored: make(map[string]storedValue)}
	for _, f := range recordFields(rv.Type()) {
		raw, ok := all[f.name]
		if !ok {
			continue
		}
		delete(all, f.name)

		field := rv.Field(f.index)
		if err := json.Unmarshal(raw, field.Addr().Interface()); err != nil {
			field.Set(reflect.Zero(field.Type()))
			coerceScalar(raw, field)
		}
		decoded, err := json.Marshal(field.Interface())
		if err != nil {
			return Extra{}, err
		}
		x.stored[f.name] = storedValue{raw: raw, decoded: decoded}
	}
	if len(all) > 0 {
		x.unknown = all
	}
	return x, nil
}

// coerceScalar sets a string or *string field to the literal text of a JSON
// number or boolean.
func coerceScalar(raw json.RawMessage, field reflect.Value) {
	t := field.Type()
	isPtr := t.Kind() == reflect.Pointer
	if isPtr {
		t = t.Elem()
	}
	if t.Kind() != reflect.String {
		return
	}

	var scalar interface{}
	if err := json.Unmarshal(raw, &scalar); err != nil {
		return
	}
	switch scalar.(type) {
	case float64, bool:
	default:
		return
	}

	s := reflect.New(t)
	s.Elem().SetString(strings.TrimSpace(string(raw)))
	if isPtr {
		field.Set(s)
	} else {
		field.Set(s.Elem())
	}
}

// EncodeRecord marshals v (the struct DecodeRecord filled) with extra merged
// back in. Modeled keys come first in field order, then unknown keys sorted.
// A field still holding what it was decoded to is written with its original
// JSON. A field that was present when read keeps its key even when it is now
// empty, unless it became a nil pointer.
func EncodeRecord(v interface{}, extra Extra) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra.stored) == 0 && len(extra.unknown) == 0 {
		return data, nil
	}

	var modeled map[string]json.RawMessage
	if err := json.Unmarshal(data, &modeled); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, raw json.RawMessage) {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(raw)
	}

	rv := reflect.ValueOf(v)
	for _, f := range recordFields(rv.Type()) {
		raw, ok := modeled[f.name]
		if sv, seen := extra.stored[f.name]; seen {
			cur, err := json.Marshal(rv.Field(f.index).Interface())
			if err != nil {
				return nil, err
			}
			switch {
			case bytes.Equal(cur, sv.decoded):
				raw, ok = sv.raw, true
			case !ok && string(cur) != "null":
				raw, ok = cur, true
			}
		}
		if ok {
			write(f.name, raw)
		}
	}

	keys := make([]string, 0, len(extra.unknown))
	for k := range extra.unknown {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		write(k, extra.unknown[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type recordField struct {
	index int
	name  string
}

var fieldCache sync.Map // reflect.Type -> []recordField

func recordFields(t reflect.Type) []recordField {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]recordField)
	}

	var fields []recordField
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		fields = append(fields, recordField{index: i, name: name})
	}
	fieldCache.Store(t, fields)
	return fields
}

// Value is a loosely typed field (string, number or list) that keeps the
// exact JSON it was read from.
type Value struct {
	raw json.RawMessage
}

// Text returns a Value holding a JSON string.
func Text(s string) *Value {
	raw, _ := json.Marshal(s)
	return &Value{raw: raw}
}

// Number returns a Value holding a JSON integer.
func Number(n int) *Value {
	return &Value{raw: json.RawMessage(strconv.Itoa(n))}
}

// String renders the value for display. Lists are joined with ", ".
func (v *Value) String() string {
	if v == nil || len(v.raw) == 0 || string(v.raw) == "null" {
		return ""
	}

	var s string
	if err := json.Unmarshal(v.raw, &s); err == nil {
		return s
	}

	var list []json.RawMessage
	if err := json.Unmarshal(v.raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			parts = append(parts, (&Value{raw: item}).String())
		}
		return strings.Join(parts, ", ")
	}

	return string(v.raw)
}

// Int parses the value as an integer, accepting both 42 and "42".
func (v *Value) Int() (int, error) {
	s := strings.TrimSpace(v.String())
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return n, nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.raw) == 0 {
		return []byte("null"), nil
	}
	return v.raw, nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	v.raw = append(v.raw[:0], data...)
	return nil
}

// Str dereferences an optional string field.
func Str(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Ptr returns a pointer to s.
func Ptr(s string) *string {
	return &s
}
