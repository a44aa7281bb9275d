// Package record holds the loosely-typed entity representation shared by
// every migrator. Records are decoded straight from API JSON so unknown
// fields survive a round trip.
package record

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Record is one entity as returned by an instance.
type Record map[string]any

// Decode parses a JSON object.
func Decode(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	return r, nil
}

// DecodeAll parses raw JSON objects, as found in a page's items.
func DecodeAll(raw []json.RawMessage) ([]Record, error) {
	out := make([]Record, 0, len(raw))
	for i, item := range raw {
		r, err := Decode(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// String returns the field rendered as a string. Numbers are formatted
// without a trailing ".0"; missing and null fields are "".
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

// Bool returns the field as a bool, or def when absent or not a bool.
func (r Record) Bool(field string, def bool) bool {
	if v, ok := r[field].(bool); ok {
		return v
	}
	return def
}

// Strings returns a list field as strings. Non-string elements are skipped.
func (r Record) Strings(field string) []string {
	switch v := r[field].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Has reports whether the field is present and non-null.
func (r Record) Has(field string) bool {
	v, ok := r[field]
	return ok && v != nil
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// Pick returns a new record containing only the allowed fields that are
// present in r.
func (r Record) Pick(fields ...string) Record {
	out := make(Record, len(fields))
	for _, f := range fields {
		if v, ok := r[f]; ok {
			out[f] = cloneValue(v)
		}
	}
	return out
}

// Without returns a copy of r with the given fields removed.
func (r Record) Without(fields ...string) Record {
	out := r.Clone()
	for _, f := range fields {
		delete(out, f)
	}
	return out
}

// Merge returns a copy of r with every field of over applied on top.
func (r Record) Merge(over Record) Record {
	out := r.Clone()
	if out == nil {
		out = Record{}
	}
	for k, v := range over {
		out[k] = cloneValue(v)
	}
	return out
}

// Equal compares one field across two records. JSON numbers decode as
// float64 on both sides, so a deep comparison is exact enough.
func Equal(a, b Record, field string) bool {
	return reflect.DeepEqual(a[field], b[field])
}

// DiffFields returns the fields, in the given order, whose values differ
// between a and b.
func DiffFields(a, b Record, fields []string) []string {
	var diff []string
	for _, f := range fields {
		if !Equal(a, b, f) {
			diff = append(diff, f)
		}
	}
	return diff
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Record(t).Clone())
	case Record:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
