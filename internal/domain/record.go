package domain

import (
	"encoding/json"
	"strconv"
)

// Record is a single financial entity as stored and exported: an opaque JSON object.
// The backup engine only relies on the "id" field, the owner field and the
// foreign-key fields declared by the catalog.
type Record map[string]any

// Well-known record fields.
const (
	FieldID     = "id"
	FieldUserID = "user_id"
)

// ID returns the record identifier as text, or "" when absent.
func (r Record) ID() string {
	s, _ := RefString(r[FieldID])
	return s
}

// Ref returns the value of a reference field as text, or "" when the field is
// absent, null or empty.
func (r Record) Ref(field string) string {
	s, _ := RefString(r[field])
	return s
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RefString converts an id-like JSON value to its textual form.
// Strings are returned as-is; numbers use their JSON literal. Anything else
// (objects, arrays, booleans, null) is not an id and yields ok=false.
func RefString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	default:
		return "", false
	}
}
