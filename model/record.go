// Package model maps flat server records onto typed Haiku+ entities.
//
// Each entity type declares a static Schema: an ordered table of fields, each
// naming its wire key and how to reach the Go field. One generic routine walks
// that table in both directions, so adding an entity never means writing
// another mapper.
//
// Mapping is total. Absent keys leave the field at its zero value, unknown
// keys are ignored and values of the wrong type are coerced to the zero
// value rather than failing.
package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is a flat key/value payload as received from or sent to the server.
type Record map[string]any

// IdentifierKey is the wire key holding an entity's identifier. Entities
// always expose it as Object.Identifier, never as a field named ID.
const IdentifierKey = "id"

// Object is embedded by every entity.
type Object struct {
	Identifier string
}

// RecordsFrom converts a decoded JSON array into records. Elements that are
// not objects become empty records so the result has one entry per element.
func RecordsFrom(v any) ([]Record, bool) {
	switch list := v.(type) {
	case []Record:
		return list, true
	case []map[string]any:
		out := make([]Record, len(list))
		for i, m := range list {
			out[i] = Record(m)
		}
		return out, true
	case []any:
		out := make([]Record, len(list))
		for i, item := range list {
			r, _ := asRecord(item)
			if r == nil {
				r = Record{}
			}
			out[i] = r
		}
		return out, true
	}
	return nil, false
}

// RecordFrom converts a decoded JSON object into a Record.
func RecordFrom(v any) (Record, bool) {
	return asRecord(v)
}

func asRecord(v any) (Record, bool) {
	switch m := v.(type) {
	case Record:
		return m, true
	case map[string]any:
		return Record(m), true
	}
	return nil, false
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		if i, ok := floatToInt(s); ok && s == math.Trunc(s) {
			return strconv.FormatInt(i, 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	}
	return ""
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		i, _ := floatToInt(n)
		return i
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			i, _ := floatToInt(f)
			return i
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return i
		}
	}
	return 0
}

// floatToInt truncates f to an int64. Values outside the int64 range, NaN
// and infinities give 0 and false.
func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		return ParseAPIDate(t)
	}
	return time.Time{}
}
