package domain

import (
	"strings"
	"time"
)

// maxTimestampCandidate bounds the text length considered for timestamp
// detection; longer text is always plain text.
const maxTimestampCandidate = 255

// InferColumnType returns the column type a single observed value implies.
// Null carries no information and returns the empty type.
func InferColumnType(v Value) ColumnType {
	switch v.Kind() {
	case KindBool:
		return ColumnBoolean
	case KindInt:
		return ColumnBigint
	case KindFloat:
		return ColumnDouble
	case KindText:
		s, _ := v.AsText()
		if len(s) > maxTimestampCandidate {
			return ColumnText
		}
		if _, ok := ParseTimestamp(s); ok {
			return ColumnTimestamp
		}
		return ColumnText
	case KindList, KindMap:
		return ColumnJSON
	default:
		return ""
	}
}

// InferColumnTypes infers one type per column across rows: the first
// non-null value decides; columns that are null everywhere become text.
func InferColumnTypes(rows []NormalizedRow) TableSchema {
	out := TableSchema{}
	for _, row := range rows {
		for name, v := range row.Columns {
			if t, seen := out[name]; seen && t != "" {
				continue
			}
			out[name] = InferColumnType(v)
		}
	}
	for name, t := range out {
		if t == "" {
			out[name] = ColumnText
		}
	}
	return out
}

// Compatible reports whether v can be stored in a column of type t without
// changing the column.
func Compatible(v Value, t ColumnType) bool {
	switch v.Kind() {
	case KindNull:
		return true
	case KindBool:
		return t == ColumnBoolean || t == ColumnText || t == ColumnJSON
	case KindInt:
		return t == ColumnBigint || t == ColumnDouble || t == ColumnText || t == ColumnJSON
	case KindFloat:
		return t == ColumnDouble || t == ColumnText || t == ColumnJSON
	case KindText:
		if t == ColumnText || t == ColumnJSON {
			return true
		}
		if t == ColumnTimestamp {
			s, _ := v.AsText()
			_, ok := ParseTimestamp(s)
			return ok
		}
		return false
	default:
		return t == ColumnJSON
	}
}

// TimestampLayout is the fixed-width layout used where timestamps are stored
// as text, so lexical order matches chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

var timeLayouts = []string{
	TimestampLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses the ISO-8601 forms produced by the source service
// and the destination drivers. The result is in UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if len(s) < len("2006-01-02") || s[4] != '-' {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// SchemaChange describes the outcome of ensuring one table.
type SchemaChange struct {
	Schema  TableSchema
	Created bool
	Added   []ColumnDefinition
}
