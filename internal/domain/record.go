package domain

import (
	"strings"
	"time"
)

// ── Records ────────────────────────────────────────────────
// SourceRecord is what the source client hands to the sync engine.
// NormalizedRow is what the warehouse writes.

// SourceRecord is an immutable snapshot of one page in a source collection.
type SourceRecord struct {
	ID         string           `json:"id"`
	CreatedAt  time.Time        `json:"createdAt"`
	ModifiedAt time.Time        `json:"modifiedAt"`
	Archived   bool             `json:"archived"`
	Fields     map[string]Value `json:"fields"`
	Raw        []byte           `json:"-"` // original page JSON, kept for archiving
}

// NormalizedRow is a SourceRecord flattened into scalar columns plus an
// overflow blob keyed by the original field name.
type NormalizedRow struct {
	ID         string
	CreatedAt  time.Time
	ModifiedAt time.Time
	Archived   bool
	Columns    map[string]Value
	Overflow   map[string]Value
	FieldNames map[string]string // column name → original field name
}

// Standard destination columns present on every mirrored table.
const (
	ColumnID         = "notion_id"
	ColumnCreatedAt  = "created_time"
	ColumnModifiedAt = "last_edited_time"
	ColumnArchived   = "archived"
	ColumnOverflow   = "notion_data_jsonb"
)

// StandardColumns lists the standard columns in table order.
var StandardColumns = []string{ColumnID, ColumnCreatedAt, ColumnModifiedAt, ColumnArchived, ColumnOverflow}

// IsStandardColumn reports whether name is one of the standard columns.
func IsStandardColumn(name string) bool {
	for _, c := range StandardColumns {
		if c == name {
			return true
		}
	}
	return false
}

// ── Columns ────────────────────────────────────────────────

// ColumnType is the closed set of inferred destination column types.
type ColumnType string

const (
	ColumnBoolean   ColumnType = "boolean"
	ColumnBigint    ColumnType = "bigint"
	ColumnDouble    ColumnType = "double"
	ColumnTimestamp ColumnType = "timestamp"
	ColumnText      ColumnType = "text"
	ColumnJSON      ColumnType = "json"
)

// ColumnDefinition names one destination column and its type.
type ColumnDefinition struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// TableSchema maps column name to type for one destination table.
type TableSchema map[string]ColumnType

// ── Collections ────────────────────────────────────────────

// Collection is one entry of the collection directory: which source
// collection is mirrored into which destination table.
type Collection struct {
	ID         string           `json:"id" yaml:"id"`
	Name       string           `json:"name,omitempty" yaml:"name,omitempty"`
	Table      string           `json:"table" yaml:"table"`
	Replicate  bool             `json:"replicate" yaml:"replicate"`
	Transforms []FieldTransform `json:"transforms,omitempty" yaml:"transforms,omitempty"`
}

// FieldTransform applies one named transform to one source field.
type FieldTransform struct {
	Field string `json:"field" yaml:"field"`
	Op    string `json:"op" yaml:"op"`
}

// NormalizeCollectionID strips hyphens so dashed and compact ids compare equal.
func NormalizeCollectionID(id string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
}

// ── Relations ──────────────────────────────────────────────

// RelationSpec declares that OriginTable.FieldName holds identifiers of
// records in the collection RelatedCollectionID. RelatedTable is resolved
// through the collection directory.
type RelationSpec struct {
	OriginTable         string `json:"origin_table" yaml:"origin_table"`
	FieldName           string `json:"field_name" yaml:"field_name"`
	RelatedCollectionID string `json:"related_collection_id" yaml:"related_collection_id"`
	RelatedTable        string `json:"related_table,omitempty" yaml:"related_table,omitempty"`
}

// SelfReferential reports whether the relation points back at its origin.
func (r RelationSpec) SelfReferential() bool {
	return r.RelatedTable != "" && r.RelatedTable == r.OriginTable
}
