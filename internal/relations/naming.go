// Package relations turns array-valued relation fields, already stored in each
// table's overflow blob, into explicit junction tables.
package relations

import (
	"fmt"
	"strings"

	"notionsync/internal/domain"
	"notionsync/internal/warehouse"
)

// Policy decides how the two directions of a cross-table relation are stored.
type Policy string

const (
	// PolicyDeduplicate stores both directions in one alphabetically named
	// table, <a>_to_<b>.
	PolicyDeduplicate Policy = "deduplicate"
	// PolicyDirectional keeps one table per direction. A relation fills both
	// <origin>_to_<related> and its mirror <related>_to_<origin>.
	PolicyDirectional Policy = "directional"
)

// ParsePolicy validates a configured policy name. Empty means deduplicate.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyDeduplicate, nil
	case PolicyDeduplicate, PolicyDirectional:
		return p, nil
	default:
		return "", fmt.Errorf("unknown relation policy %q (want %s or %s)", s, PolicyDeduplicate, PolicyDirectional)
	}
}

// Column names shared by every junction table.
const (
	ColumnFieldName = "relation_field_name"
	ColumnSource    = "source_notion_id"
	ColumnTarget    = "target_notion_id"
)

// MasterTable lists every junction table produced by the last pass.
const MasterTable = "notion_relations_master"

// Layout is the shape of the junction table one relation writes into.
type Layout struct {
	Table         string
	SelfReferring bool
	// Columns in DDL order: the two id columns then the field name.
	Columns []string
	// OriginColumn and RelatedColumn are where this relation's origin id and
	// array elements land.
	OriginColumn  string
	RelatedColumn string
}

// JunctionName returns the junction table for a relation between origin and
// related under p.
func JunctionName(origin, related string, p Policy) string {
	if origin == related {
		return limit(origin + "_relations")
	}
	if p != PolicyDirectional && related < origin {
		origin, related = related, origin
	}
	return limit(origin + "_to_" + related)
}

// LayoutFor resolves the junction layout of spec. RelatedTable must be set.
func LayoutFor(spec domain.RelationSpec, p Policy) Layout {
	if spec.SelfReferential() {
		return Layout{
			Table:         JunctionName(spec.OriginTable, spec.OriginTable, p),
			SelfReferring: true,
			Columns:       []string{ColumnSource, ColumnTarget, ColumnFieldName},
			OriginColumn:  ColumnSource,
			RelatedColumn: ColumnTarget,
		}
	}

	origin, related := idColumn(spec.OriginTable), idColumn(spec.RelatedTable)
	first, second := origin, related
	if p != PolicyDirectional && spec.RelatedTable < spec.OriginTable {
		first, second = related, origin
	}
	return Layout{
		Table:         JunctionName(spec.OriginTable, spec.RelatedTable, p),
		Columns:       []string{first, ColumnFieldName, second},
		OriginColumn:  origin,
		RelatedColumn: related,
	}
}

// Layouts lists every junction spec writes into: the layout of LayoutFor and,
// for a cross-table relation under PolicyDirectional, the reversed table
// whose columns lead with the related id.
func Layouts(spec domain.RelationSpec, p Policy) []Layout {
	forward := LayoutFor(spec, p)
	if spec.SelfReferential() || p != PolicyDirectional {
		return []Layout{forward}
	}
	reverse := Layout{
		Table:         JunctionName(spec.RelatedTable, spec.OriginTable, p),
		Columns:       []string{forward.RelatedColumn, ColumnFieldName, forward.OriginColumn},
		OriginColumn:  forward.OriginColumn,
		RelatedColumn: forward.RelatedColumn,
	}
	return []Layout{forward, reverse}
}

func idColumn(table string) string {
	return limit(table + "_" + domain.ColumnID)
}

func limit(name string) string {
	return warehouse.Identifier(name)
}
