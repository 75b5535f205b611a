package etl

import (
	"fmt"
	"strings"

	"notionsync/internal/domain"
)

// ── Normalizer ─────────────────────────────────────────────
// Flattens a SourceRecord into scalar columns plus an overflow blob.
// Lists and maps (relation arrays included) go to the overflow blob under
// their original field name; everything else becomes a column.

// RecordMapper turns one source record into a destination row.
type RecordMapper func(domain.SourceRecord) domain.NormalizedRow

// maxIdentifierLength is the PostgreSQL identifier limit.
const maxIdentifierLength = 63

// Normalizer maps source records for one collection.
type Normalizer struct {
	chains map[string][]Transformer
}

// NewNormalizer builds a normalizer applying the given field transforms.
func NewNormalizer(transforms []domain.FieldTransform) (*Normalizer, error) {
	chains, err := BuildTransformers(transforms)
	if err != nil {
		return nil, err
	}
	return &Normalizer{chains: chains}, nil
}

// Normalize maps one record. It never fails: values that do not fit a
// scalar column are kept verbatim in the overflow blob.
func (n *Normalizer) Normalize(rec domain.SourceRecord) domain.NormalizedRow {
	fields := rec.Fields
	if n != nil {
		fields = ApplyTransformers(fields, n.chains)
	}
	row := domain.NormalizedRow{
		ID:         rec.ID,
		CreatedAt:  rec.CreatedAt,
		ModifiedAt: rec.ModifiedAt,
		Archived:   rec.Archived,
		Columns:    make(map[string]domain.Value, len(fields)),
		Overflow:   make(map[string]domain.Value),
		FieldNames: make(map[string]string, len(fields)),
	}

	used := make(map[string]bool, len(fields))
	for _, name := range domain.SortedKeys(fields) {
		v := fields[name]
		if !v.IsScalar() {
			row.Overflow[name] = v
			continue
		}
		if s, ok := v.AsText(); ok && s == "" {
			v = domain.Null()
		}
		col := uniqueColumnName(name, used)
		row.Columns[col] = v
		row.FieldNames[col] = name
	}
	return row
}

// uniqueColumnName normalizes name, steers clear of the standard columns and
// suffixes repeats with _2, _3, ...
func uniqueColumnName(name string, used map[string]bool) string {
	col := NormalizeIdentifier(name)
	if domain.IsStandardColumn(col) {
		col = "prop_" + col
	}
	candidate := col
	for i := 2; used[candidate]; i++ {
		suffix := fmt.Sprintf("_%d", i)
		base := col
		if len(base)+len(suffix) > maxIdentifierLength {
			base = base[:maxIdentifierLength-len(suffix)]
		}
		candidate = base + suffix
	}
	used[candidate] = true
	return candidate
}

// NormalizeIdentifier lowercases name, replaces anything outside [a-z0-9_]
// with underscores, collapses runs of underscores and trims them. Names that
// start with a digit get a "col_" prefix; empty names become "unnamed_column".
func NormalizeIdentifier(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !ok {
			if !lastUnderscore {
				b.WriteByte('_')
			}
			lastUnderscore = true
			continue
		}
		b.WriteRune(r)
		lastUnderscore = false
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unnamed_column"
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = "col_" + out
	}
	if len(out) > maxIdentifierLength {
		out = strings.TrimRight(out[:maxIdentifierLength], "_")
	}
	return out
}

// AbsorbConflicts moves scalar values that the existing column type cannot
// hold into the overflow blob, leaving the column NULL for that row.
func AbsorbConflicts(row domain.NormalizedRow, schema domain.TableSchema) (domain.NormalizedRow, int) {
	moved := 0
	for col, v := range row.Columns {
		t, ok := schema[col]
		if !ok || domain.Compatible(v, t) {
			continue
		}
		field := row.FieldNames[col]
		if field == "" {
			field = col
		}
		if row.Overflow == nil {
			row.Overflow = make(map[string]domain.Value)
		}
		row.Overflow[field] = v
		row.Columns[col] = domain.Null()
		moved++
	}
	return row, moved
}
