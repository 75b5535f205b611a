package warehouse

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"go.uber.org/zap"

	"notionsync/internal/dbclient"
	"notionsync/internal/domain"
	"notionsync/internal/syncerr"
)

// ── Schema Manager ─────────────────────────────────────────
// Tables are created on first sight and only ever widened afterwards.
// Existing columns are never retyped or dropped.

// standardTypes are the types of the columns every mirrored table carries.
var standardTypes = domain.TableSchema{
	domain.ColumnID:         domain.ColumnText,
	domain.ColumnCreatedAt:  domain.ColumnTimestamp,
	domain.ColumnModifiedAt: domain.ColumnTimestamp,
	domain.ColumnArchived:   domain.ColumnBoolean,
	domain.ColumnOverflow:   domain.ColumnJSON,
}

// EnsureTable makes sure table exists with a column for every column observed
// in rows, creating the table or adding columns as needed.
func (w *Warehouse) EnsureTable(ctx context.Context, table string, rows []domain.NormalizedRow) (domain.SchemaChange, error) {
	d := w.conn.Dialect
	inferred := domain.InferColumnTypes(rows)

	exists, err := dbclient.TableExists(ctx, w.conn.DB, d, table)
	if err != nil {
		return domain.SchemaChange{}, syncerr.NewSchemaError(syncerr.CodeIntrospect, "check table "+table, err)
	}
	if !exists {
		return w.createTable(ctx, table, inferred)
	}

	existing, err := dbclient.TableColumns(ctx, w.conn.DB, d, table)
	if err != nil {
		return domain.SchemaChange{}, syncerr.NewSchemaError(syncerr.CodeIntrospect, "list columns of "+table, err)
	}

	change := domain.SchemaChange{Schema: existing}
	wanted := make(domain.TableSchema, len(inferred)+len(standardTypes))
	for name, t := range standardTypes {
		if name != domain.ColumnID {
			wanted[name] = t
		}
	}
	for name, t := range inferred {
		wanted[name] = t
	}
	for _, name := range domain.SortedKeys(wanted) {
		if _, ok := existing[name]; ok {
			continue
		}
		t := wanted[name]
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.QuoteIdent(table), d.QuoteIdent(name), d.ColumnType(t))
		if _, err := w.conn.DB.ExecContext(ctx, stmt); err != nil {
			return change, syncerr.NewSchemaError(syncerr.CodeAddColumn, fmt.Sprintf("add column %s.%s", table, name), err)
		}
		existing[name] = t
		change.Added = append(change.Added, domain.ColumnDefinition{Name: name, Type: t})
		w.logger.Info("schema: column added", zap.String("table", table), zap.String("column", name), zap.String("type", string(t)))
	}
	return change, nil
}

func (w *Warehouse) createTable(ctx context.Context, table string, inferred domain.TableSchema) (domain.SchemaChange, error) {
	d := w.conn.Dialect
	change := domain.SchemaChange{Schema: domain.TableSchema{}, Created: true}

	defs := []string{
		d.QuoteIdent(domain.ColumnID) + " " + d.KeyType() + " PRIMARY KEY",
	}
	for _, name := range domain.StandardColumns[1:] {
		t := standardTypes[name]
		def := d.QuoteIdent(name) + " " + d.ColumnType(t)
		if name == domain.ColumnArchived {
			def += " NOT NULL DEFAULT FALSE"
		}
		defs = append(defs, def)
		change.Schema[name] = t
	}
	change.Schema[domain.ColumnID] = domain.ColumnText

	for _, name := range domain.SortedKeys(inferred) {
		if _, std := standardTypes[name]; std {
			continue
		}
		t := inferred[name]
		defs = append(defs, d.QuoteIdent(name)+" "+d.ColumnType(t))
		change.Schema[name] = t
		change.Added = append(change.Added, domain.ColumnDefinition{Name: name, Type: t})
	}

	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", d.QuoteIdent(table), strings.Join(defs, ",\n\t"))
	if _, err := w.conn.DB.ExecContext(ctx, stmt); err != nil {
		return change, syncerr.NewSchemaError(syncerr.CodeCreateTable, "create table "+table, err)
	}
	index := IndexName("idx", table, "last_edited")
	if _, err := w.conn.DB.ExecContext(ctx, d.CreateIndexSQL(index, table, domain.ColumnModifiedAt)); err != nil {
		return change, syncerr.NewSchemaError(syncerr.CodeCreateTable, "create index "+index, err)
	}
	w.logger.Info("schema: table created", zap.String("table", table), zap.Int("columns", len(change.Schema)))
	return change, nil
}

// MaxIdentifier is the longest identifier every supported engine accepts.
const MaxIdentifier = 63

// IndexName joins parts with underscores, shortened by Identifier.
func IndexName(parts ...string) string {
	return Identifier(strings.Join(parts, "_"))
}

// Identifier returns name unchanged when it fits MaxIdentifier. Longer names
// keep a prefix and end in an fnv-32a hash of the full name, so two names
// sharing a long prefix stay distinct.
func Identifier(name string) string {
	if len(name) <= MaxIdentifier {
		return name
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	sum := fmt.Sprintf("%08x", h.Sum32())
	return name[:MaxIdentifier-len(sum)-1] + "_" + sum
}
