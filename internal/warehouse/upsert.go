package warehouse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"notionsync/internal/dbclient"
	"notionsync/internal/domain"
	"notionsync/internal/syncerr"
)

// ── Upsert Writer ──────────────────────────────────────────
// One multi-row INSERT ... ON CONFLICT (notion_id) DO UPDATE per batch, each
// in its own transaction. A failing batch aborts the remaining ones.

// Write upserts rows into table and returns how many rows were committed.
func (w *Warehouse) Write(ctx context.Context, table string, rows []domain.NormalizedRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	schema, err := dbclient.TableColumns(ctx, w.conn.DB, w.conn.Dialect, table)
	if err != nil {
		return 0, syncerr.NewSchemaError(syncerr.CodeIntrospect, "list columns of "+table, err)
	}

	size := w.batchSize
	if len(schema) > 0 && size*len(schema) > maxParams {
		size = max(1, maxParams/len(schema))
	}

	written := 0
	for batch, start := 0, 0; start < len(rows); batch, start = batch+1, start+size {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		end := min(start+size, len(rows))
		chunk := rows[start:end]
		if err := w.writeBatch(ctx, table, schema, chunk); err != nil {
			first := chunk[0]
			w.logger.Error("upsert: batch failed",
				zap.String("table", table),
				zap.Int("batch", batch),
				zap.Int("rows_written", written),
				zap.String("first_row_id", first.ID),
				zap.Any("first_row", describeRow(first)),
				zap.Error(err),
			)
			return written, syncerr.NewWriteError(syncerr.CodeBatchFailed,
				fmt.Sprintf("upsert %s batch %d (first row %s)", table, batch, first.ID), err,
			).WithDetails(map[string]any{
				"table":        table,
				"batch":        batch,
				"first_row_id": first.ID,
				"rows_written": written,
			})
		}
		written += len(chunk)
	}
	w.logger.Debug("upsert: done", zap.String("table", table), zap.Int("rows", written))
	return written, nil
}

func (w *Warehouse) writeBatch(ctx context.Context, table string, schema domain.TableSchema, rows []domain.NormalizedRow) error {
	d := w.conn.Dialect
	cols := batchColumns(rows, schema)

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdent(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", d.QuoteIdent(table), strings.Join(quoted, ", "))
	args := make([]any, 0, len(rows)*len(cols))
	n := 0
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, col := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			n++
			b.WriteString(d.Placeholder(n))
			v, err := bindColumn(d, row, col, schema[col])
			if err != nil {
				return err
			}
			args = append(args, v)
		}
		b.WriteByte(')')
	}
	b.WriteString(d.UpsertClause(domain.ColumnID, cols))

	tx, err := w.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// batchColumns returns the standard columns followed by the union of the
// batch's columns that exist in the table, sorted.
func batchColumns(rows []domain.NormalizedRow, schema domain.TableSchema) []string {
	seen := map[string]bool{}
	for _, row := range rows {
		for name := range row.Columns {
			if _, ok := schema[name]; ok && !domain.IsStandardColumn(name) {
				seen[name] = true
			}
		}
	}
	cols := make([]string, 0, len(domain.StandardColumns)+len(seen))
	cols = append(cols, domain.StandardColumns...)
	return append(cols, domain.SortedKeys(seen)...)
}

// bindColumn converts a row's value for col into a driver argument.
func bindColumn(d dbclient.Dialect, row domain.NormalizedRow, col string, t domain.ColumnType) (any, error) {
	switch col {
	case domain.ColumnID:
		return row.ID, nil
	case domain.ColumnCreatedAt:
		return bindTime(d, row.CreatedAt), nil
	case domain.ColumnModifiedAt:
		return bindTime(d, row.ModifiedAt), nil
	case domain.ColumnArchived:
		return row.Archived, nil
	case domain.ColumnOverflow:
		return encodeOverflow(row.Overflow)
	}
	return BindValue(d, row.Columns[col], t)
}

func bindTime(d dbclient.Dialect, t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return d.BindTime(t)
}

// BindValue converts v for a column of type t. Values the column cannot hold
// bind as NULL.
func BindValue(d dbclient.Dialect, v domain.Value, t domain.ColumnType) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	switch t {
	case domain.ColumnBoolean:
		if b, ok := v.AsBool(); ok {
			return b, nil
		}
	case domain.ColumnBigint:
		if i, ok := v.AsInt(); ok {
			return i, nil
		}
	case domain.ColumnDouble:
		if f, ok := v.AsFloat(); ok {
			return f, nil
		}
		if i, ok := v.AsInt(); ok {
			return float64(i), nil
		}
	case domain.ColumnTimestamp:
		if s, ok := v.AsText(); ok {
			if ts, ok := domain.ParseTimestamp(s); ok {
				return d.BindTime(ts), nil
			}
		}
	case domain.ColumnJSON:
		data, err := json.Marshal(v.Native())
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return string(data), nil
	default:
		if v.IsScalar() {
			return v.String(), nil
		}
		data, err := json.Marshal(v.Native())
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return string(data), nil
	}
	return nil, nil
}

func encodeOverflow(m map[string]domain.Value) (any, error) {
	native := make(map[string]any, len(m))
	for k, v := range m {
		native[k] = v.Native()
	}
	data, err := json.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("encode overflow: %w", err)
	}
	return string(data), nil
}

// describeRow renders a row for error logs.
func describeRow(row domain.NormalizedRow) map[string]any {
	out := make(map[string]any, len(row.Columns)+2)
	out[domain.ColumnID] = row.ID
	out[domain.ColumnModifiedAt] = row.ModifiedAt
	for k, v := range row.Columns {
		out[k] = v.Native()
	}
	return out
}
