package warehouse

import (
	"context"
	"fmt"
	"time"

	"notionsync/internal/dbclient"
	"notionsync/internal/domain"
	"notionsync/internal/syncerr"
)

// Watermark returns MAX(last_edited_time) of table. A missing or empty table
// yields nil, which means a full sync.
func (w *Warehouse) Watermark(ctx context.Context, table string) (*time.Time, error) {
	d := w.conn.Dialect
	exists, err := dbclient.TableExists(ctx, w.conn.DB, d, table)
	if err != nil {
		return nil, syncerr.NewWriteError(syncerr.CodeWatermark, "check table "+table, err)
	}
	if !exists {
		return nil, nil
	}

	var raw any
	q := fmt.Sprintf("SELECT MAX(%s) FROM %s", d.QuoteIdent(domain.ColumnModifiedAt), d.QuoteIdent(table))
	if err := w.conn.DB.QueryRowContext(ctx, q).Scan(&raw); err != nil {
		return nil, syncerr.NewWriteError(syncerr.CodeWatermark, "read watermark of "+table, err)
	}
	if raw == nil {
		return nil, nil
	}
	t, ok := dbclient.ParseTimeValue(raw)
	if !ok {
		return nil, syncerr.NewWriteError(syncerr.CodeWatermark, fmt.Sprintf("unparseable watermark %v in %s", raw, table), nil)
	}
	return &t, nil
}
