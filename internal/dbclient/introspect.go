package dbclient

import (
	"context"
	"database/sql"
	"fmt"

	"notionsync/internal/domain"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TableExists reports whether table exists in the destination.
func TableExists(ctx context.Context, q Querier, d Dialect, table string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, d.TableExistsQuery(), table).Scan(&n); err != nil {
		return false, fmt.Errorf("table exists %s: %w", table, err)
	}
	return n > 0, nil
}

// TableColumns returns the columns of table keyed by name.
func TableColumns(ctx context.Context, q Querier, d Dialect, table string) (domain.TableSchema, error) {
	rows, err := q.QueryContext(ctx, d.ColumnsQuery(), table)
	if err != nil {
		return nil, fmt.Errorf("list columns %s: %w", table, err)
	}
	defer rows.Close()

	cols := domain.TableSchema{}
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols[name] = d.ParseColumnType(typ)
	}
	return cols, rows.Err()
}
