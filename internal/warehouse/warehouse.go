// Package warehouse is the relational side of the mirror: it evolves table
// schemas additively, upserts normalized rows in bounded batches and reads
// each table's watermark back from the stored rows.
package warehouse

import (
	"context"
	"time"

	"go.uber.org/zap"

	"notionsync/internal/dbclient"
	"notionsync/internal/domain"
	"notionsync/internal/etl"
)

// DefaultBatchSize bounds the number of rows per upsert statement.
const DefaultBatchSize = 100

// maxParams keeps multi-row statements under every engine's bind limit.
const maxParams = 30000

// Warehouse implements etl.Destination over a database/sql connection.
type Warehouse struct {
	conn      *dbclient.Conn
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Warehouse.
type Option func(*Warehouse)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(w *Warehouse) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Warehouse) {
		if l != nil {
			w.logger = l
		}
	}
}

// New creates a Warehouse writing through conn.
func New(conn *dbclient.Conn, opts ...Option) *Warehouse {
	w := &Warehouse{
		conn:      conn,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Conn returns the underlying connection.
func (w *Warehouse) Conn() *dbclient.Conn { return w.conn }

var _ etl.Destination = (*Warehouse)(nil)

// Columns returns the current columns of table, or nil if it does not exist.
func (w *Warehouse) Columns(ctx context.Context, table string) (domain.TableSchema, error) {
	exists, err := dbclient.TableExists(ctx, w.conn.DB, w.conn.Dialect, table)
	if err != nil || !exists {
		return nil, err
	}
	return dbclient.TableColumns(ctx, w.conn.DB, w.conn.Dialect, table)
}
