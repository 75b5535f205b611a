package etl

import (
	"context"
	"time"

	"notionsync/internal/domain"
)

// ── Destination ────────────────────────────────────────────
// A Destination evolves table schemas and upserts normalized rows.
// The relational implementation lives in internal/warehouse.
//
// Pattern: Singer target protocol.

// SyncMode determines which records a table sync requests.
type SyncMode string

const (
	SyncIncremental SyncMode = "incremental" // records modified after the table's watermark
	SyncFull        SyncMode = "full"        // every record, watermark ignored
)

// SchemaEnsurer creates or widens destination tables.
type SchemaEnsurer interface {
	EnsureTable(ctx context.Context, table string, rows []domain.NormalizedRow) (domain.SchemaChange, error)
}

// Writer upserts rows keyed by their identifier.
type Writer interface {
	Write(ctx context.Context, table string, rows []domain.NormalizedRow) (int, error)
}

// WatermarkReader reports the latest modification time stored in a table.
// A nil time means the table is empty or absent.
type WatermarkReader interface {
	Watermark(ctx context.Context, table string) (*time.Time, error)
}

// Destination combines everything the engine needs from the warehouse.
type Destination interface {
	SchemaEnsurer
	Writer
	WatermarkReader
}

// Archiver keeps raw source records somewhere outside the relational mirror.
// Archive failures never fail a sync.
type Archiver interface {
	Archive(ctx context.Context, collectionID, table string, records []domain.SourceRecord) (int, error)
}

// Observer receives progress events for metrics.
type Observer interface {
	PageFetched(table string, records int)
	RowsWritten(table string, rows int)
	ColumnsAdded(table string, columns int)
	TableFinished(table string, d time.Duration, ok bool)
}

type nopObserver struct{}

func (nopObserver) PageFetched(string, int) {}
func (nopObserver) RowsWritten(string, int) {}
func (nopObserver) ColumnsAdded(string, int) {}
func (nopObserver) TableFinished(string, time.Duration, bool) {}
