package etl

import (
	"context"
	"time"

	"notionsync/internal/domain"
)

// ── Source ──────────────────────────────────────────────────
// A Source delivers one page of records per call, continuing from an
// opaque cursor. Implementations live in etl/sources/.
//
// Pattern: Airbyte connector protocol (read with state).

// Page is one batch of records plus the continuation cursor.
type Page struct {
	Records    []domain.SourceRecord
	NextCursor string
	HasMore    bool
}

// Source is the interface the sync engine pulls from.
type Source interface {
	// Fetch returns the page after cursor (empty for the first page).
	// When modifiedAfter is set, only records modified strictly after it are
	// returned, oldest first.
	Fetch(ctx context.Context, collectionID, cursor string, modifiedAfter *time.Time) (Page, error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func(ctx context.Context, collectionID, cursor string, modifiedAfter *time.Time) (Page, error)

func (f SourceFunc) Fetch(ctx context.Context, collectionID, cursor string, modifiedAfter *time.Time) (Page, error) {
	return f(ctx, collectionID, cursor, modifiedAfter)
}
