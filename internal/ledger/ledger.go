// Package ledger tracks case-level completion counters in the relational
// job ledger. The jobexecution row is the single source of truth for "is
// this case done": object-store listing alone cannot answer that
// atomically. All counter updates are relative increments executed by the
// database, never read-modify-write from application memory, so no two
// invocations ever need a lock on the same row.
package ledger

import (
	"context"
)

// Row is one case's counter tuple.
type Row struct {
	CaseID      string
	Total       int
	Processed   int
	Unmerged    int
	Unprocessed int
}

// Resolved reports whether every unit of the case has reached a terminal
// state, successfully or not.
func (r Row) Resolved() bool {
	return r.Total == r.Processed+r.Unmerged+r.Unprocessed
}

// Complete reports whether every unit resolved successfully.
func (r Row) Complete() bool {
	return r.Total == r.Processed
}

// Ledger is the jobexecution surface the pipeline mutates. The Aggregator
// never touches it; only the Merger increments outcome counters and only
// the Reconciler archives and deletes rows.
type Ledger interface {
	// RegisterCase upserts the case row and sets its expected unit total.
	RegisterCase(ctx context.Context, caseID string, total int) error

	// EnsureCase inserts the case row with the given total only when the
	// case is not yet known; an existing row's total is left untouched.
	EnsureCase(ctx context.Context, caseID string, total int) error

	// IncrementProcessed adds one successfully merged unit.
	IncrementProcessed(ctx context.Context, caseID string) error

	// IncrementUnmerged adds one terminally failed merge unit.
	IncrementUnmerged(ctx context.Context, caseID string) error

	// SetUnprocessedCount records the recomputed count of document folders
	// with unprocessed markers.
	SetUnprocessedCount(ctx context.Context, caseID string, n int) error

	// Cases lists every active case id.
	Cases(ctx context.Context) ([]string, error)

	// ResolvedCases returns the rows whose counters balance
	// (total == processed + unmerged + unprocessed).
	ResolvedCases(ctx context.Context) ([]Row, error)

	// Archive copies the case row into the append-only history table.
	Archive(ctx context.Context, caseID string) error

	// Delete removes the case row from the active table.
	Delete(ctx context.Context, caseID string) error

	// Empty reports whether the active table has no rows left.
	Empty(ctx context.Context) (bool, error)
}
