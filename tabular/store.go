// Package tabular defines the storage contract for the coordination layer:
// a spreadsheet-class grid of string cells addressed by A1 ranges, with
// whole-range reads/writes, row append, row delete, and batched updates.
//
// The contract is deliberately the lowest common denominator of hosted
// tabular stores (Google Sheets being the canonical one): there is no
// compare-and-swap and no locking primitive. Everything above this package
// is written against that limitation.
//
// Backends: tabular/memory (testing, development), tabular/sheets (Google
// Sheets), tabular/redis, tabular/bun (SQL via Bun ORM).
package tabular

import "context"

// RangeUpdate is a single write within a BatchUpdate call.
type RangeUpdate struct {
	// Range is an A1 range, e.g. "K3" or "A2:K2".
	Range string
	// Values is the rectangle of cell values to write at Range.
	Values [][]string
}

// Store is the grid persistence contract.
//
// Rows and columns are 1-based throughout, matching A1 notation. All
// methods are safe for concurrent use by a single process; cross-process
// writers race with last-write-wins semantics.
type Store interface {
	// ReadRange returns the cell values covered by the A1 range. An empty
	// range returns the entire used grid of the sheet. Trailing empty rows
	// and cells may be omitted, mirroring hosted spreadsheet APIs.
	ReadRange(ctx context.Context, sheet, a1 string) ([][]string, error)

	// WriteRange writes the rectangle of values starting at the top-left
	// cell of the A1 range, growing the grid as needed.
	WriteRange(ctx context.Context, sheet, a1 string, values [][]string) error

	// AppendRow appends a row after the last used row of the sheet.
	AppendRow(ctx context.Context, sheet string, values []string) error

	// DeleteRow removes the 1-based row, shifting later rows up.
	DeleteRow(ctx context.Context, sheet string, row int) error

	// BatchUpdate applies several range writes in one store call.
	BatchUpdate(ctx context.Context, sheet string, updates []RangeUpdate) error

	// EnsureSheet creates the sheet with the given header row when it does
	// not exist yet. Existing sheets are left untouched.
	EnsureSheet(ctx context.Context, sheet string, headers []string) error
}
