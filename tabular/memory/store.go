// Package memory implements tabular.Store as an in-process grid.
// Safe for concurrent access. Intended for unit testing and development;
// several coordinator processes in one test share a single *Store the way
// real deployments share a spreadsheet.
package memory

import (
	"context"
	"sync"

	"github.com/xraph/primacy/tabular"
)

// Compile-time interface check.
var _ tabular.Store = (*Store)(nil)

// Store is a fully in-memory implementation of tabular.Store.
type Store struct {
	mu     sync.RWMutex
	sheets map[string][][]string
}

// New returns a new empty Store.
func New() *Store {
	return &Store{sheets: make(map[string][][]string)}
}

// ReadRange returns the cells covered by the A1 range, or the whole used
// grid when a1 is empty.
func (m *Store) ReadRange(_ context.Context, sheet, a1 string) ([][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	grid, ok := m.sheets[sheet]
	if !ok {
		return nil, tabular.ErrSheetNotFound
	}
	if a1 == "" {
		return copyGrid(grid), nil
	}

	col1, row1, col2, row2, err := tabular.ParseRange(a1)
	if err != nil {
		return nil, err
	}
	if row2 == 0 || row2 > len(grid) {
		row2 = len(grid)
	}
	var out [][]string
	for r := row1; r <= row2; r++ {
		if r > len(grid) {
			break
		}
		src := grid[r-1]
		row := make([]string, 0, col2-col1+1)
		for c := col1; c <= col2; c++ {
			if c <= len(src) {
				row = append(row, src[c-1])
			} else {
				row = append(row, "")
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// WriteRange writes the rectangle of values starting at the top-left cell
// of the A1 range, growing the grid as needed.
func (m *Store) WriteRange(_ context.Context, sheet, a1 string, values [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeRange(sheet, a1, values)
}

// writeRange is WriteRange without locking; callers hold m.mu.
func (m *Store) writeRange(sheet, a1 string, values [][]string) error {
	col1, row1, _, _, err := tabular.ParseRange(a1)
	if err != nil {
		return err
	}
	grid := m.sheets[sheet]
	for i, vals := range values {
		r := row1 + i
		for len(grid) < r {
			grid = append(grid, nil)
		}
		row := grid[r-1]
		for j, v := range vals {
			c := col1 + j
			for len(row) < c {
				row = append(row, "")
			}
			row[c-1] = v
		}
		grid[r-1] = row
	}
	m.sheets[sheet] = grid
	return nil
}

// AppendRow appends a row after the last used row of the sheet.
func (m *Store) AppendRow(_ context.Context, sheet string, values []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := make([]string, len(values))
	copy(row, values)
	m.sheets[sheet] = append(m.sheets[sheet], row)
	return nil
}

// DeleteRow removes the 1-based row, shifting later rows up.
func (m *Store) DeleteRow(_ context.Context, sheet string, row int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	grid, ok := m.sheets[sheet]
	if !ok {
		return tabular.ErrSheetNotFound
	}
	if row < 1 || row > len(grid) {
		return tabular.ErrRowNotFound
	}
	m.sheets[sheet] = append(grid[:row-1], grid[row:]...)
	return nil
}

// BatchUpdate applies several range writes atomically with respect to
// concurrent readers of this Store.
func (m *Store) BatchUpdate(_ context.Context, sheet string, updates []tabular.RangeUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range updates {
		if err := m.writeRange(sheet, u.Range, u.Values); err != nil {
			return err
		}
	}
	return nil
}

// EnsureSheet creates the sheet with a header row when missing.
func (m *Store) EnsureSheet(_ context.Context, sheet string, headers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sheets[sheet]; ok {
		return nil
	}
	row := make([]string, len(headers))
	copy(row, headers)
	m.sheets[sheet] = [][]string{row}
	return nil
}

// Rows returns the number of used rows in the sheet. Test helper.
func (m *Store) Rows(sheet string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sheets[sheet])
}

func copyGrid(grid [][]string) [][]string {
	out := make([][]string, len(grid))
	for i, row := range grid {
		out[i] = make([]string, len(row))
		copy(out[i], row)
	}
	return out
}
