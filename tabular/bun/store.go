// Package bunstore implements tabular.Store on SQL via the Bun ORM
// (PostgreSQL dialect). The grid lives in a single primacy_rows table keyed
// by (sheet, row_index); rows are string arrays.
//
// Usage:
//
//	s := bunstore.Open(dsn)
//	if err := s.Migrate(ctx); err != nil { ... }
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/primacy/tabular"
)

// Compile-time interface check.
var _ tabular.Store = (*Store)(nil)

// rowModel is one sheet row. row_index is 1-based and kept contiguous by
// DeleteRow.
type rowModel struct {
	bun.BaseModel `bun:"table:primacy_rows"`

	Sheet    string   `bun:"sheet,pk"`
	RowIndex int      `bun:"row_index,pk"`
	Cells    []string `bun:"cells,array"`
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements tabular.Store over a Bun-managed SQL database. The
// caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// New creates a Bun-backed store.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open dials PostgreSQL by DSN and wraps it in a Store. Callers that need
// pool or TLS control should build the *bun.DB themselves and use New.
func Open(dsn string, opts ...Option) *Store {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return New(db, opts...)
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the primacy_rows table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS primacy_rows (
			sheet TEXT NOT NULL,
			row_index INTEGER NOT NULL,
			cells TEXT[] NOT NULL DEFAULT '{}',
			PRIMARY KEY (sheet, row_index)
		)
	`)
	if err != nil {
		return fmt.Errorf("primacy/bun: create primacy_rows: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ReadRange returns the cells covered by the A1 range, or the whole used
// grid when a1 is empty.
func (s *Store) ReadRange(ctx context.Context, sheet, a1 string) ([][]string, error) {
	grid, err := s.readGrid(ctx, s.db, sheet)
	if err != nil {
		return nil, err
	}
	if grid == nil {
		return nil, tabular.ErrSheetNotFound
	}
	if a1 == "" {
		return grid, nil
	}
	return sliceGrid(grid, a1)
}

// WriteRange writes the rectangle of values starting at the top-left cell
// of the A1 range, upserting only the touched rows.
func (s *Store) WriteRange(ctx context.Context, sheet, a1 string, values [][]string) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return s.writeRange(ctx, tx, sheet, a1, values)
	})
}

// AppendRow appends a row after the last used row of the sheet.
func (s *Store) AppendRow(ctx context.Context, sheet string, values []string) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		last, err := s.lastRowIndex(ctx, tx, sheet)
		if err != nil {
			return err
		}
		m := &rowModel{Sheet: sheet, RowIndex: last + 1, Cells: values}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return fmt.Errorf("primacy/bun: append row: %w", err)
		}
		return nil
	})
}

// DeleteRow removes the 1-based row and shifts later rows up to keep
// row_index contiguous.
func (s *Store) DeleteRow(ctx context.Context, sheet string, row int) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		last, err := s.lastRowIndex(ctx, tx, sheet)
		if err != nil {
			return err
		}
		if last == 0 {
			return tabular.ErrSheetNotFound
		}
		if row < 1 || row > last {
			return tabular.ErrRowNotFound
		}
		if _, err := tx.NewDelete().
			Model((*rowModel)(nil)).
			Where("sheet = ?", sheet).
			Where("row_index = ?", row).
			Exec(ctx); err != nil {
			return fmt.Errorf("primacy/bun: delete row: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE primacy_rows SET row_index = row_index - 1
			WHERE sheet = ? AND row_index > ?
		`, sheet, row); err != nil {
			return fmt.Errorf("primacy/bun: shift rows: %w", err)
		}
		return nil
	})
}

// BatchUpdate applies several range writes in one transaction.
func (s *Store) BatchUpdate(ctx context.Context, sheet string, updates []tabular.RangeUpdate) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		for _, u := range updates {
			if err := s.writeRange(ctx, tx, sheet, u.Range, u.Values); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureSheet creates the sheet with a header row when missing.
func (s *Store) EnsureSheet(ctx context.Context, sheet string, headers []string) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		last, err := s.lastRowIndex(ctx, tx, sheet)
		if err != nil {
			return err
		}
		if last > 0 {
			return nil
		}
		m := &rowModel{Sheet: sheet, RowIndex: 1, Cells: headers}
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			return fmt.Errorf("primacy/bun: create sheet: %w", err)
		}
		s.logger.Info("sheet created", "sheet", sheet)
		return nil
	})
}

// ── internals ─────────────────────────────────────────────────────

func (s *Store) readGrid(ctx context.Context, db bun.IDB, sheet string) ([][]string, error) {
	var models []rowModel
	err := db.NewSelect().Model(&models).
		Where("sheet = ?", sheet).
		Order("row_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("primacy/bun: read sheet %s: %w", sheet, err)
	}
	if len(models) == 0 {
		return nil, nil
	}
	last := models[len(models)-1].RowIndex
	grid := make([][]string, last)
	for _, m := range models {
		grid[m.RowIndex-1] = m.Cells
	}
	return grid, nil
}

func (s *Store) writeRange(ctx context.Context, tx bun.Tx, sheet, a1 string, values [][]string) error {
	col1, row1, _, _, err := tabular.ParseRange(a1)
	if err != nil {
		return err
	}
	for i, vals := range values {
		r := row1 + i
		existing, err := s.readRow(ctx, tx, sheet, r)
		if err != nil {
			return err
		}
		row := existing
		for j, v := range vals {
			c := col1 + j
			for len(row) < c {
				row = append(row, "")
			}
			row[c-1] = v
		}
		m := &rowModel{Sheet: sheet, RowIndex: r, Cells: row}
		if _, err := tx.NewInsert().Model(m).
			On("CONFLICT (sheet, row_index) DO UPDATE").
			Set("cells = EXCLUDED.cells").
			Exec(ctx); err != nil {
			return fmt.Errorf("primacy/bun: write row %d: %w", r, err)
		}
	}
	return nil
}

func (s *Store) readRow(ctx context.Context, tx bun.Tx, sheet string, row int) ([]string, error) {
	m := new(rowModel)
	err := tx.NewSelect().Model(m).
		Where("sheet = ?", sheet).
		Where("row_index = ?", row).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("primacy/bun: read row %d: %w", row, err)
	}
	return m.Cells, nil
}

func (s *Store) lastRowIndex(ctx context.Context, tx bun.Tx, sheet string) (int, error) {
	var last int
	err := tx.NewSelect().
		Model((*rowModel)(nil)).
		ColumnExpr("COALESCE(MAX(row_index), 0)").
		Where("sheet = ?", sheet).
		Scan(ctx, &last)
	if err != nil {
		return 0, fmt.Errorf("primacy/bun: last row of %s: %w", sheet, err)
	}
	return last, nil
}

// sliceGrid extracts the rectangle covered by the A1 range.
func sliceGrid(grid [][]string, a1 string) ([][]string, error) {
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
