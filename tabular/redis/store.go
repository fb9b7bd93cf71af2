// Package redis implements tabular.Store on Redis, for deployments that
// already run Redis and want coordination state off the hosted-spreadsheet
// quota regime. Each sheet is a List of JSON-encoded rows.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/primacy/tabular"
)

// Compile-time interface check.
var _ tabular.Store = (*Store)(nil)

// deleteSentinel marks a list element for removal; LSET then LREM is the
// standard Redis way to delete by index.
const deleteSentinel = "__primacy_deleted__"

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeyPrefix overrides the default "primacy:" key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// Store implements tabular.Store backed by Redis.
type Store struct {
	client redis.Cmdable
	prefix string
	logger *slog.Logger
}

// New creates a Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, prefix: "primacy:", logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// sheetKey returns the List key for a sheet: primacy:sheet:{name}
func (s *Store) sheetKey(sheet string) string { return s.prefix + "sheet:" + sheet }

// ReadRange returns the cells covered by the A1 range, or the whole used
// grid when a1 is empty.
func (s *Store) ReadRange(ctx context.Context, sheet, a1 string) ([][]string, error) {
	grid, err := s.readGrid(ctx, sheet)
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
// of the A1 range, growing the grid as needed.
func (s *Store) WriteRange(ctx context.Context, sheet, a1 string, values [][]string) error {
	grid, err := s.readGrid(ctx, sheet)
	if err != nil {
		return err
	}
	grid, err = applyRange(grid, a1, values)
	if err != nil {
		return err
	}
	return s.writeGrid(ctx, sheet, grid)
}

// AppendRow appends a row after the last used row of the sheet.
func (s *Store) AppendRow(ctx context.Context, sheet string, values []string) error {
	enc, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("primacy/redis: encode row: %w", err)
	}
	if err := s.client.RPush(ctx, s.sheetKey(sheet), enc).Err(); err != nil {
		return &tabular.TransientError{Err: err}
	}
	return nil
}

// DeleteRow removes the 1-based row, shifting later rows up.
func (s *Store) DeleteRow(ctx context.Context, sheet string, row int) error {
	key := s.sheetKey(sheet)
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return &tabular.TransientError{Err: err}
	}
	if n == 0 {
		return tabular.ErrSheetNotFound
	}
	if row < 1 || int64(row) > n {
		return tabular.ErrRowNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.LSet(ctx, key, int64(row-1), deleteSentinel)
	pipe.LRem(ctx, key, 1, deleteSentinel)
	if _, err := pipe.Exec(ctx); err != nil {
		return &tabular.TransientError{Err: err}
	}
	return nil
}

// BatchUpdate applies several range writes with one grid rewrite.
func (s *Store) BatchUpdate(ctx context.Context, sheet string, updates []tabular.RangeUpdate) error {
	grid, err := s.readGrid(ctx, sheet)
	if err != nil {
		return err
	}
	for _, u := range updates {
		grid, err = applyRange(grid, u.Range, u.Values)
		if err != nil {
			return err
		}
	}
	return s.writeGrid(ctx, sheet, grid)
}

// EnsureSheet creates the sheet with a header row when missing.
func (s *Store) EnsureSheet(ctx context.Context, sheet string, headers []string) error {
	key := s.sheetKey(sheet)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return &tabular.TransientError{Err: err}
	}
	if exists > 0 {
		return nil
	}
	enc, err := json.Marshal(headers)
	if err != nil {
		return fmt.Errorf("primacy/redis: encode header: %w", err)
	}
	if err := s.client.RPush(ctx, key, enc).Err(); err != nil {
		return &tabular.TransientError{Err: err}
	}
	s.logger.Info("sheet created", "sheet", sheet)
	return nil
}

// readGrid loads and decodes the whole sheet. A missing key returns a nil
// grid with no error; callers decide whether that is ErrSheetNotFound.
func (s *Store) readGrid(ctx context.Context, sheet string) ([][]string, error) {
	raw, err := s.client.LRange(ctx, s.sheetKey(sheet), 0, -1).Result()
	if err != nil {
		return nil, &tabular.TransientError{Err: err}
	}
	if len(raw) == 0 {
		return nil, nil
	}
	grid := make([][]string, 0, len(raw))
	for i, item := range raw {
		var row []string
		if err := json.Unmarshal([]byte(item), &row); err != nil {
			return nil, fmt.Errorf("primacy/redis: decode row %d of %s: %w", i+1, sheet, err)
		}
		grid = append(grid, row)
	}
	return grid, nil
}

// writeGrid replaces the sheet's list contents in one transaction.
func (s *Store) writeGrid(ctx context.Context, sheet string, grid [][]string) error {
	encoded := make([]any, 0, len(grid))
	for i, row := range grid {
		enc, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("primacy/redis: encode row %d of %s: %w", i+1, sheet, err)
		}
		encoded = append(encoded, enc)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.sheetKey(sheet))
	if len(encoded) > 0 {
		pipe.RPush(ctx, s.sheetKey(sheet), encoded...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &tabular.TransientError{Err: err}
	}
	return nil
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

// applyRange writes a rectangle of values into the grid at the range's
// top-left cell, growing rows and columns as needed.
func applyRange(grid [][]string, a1 string, values [][]string) ([][]string, error) {
	col1, row1, _, _, err := tabular.ParseRange(a1)
	if err != nil {
		return nil, err
	}
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
	return grid, nil
}
