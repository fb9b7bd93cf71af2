// Package sheets implements tabular.Store on the Google Sheets API v4 —
// the canonical rate-limited production backend. Every quirk the resilient
// layer compensates for (per-minute quotas, eventual consistency between a
// write and the next read) originates here.
//
// Usage:
//
//	svc, err := sheetsapi.NewService(ctx, option.WithCredentialsFile(path))
//	if err != nil { ... }
//	s := sheets.New(svc, spreadsheetID)
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/api/googleapi"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/xraph/primacy/tabular"
)

// Compile-time interface check.
var _ tabular.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements tabular.Store backed by one Google spreadsheet. Sheets
// of the tabular contract map to tabs of the spreadsheet.
type Store struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	logger        *slog.Logger

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// New creates a Store over an authorized Sheets service. The caller owns
// the service and its credential lifecycle.
func New(svc *sheetsapi.Service, spreadsheetID string, opts ...Option) *Store {
	s := &Store{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		logger:        slog.Default(),
		sheetIDs:      make(map[string]int64),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ReadRange returns the cells covered by the A1 range, or the whole used
// grid when a1 is empty.
func (s *Store) ReadRange(ctx context.Context, sheet, a1 string) ([][]string, error) {
	ref := quoteSheet(sheet)
	if a1 != "" {
		ref += "!" + a1
	}
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, ref).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError("read "+ref, err)
	}
	out := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		cells := make([]string, 0, len(row))
		for _, v := range row {
			cells = append(cells, fmt.Sprint(v))
		}
		out = append(out, cells)
	}
	return out, nil
}

// WriteRange writes the rectangle of values at the A1 range with RAW input
// (no formula or number coercion on the Sheets side).
func (s *Store) WriteRange(ctx context.Context, sheet, a1 string, values [][]string) error {
	vr := &sheetsapi.ValueRange{Values: toInterface(values)}
	_, err := s.svc.Spreadsheets.Values.
		Update(s.spreadsheetID, quoteSheet(sheet)+"!"+a1, vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return wrapAPIError("write "+sheet+"!"+a1, err)
	}
	return nil
}

// AppendRow appends a row after the last used row of the sheet.
func (s *Store) AppendRow(ctx context.Context, sheet string, values []string) error {
	vr := &sheetsapi.ValueRange{Values: toInterface([][]string{values})}
	_, err := s.svc.Spreadsheets.Values.
		Append(s.spreadsheetID, quoteSheet(sheet)+"!A1", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return wrapAPIError("append to "+sheet, err)
	}
	return nil
}

// DeleteRow removes the 1-based row with a DeleteDimension request, which
// shifts later rows up server-side.
func (s *Store) DeleteRow(ctx context.Context, sheet string, row int) error {
	sheetID, err := s.sheetID(ctx, sheet)
	if err != nil {
		return err
	}
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			DeleteDimension: &sheetsapi.DeleteDimensionRequest{
				Range: &sheetsapi.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(row - 1),
					EndIndex:   int64(row),
				},
			},
		}},
	}
	_, err = s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return wrapAPIError(fmt.Sprintf("delete row %d of %s", row, sheet), err)
	}
	return nil
}

// BatchUpdate applies several range writes in one values.batchUpdate call,
// which costs a single write-quota unit.
func (s *Store) BatchUpdate(ctx context.Context, sheet string, updates []tabular.RangeUpdate) error {
	data := make([]*sheetsapi.ValueRange, 0, len(updates))
	for _, u := range updates {
		data = append(data, &sheetsapi.ValueRange{
			Range:  quoteSheet(sheet) + "!" + u.Range,
			Values: toInterface(u.Values),
		})
	}
	req := &sheetsapi.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}
	_, err := s.svc.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		return wrapAPIError("batch update "+sheet, err)
	}
	return nil
}

// EnsureSheet adds the tab and writes the header row when the tab is
// missing. Existing tabs are left untouched.
func (s *Store) EnsureSheet(ctx context.Context, sheet string, headers []string) error {
	if _, err := s.sheetID(ctx, sheet); err == nil {
		return nil
	}
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{Title: sheet},
			},
		}},
	}
	resp, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do()
	if err != nil {
		// Lost a creation race; the tab exists now.
		if apiErr, ok := err.(*googleapi.Error); ok && apiErr.Code == 400 {
			return s.WriteRange(ctx, sheet, "A1", [][]string{headers})
		}
		return wrapAPIError("add sheet "+sheet, err)
	}
	for _, r := range resp.Replies {
		if r.AddSheet != nil && r.AddSheet.Properties != nil {
			s.mu.Lock()
			s.sheetIDs[sheet] = r.AddSheet.Properties.SheetId
			s.mu.Unlock()
		}
	}
	s.logger.Info("sheet created", "sheet", sheet)
	return s.WriteRange(ctx, sheet, "A1", [][]string{headers})
}

// sheetID resolves a tab title to its numeric sheet ID, caching results.
func (s *Store) sheetID(ctx context.Context, sheet string) (int64, error) {
	s.mu.Lock()
	if id, ok := s.sheetIDs[sheet]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	meta, err := s.svc.Spreadsheets.Get(s.spreadsheetID).
		Fields("sheets.properties(sheetId,title)").
		Context(ctx).Do()
	if err != nil {
		return 0, wrapAPIError("get spreadsheet metadata", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range meta.Sheets {
		if sh.Properties != nil {
			s.sheetIDs[sh.Properties.Title] = sh.Properties.SheetId
		}
	}
	if id, ok := s.sheetIDs[sheet]; ok {
		return id, nil
	}
	return 0, tabular.ErrSheetNotFound
}

// wrapAPIError maps Sheets API failures onto the tabular error taxonomy:
// 429 → quota, 5xx → transient, 404 → sheet not found.
func wrapAPIError(op string, err error) error {
	apiErr, ok := err.(*googleapi.Error)
	if !ok {
		return &tabular.TransientError{Err: fmt.Errorf("sheets: %s: %w", op, err)}
	}
	switch {
	case apiErr.Code == 429:
		return &tabular.QuotaError{Code: apiErr.Code, Message: apiErr.Message}
	case apiErr.Code == 404:
		return fmt.Errorf("sheets: %s: %w", op, tabular.ErrSheetNotFound)
	case apiErr.Code >= 500:
		return &tabular.TransientError{Err: fmt.Errorf("sheets: %s: %w", op, err)}
	}
	return fmt.Errorf("sheets: %s: %w", op, err)
}

// quoteSheet wraps the tab title in single quotes so titles with spaces
// address correctly in A1 notation.
func quoteSheet(sheet string) string { return "'" + sheet + "'" }

// toInterface converts a string grid to the API's value type.
func toInterface(values [][]string) [][]any {
	out := make([][]any, len(values))
	for i, row := range values {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		out[i] = cells
	}
	return out
}
