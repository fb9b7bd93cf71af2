package tabular

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnLetter converts a 1-based column index to its A1 letter form
// (1 → "A", 26 → "Z", 27 → "AA").
func ColumnLetter(col int) string {
	var b []byte
	for col > 0 {
		col--
		b = append([]byte{byte('A' + col%26)}, b...)
		col /= 26
	}
	return string(b)
}

// Cell formats a single-cell A1 reference, e.g. Cell(7, 2) == "G2".
func Cell(col, row int) string {
	return ColumnLetter(col) + strconv.Itoa(row)
}

// RowSpan formats the A1 range covering columns 1..cols of one row,
// e.g. RowSpan(2, 11) == "A2:K2".
func RowSpan(row, cols int) string {
	return Cell(1, row) + ":" + Cell(cols, row)
}

// Span formats a rectangular A1 range from (col1,row1) to (col2,row2).
func Span(col1, row1, col2, row2 int) string {
	return Cell(col1, row1) + ":" + Cell(col2, row2)
}

// ParseRange parses an A1 range into 1-based bounds. Single-cell references
// parse with identical start and end. The end of an open range like "A2:K"
// has row 0, meaning "through the last used row".
func ParseRange(a1 string) (col1, row1, col2, row2 int, err error) {
	start, end, _ := strings.Cut(a1, ":")
	col1, row1, err = parseCell(start)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if end == "" {
		return col1, row1, col1, row1, nil
	}
	col2, row2, err = parseCell(end)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return col1, row1, col2, row2, nil
}

func parseCell(ref string) (col, row int, err error) {
	i := 0
	for i < len(ref) && ref[i] >= 'A' && ref[i] <= 'Z' {
		col = col*26 + int(ref[i]-'A') + 1
		i++
	}
	if col == 0 {
		return 0, 0, fmt.Errorf("tabular: invalid A1 reference %q", ref)
	}
	if i == len(ref) {
		return col, 0, nil
	}
	row, err = strconv.Atoi(ref[i:])
	if err != nil || row < 1 {
		return 0, 0, fmt.Errorf("tabular: invalid A1 reference %q", ref)
	}
	return col, row, nil
}
