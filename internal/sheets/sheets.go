// Package sheets models the shared spreadsheet the pipeline reads from and
// writes to: named tabs holding ragged string grids plus background fills.
package sheets

import (
	"context"
	"errors"
	"sort"
)

var (
	// ErrWorksheetNotFound is returned when a tab does not exist.
	ErrWorksheetNotFound = errors.New("worksheet not found")
	// ErrNoSpreadsheet is returned when no spreadsheet id is configured.
	ErrNoSpreadsheet = errors.New("no spreadsheet configured")
	// ErrInvalidSpreadsheetID is returned for an override that is neither an
	// id nor a spreadsheet URL.
	ErrInvalidSpreadsheetID = errors.New("invalid spreadsheet url or id")
	// ErrInvalidWorkbook is returned when uploaded bytes are not an xlsx
	// workbook.
	ErrInvalidWorkbook = errors.New("invalid xlsx workbook")
)

// Cell is a single value write. Row and Col are 1-based.
type Cell struct {
	Row   int    `json:"row"`
	Col   int    `json:"col"`
	Value string `json:"value"`
}

// Range is a 0-based half-open block of cells.
type Range struct {
	StartRow int `json:"start_row"`
	EndRow   int `json:"end_row"`
	StartCol int `json:"start_col"`
	EndCol   int `json:"end_col"`
}

// Contains reports whether the 0-based cell (row, col) lies inside r.
func (r Range) Contains(row, col int) bool {
	return row >= r.StartRow && row < r.EndRow && col >= r.StartCol && col < r.EndCol
}

// Format is a background fill over a range. Color is "RRGGBB".
type Format struct {
	Range
	Color string `json:"color"`
}

// Spreadsheet is the read/write-by-range surface the pipeline depends on.
type Spreadsheet interface {
	ID() string
	Titles(ctx context.Context) ([]string, error)
	Values(ctx context.Context, tab string) ([][]string, error)
	Replace(ctx context.Context, tab string, values [][]string) error
	Append(ctx context.Context, tab string, rows [][]string) error
	UpdateCells(ctx context.Context, tab string, cells []Cell) error
	Clear(ctx context.Context, tab string) error
	AddWorksheet(ctx context.Context, tab string) error
	FormatBackground(ctx context.Context, tab string, ranges []Range, color string) error
	Formats(ctx context.Context, tab string) ([]Format, error)
}

// FillAt returns the colour covering the 0-based cell, or "".
// Later formats win.
func FillAt(formats []Format, row, col int) string {
	color := ""
	for _, f := range formats {
		if f.Contains(row, col) {
			color = f.Color
		}
	}
	return color
}

func cloneGrid(values [][]string) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = append([]string(nil), row...)
	}
	return out
}

// applyCells writes cells into values, growing rows and columns as needed.
func applyCells(values [][]string, cells []Cell) [][]string {
	for _, c := range cells {
		if c.Row < 1 || c.Col < 1 {
			continue
		}
		for len(values) < c.Row {
			values = append(values, nil)
		}
		row := values[c.Row-1]
		for len(row) < c.Col {
			row = append(row, "")
		}
		row[c.Col-1] = c.Value
		values[c.Row-1] = row
	}
	return values
}

// MergeSpans joins overlapping or touching [start, end) row spans.
func MergeSpans(spans [][2]int) [][2]int {
	if len(spans) == 0 {
		return nil
	}
	sorted := append([][2]int(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})
	merged := [][2]int{sorted[0]}
	for _, s := range sorted[1:] {
		last := &merged[len(merged)-1]
		if s[0] <= last[1] {
			if s[1] > last[1] {
				last[1] = s[1]
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}
