// Package pipeline reshapes the uploaded BASIC, MEDIA and SALES tabs into
// the marketplace upload template, one step at a time.
//
// Every step after the first works on TEM_OUTPUT: column A is the product
// id and any row whose column B reads "category" is a header row opening a
// block of product rows. Header names are resolved per block, so blocks of
// different categories may carry different columns.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"itemuploader/internal/header"
	"itemuploader/internal/sheets"
	"itemuploader/pkg/config"
)

var (
	// ErrSameSpreadsheet is returned when the reference spreadsheet is the
	// main spreadsheet, which usually means a misconfigured id.
	ErrSameSpreadsheet = errors.New("reference spreadsheet is the main spreadsheet")
	// ErrTemplateDictMissing is returned when the reference has no usable
	// TemplateDict tab.
	ErrTemplateDictMissing = errors.New("reference TemplateDict tab missing")
	// ErrReferenceMissing is returned by steps that need the reference
	// spreadsheet when none is configured.
	ErrReferenceMissing = errors.New("reference spreadsheet not configured")
	// ErrSourceEmpty is returned when BASIC or MEDIA stop before their
	// header row.
	ErrSourceEmpty = errors.New("source tab is empty")
	// ErrImageHostMissing is returned when no image host is known.
	ErrImageHostMissing = errors.New("image host not configured")
)

const templateDictTab = "TemplateDict"

// Pipeline runs the transformation steps against a main spreadsheet,
// reading lookup tables from a reference spreadsheet.
type Pipeline struct {
	Main sheets.Spreadsheet
	Ref  sheets.Spreadsheet
	Cfg  config.Pipeline
}

// New returns a Pipeline. ref may be nil; steps that need it then fail
// with ErrReferenceMissing.
func New(main, ref sheets.Spreadsheet, cfg config.Pipeline) *Pipeline {
	return &Pipeline{Main: main, Ref: ref, Cfg: cfg}
}

func (p *Pipeline) temTab() string {
	if p.Cfg.TemSheet == "" {
		return "TEM_OUTPUT"
	}
	return p.Cfg.TemSheet
}

func (p *Pipeline) reference() (sheets.Spreadsheet, error) {
	if p.Ref == nil {
		return nil, ErrReferenceMissing
	}
	return p.Ref, nil
}

// temValues reads TEM_OUTPUT; a missing tab means Step 1 has not run.
func (p *Pipeline) temValues(ctx context.Context) ([][]string, error) {
	vals, err := p.Main.Values(ctx, p.temTab())
	if err != nil {
		if errors.Is(err, sheets.ErrWorksheetNotFound) {
			return nil, fmt.Errorf("%s missing, run step 1 first: %w", p.temTab(), err)
		}
		return nil, fmt.Errorf("read %s: %w", p.temTab(), err)
	}
	return vals, nil
}

// optionalValues reads a tab, treating a missing tab as empty.
func optionalValues(ctx context.Context, ss sheets.Spreadsheet, tab string) ([][]string, error) {
	vals, err := ss.Values(ctx, tab)
	if errors.Is(err, sheets.ErrWorksheetNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tab, err)
	}
	return vals, nil
}

func isHeaderRow(row []string) bool {
	return strings.EqualFold(header.Cell(row, 1), "category")
}

// blockKeys returns the keyed headers of a header row, starting at column B.
func blockKeys(row []string) []string {
	if len(row) < 2 {
		return nil
	}
	return header.Keys(row[1:])
}

// raw returns row[i] untrimmed, or "".
func raw(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// cellUpdates collects writes against a snapshot of a tab and skips those
// that would not change the cell.
type cellUpdates struct {
	vals  [][]string
	cells []sheets.Cell
}

// set writes v at the 0-based row and the column index j of the block
// headers (column B is j == 0). It reports whether a write was queued.
func (u *cellUpdates) set(r0, j int, v string) bool {
	if j < 0 {
		return false
	}
	col := j + 2
	if raw(u.vals[r0], col-1) == v {
		return false
	}
	u.cells = append(u.cells, sheets.Cell{Row: r0 + 1, Col: col, Value: v})
	return true
}

func (u *cellUpdates) flush(ctx context.Context, ss sheets.Spreadsheet, tab string) error {
	if len(u.cells) == 0 {
		return nil
	}
	if err := ss.UpdateCells(ctx, tab, u.cells); err != nil {
		return fmt.Errorf("update %s: %w", tab, err)
	}
	return nil
}
