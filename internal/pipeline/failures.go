package pipeline

import (
	"context"
	"errors"
	"fmt"

	"itemuploader/internal/sheets"
)

// FailuresTab collects rows the steps could not complete.
const FailuresTab = "Failures"

// Failure reasons.
const (
	ReasonTemplateNotFound  = "TEMPLATE_NOT_FOUND"
	ReasonWeightMissing     = "WEIGHT_MAP_MISSING"
	ReasonBrandCodeNotFound = "BRAND_CODE_NOT_FOUND"
)

// FailuresHeader is the first row of the Failures tab.
var FailuresHeader = []string{"PID", "Category", "Name", "Reason", "Detail"}

// Failure is one row of the Failures tab.
type Failure struct {
	PID      string
	Category string
	Name     string
	Reason   string
	Detail   string
}

func (f Failure) row() []string {
	return []string{f.PID, f.Category, f.Name, f.Reason, f.Detail}
}

// ResetFailures clears the Failures tab down to its header row, creating
// the tab when it does not exist yet.
func ResetFailures(ctx context.Context, ss sheets.Spreadsheet) error {
	if err := ss.AddWorksheet(ctx, FailuresTab); err != nil {
		return fmt.Errorf("add %s: %w", FailuresTab, err)
	}
	if err := ss.Clear(ctx, FailuresTab); err != nil {
		return fmt.Errorf("clear %s: %w", FailuresTab, err)
	}
	return ss.Append(ctx, FailuresTab, [][]string{FailuresHeader})
}

func appendFailures(ctx context.Context, ss sheets.Spreadsheet, failures []Failure) error {
	if len(failures) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(failures)+1)
	_, err := ss.Values(ctx, FailuresTab)
	switch {
	case errors.Is(err, sheets.ErrWorksheetNotFound):
		rows = append(rows, FailuresHeader)
	case err != nil:
		return fmt.Errorf("read %s: %w", FailuresTab, err)
	}
	for _, f := range failures {
		rows = append(rows, f.row())
	}
	if err := ss.Append(ctx, FailuresTab, rows); err != nil {
		return fmt.Errorf("append %s: %w", FailuresTab, err)
	}
	return nil
}
