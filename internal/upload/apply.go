package upload

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"itemuploader/internal/sheets"
)

// File is one uploaded workbook.
type File struct {
	Name string
	Data []byte
}

// TargetTab routes a file name to the tab it fills, or "" when the name
// matches none of them.
func TargetTab(filename string) string {
	low := strings.ToLower(filename)
	switch {
	case strings.Contains(low, "basic"):
		return "BASIC"
	case strings.Contains(low, "media"):
		return "MEDIA"
	case strings.Contains(low, "sales"):
		return "SALES"
	case strings.Contains(low, "margin"):
		return "MARGIN"
	}
	return ""
}

// Applier copies uploaded workbooks into their tabs.
type Applier struct {
	// ChunkRows splits large writes; zero writes each tab in one call.
	ChunkRows int
}

// Apply parses every file and replaces its target tab. It never fails as a
// whole: per-file problems are reported as [SKIP], [ERROR] or [WARN] lines.
func (a *Applier) Apply(ctx context.Context, ss sheets.Spreadsheet, files []File) []string {
	if len(files) == 0 {
		return []string{"[WARN] no files uploaded"}
	}

	var logs []string
	for _, f := range files {
		tab := TargetTab(f.Name)
		if tab == "" {
			logs = append(logs, fmt.Sprintf("[SKIP] file name matches no tab: %s", f.Name))
			continue
		}

		values, err := ReadXLSX(f.Data, &logs)
		if err != nil {
			logs = append(logs, fmt.Sprintf("[ERROR] %s: failed to read %s → %v", tab, f.Name, err))
			continue
		}
		if len(values) == 0 {
			logs = append(logs, fmt.Sprintf("[ERROR] %s: %s has no rows", tab, f.Name))
			continue
		}

		if err := a.write(ctx, ss, tab, values, &logs); err != nil {
			logrus.WithError(err).WithField("tab", tab).Error("Failed to write uploaded rows")
			logs = append(logs, fmt.Sprintf("[ERROR] %s: failed to apply %s → %v", tab, f.Name, err))
		}
	}

	ok := false
	for _, l := range logs {
		if strings.HasPrefix(l, "[OK]") {
			ok = true
			break
		}
	}
	if !ok {
		logs = append(logs, "[WARN] no tab was updated; check file names and spreadsheet access")
	}
	return logs
}

func (a *Applier) write(ctx context.Context, ss sheets.Spreadsheet, tab string, values [][]string, logs *[]string) error {
	rows, cols := len(values), 0
	for _, r := range values {
		if len(r) > cols {
			cols = len(r)
		}
	}
	*logs = append(*logs, fmt.Sprintf("[INFO] %s: parsed shape = %dx%d", tab, rows, cols))
	if rows == 0 || cols == 0 {
		*logs = append(*logs, fmt.Sprintf("[WARN] %s: input is empty, skipped", tab))
		return nil
	}

	if a.ChunkRows <= 0 || rows <= a.ChunkRows {
		if err := ss.Replace(ctx, tab, values); err != nil {
			return err
		}
	} else {
		if err := ss.Replace(ctx, tab, values[:a.ChunkRows]); err != nil {
			return err
		}
		for i := a.ChunkRows; i < rows; i += a.ChunkRows {
			end := min(i+a.ChunkRows, rows)
			if err := ss.Append(ctx, tab, values[i:end]); err != nil {
				return fmt.Errorf("chunk at row %d: %w", i+1, err)
			}
		}
	}

	logrus.WithFields(logrus.Fields{"tab": tab, "rows": rows, "cols": cols}).Info("Uploaded rows applied")
	*logs = append(*logs, fmt.Sprintf("[OK] %s: %dx%d applied", tab, rows, cols))
	return nil
}
