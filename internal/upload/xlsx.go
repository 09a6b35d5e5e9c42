// Package upload parses seller workbooks and copies them into the shared
// spreadsheet tabs the pipeline reads.
package upload

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	scoreRows = 800
	scoreCols = 256
)

var (
	sheetViewsBlock = regexp.MustCompile(`(?is)<(?:\w+:)?sheetViews\b[^>]*>.*?</(?:\w+:)?sheetViews>`)
	paneTag         = regexp.MustCompile(`(?is)<(?:\w+:)?pane\b[^>]*/\s*>`)
	sectionLabels   = map[string]bool{"basic_info": true, "media_info": true, "sales_info": true}
)

// ReadXLSX parses an uploaded workbook and returns the rows of its most
// populated sheet. Diagnostic lines are appended to logs.
func ReadXLSX(data []byte, logs *[]string) ([][]string, error) {
	if len(data) < 1024 {
		logf(logs, "[DEBUG] file too small: %d bytes", len(data))
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		logf(logs, "[DEBUG] excelize open failed, sanitizing → %v", err)
		cleaned, serr := sanitize(data)
		if serr != nil {
			return nil, fmt.Errorf("sanitize workbook: %w", serr)
		}
		if f, err = excelize.OpenReader(bytes.NewReader(cleaned)); err != nil {
			return nil, fmt.Errorf("open workbook: %w", err)
		}
	}
	defer f.Close()

	best, bestScore := "", -1
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			logf(logs, "[DEBUG] skip sheet %s → %v", name, err)
			continue
		}
		if s := score(rows); s > bestScore {
			best, bestScore = name, s
		}
	}
	if best == "" {
		return nil, fmt.Errorf("workbook has no readable sheets")
	}
	logf(logs, "[DEBUG] target sheet = %s (score %d)", best, bestScore)

	rows, err := f.GetRows(best)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", best, err)
	}
	rows = dropBlank(rows)
	logf(logs, "[DEBUG] rows before meta-trim=%d", len(rows))

	if len(rows) > 0 && hasPrefixCell(rows[0], "et_title_") {
		rows = rows[1:]
		logf(logs, "[DEBUG] trimmed header row(et_title_*) once")
	}
	if len(rows) > 0 && len(rows[0]) > 0 && sectionLabels[strings.TrimSpace(rows[0][0])] {
		rows = rows[1:]
		logf(logs, "[DEBUG] trimmed section label row once")
	}

	rows = dropBlank(rows)
	logf(logs, "[DEBUG] final rows=%d", len(rows))
	return rows, nil
}

// sanitize removes sheetViews blocks and lone pane tags from every
// worksheet part; some marketplace exports carry view enums that strict
// readers reject.
func sanitize(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, item := range zr.File {
		rc, err := item.Open()
		if err != nil {
			return nil, err
		}
		buf, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(item.Name, "xl/worksheets/") && strings.HasSuffix(item.Name, ".xml") {
			buf = sheetViewsBlock.ReplaceAll(buf, nil)
			buf = paneTag.ReplaceAll(buf, nil)
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: item.Name, Method: zip.Deflate, Modified: item.Modified})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(buf); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func score(rows [][]string) int {
	n := 0
	for r, row := range rows {
		if r >= scoreRows {
			break
		}
		for c, v := range row {
			if c >= scoreCols {
				break
			}
			if strings.TrimSpace(v) != "" {
				n++
			}
		}
	}
	return n
}

func dropBlank(rows [][]string) [][]string {
	out := rows[:0:0]
	for _, row := range rows {
		for _, v := range row {
			if strings.TrimSpace(v) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}

func hasPrefixCell(row []string, prefix string) bool {
	for _, v := range row {
		if strings.HasPrefix(v, prefix) {
			return true
		}
	}
	return false
}

func logf(logs *[]string, format string, args ...any) {
	if logs != nil {
		*logs = append(*logs, fmt.Sprintf(format, args...))
	}
}
