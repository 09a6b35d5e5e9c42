package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"itemuploader/internal/header"
	"itemuploader/internal/sheets"
)

// ExportFilename is the name the exported workbook is served under.
const ExportFilename = "Shopee_Upload_Template.xlsx"

const maxSheetName = 31

var (
	sheetNameChars = regexp.MustCompile(`[\s/\\*?:\[\]]`)
	hyphenSpacing  = regexp.MustCompile(`\s*-\s*`)
)

// SheetName derives a worksheet name from a category path: the title-cased
// top-level segment with characters Excel rejects replaced by "_".
// A Caser keeps state between calls, so each call builds its own.
func SheetName(category string) string {
	top := header.TopOfCategory(category)
	if top == "" {
		top = "UNKNOWN"
	}
	name := sheetNameChars.ReplaceAllString(cases.Title(language.Und).String(top), "_")
	if r := []rune(name); len(r) > maxSheetName {
		name = string(r[:maxSheetName])
	}
	return name
}

type exportSheet struct {
	name string
	next int
}

// Export splits TEM_OUTPUT at its header rows into one worksheet per
// top-level category and returns the workbook. Only data rows are written,
// starting at row 1, so they can be pasted under the marketplace
// template's own header rows; Cfg.ExportHeader adds a bold header row on
// top. Column A is dropped and cell fills applied by earlier steps are
// carried over. It returns nil when TEM_OUTPUT has no header rows.
func (p *Pipeline) Export(ctx context.Context) ([]byte, error) {
	vals, err := p.temValues(ctx)
	if err != nil {
		return nil, err
	}
	formats, err := p.Main.Formats(ctx, p.temTab())
	if err != nil {
		return nil, fmt.Errorf("read %s formats: %w", p.temTab(), err)
	}

	var headerRows []int
	for r0, row := range vals {
		if isHeaderRow(row) {
			headerRows = append(headerRows, r0)
		}
	}
	if len(headerRows) == 0 {
		logrus.WithField("tab", p.temTab()).Warn("No header rows, nothing to export")
		return nil, nil
	}

	f := excelize.NewFile()
	defer f.Close()

	fills := make(map[string]int)
	fillStyle := func(color string) (int, error) {
		if id, ok := fills[color]; ok {
			return id, nil
		}
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#" + color}},
		})
		if err != nil {
			return 0, err
		}
		fills[color] = id
		return id, nil
	}

	created := make(map[string]*exportSheet)
	var order []string
	for i, h := range headerRows {
		end := len(vals)
		if i+1 < len(headerRows) {
			end = headerRows[i+1]
		}
		if h+1 >= end {
			continue
		}
		name := SheetName(header.Cell(vals[h+1], 1))

		sh, ok := created[name]
		if !ok {
			if len(order) == 0 {
				err = f.SetSheetName("Sheet1", name)
			} else {
				_, err = f.NewSheet(name)
			}
			if err != nil {
				return nil, fmt.Errorf("create sheet %s: %w", name, err)
			}
			sh = &exportSheet{name: name, next: 1}
			created[name] = sh
			order = append(order, name)

			if p.Cfg.ExportHeader {
				if err := writeHeader(f, name, dropFirst(vals[h])); err != nil {
					return nil, err
				}
				sh.next++
			}
		}

		for r0 := h + 1; r0 < end; r0++ {
			out := dropFirst(vals[r0])
			if len(out) > 0 {
				out[0] = hyphenSpacing.ReplaceAllString(out[0], "-")
			}
			if err := writeRow(f, name, sh.next, out); err != nil {
				return nil, err
			}
			width := max(len(vals[r0]), len(vals[h]))
			for c := 1; c < width; c++ {
				color := sheets.FillAt(formats, r0, c)
				if color == "" {
					continue
				}
				style, err := fillStyle(color)
				if err != nil {
					return nil, err
				}
				cell, _ := excelize.CoordinatesToCellName(c, sh.next)
				if err := f.SetCellStyle(name, cell, cell, style); err != nil {
					return nil, err
				}
			}
			sh.next++
		}
	}

	if len(order) == 0 {
		logrus.WithField("tab", p.temTab()).Warn("Header rows have no data rows, nothing to export")
		return nil, nil
	}
	f.SetActiveSheet(0)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	logrus.WithFields(logrus.Fields{"sheets": order, "bytes": buf.Len()}).Info("Upload template exported")
	return buf.Bytes(), nil
}

func dropFirst(row []string) []string {
	if len(row) < 2 {
		return nil
	}
	return append([]string(nil), row[1:]...)
}

func writeHeader(f *excelize.File, sheet string, hdr []string) error {
	if len(hdr) == 0 {
		return nil
	}
	if err := writeRow(f, sheet, 1, hdr); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(hdr), 1)
	return f.SetCellStyle(sheet, "A1", last, bold)
}

func writeRow(f *excelize.File, sheet string, row int, values []string) error {
	if len(values) == 0 {
		return nil
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}
