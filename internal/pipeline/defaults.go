package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"itemuploader/internal/header"
	"itemuploader/internal/sheets"
)

const defaultsTabPrefix = "mandatorydefaults_"

// mandatoryDefaults merges every MandatoryDefaults_* reference tab into
// category → attribute key → default value. Later tabs override earlier ones.
func mandatoryDefaults(ctx context.Context, ref sheets.Spreadsheet) (map[string]map[string]string, error) {
	titles, err := ref.Titles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reference tabs: %w", err)
	}
	out := make(map[string]map[string]string)
	for _, title := range titles {
		if !strings.HasPrefix(strings.ToLower(title), defaultsTabPrefix) {
			continue
		}
		vals, err := ref.Values(ctx, title)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", title, err)
		}
		if len(vals) == 0 {
			continue
		}
		keys := header.Keys(vals[0])
		cIdx := header.FindColumn(keys, "category")
		aIdx := header.FindColumn(keys, "attribute", "attr", "property")
		dIdx := header.FindColumn(keys, "defaultvalue", "default")
		if cIdx < 0 || aIdx < 0 || dIdx < 0 {
			logrus.WithField("tab", title).Warn("Defaults tab lacks category/attribute/default columns")
			continue
		}
		for _, row := range vals[1:] {
			cat := strings.ToLower(header.Cell(row, cIdx))
			attr := header.Cell(row, aIdx)
			if cat == "" || attr == "" {
				continue
			}
			if out[cat] == nil {
				out[cat] = make(map[string]string)
			}
			out[cat][header.Key(attr)] = header.Cell(row, dIdx)
		}
	}
	return out, nil
}

// mandatoryAttributes reads the category properties tab: column A is the
// category and every cell reading "mandatory" marks its column header as
// required for that category.
func mandatoryAttributes(ctx context.Context, ref sheets.Spreadsheet, tab string) (map[string][]string, error) {
	vals, err := ref.Values(ctx, tab)
	if errors.Is(err, sheets.ErrWorksheetNotFound) {
		logrus.WithField("tab", tab).Warn("Category properties tab missing, no columns will be coloured")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tab, err)
	}
	out := make(map[string][]string)
	if len(vals) == 0 {
		return out, nil
	}
	keys := header.Keys(vals[0])
	for _, row := range vals[1:] {
		cat := strings.ToLower(header.Cell(row, 0))
		if cat == "" {
			continue
		}
		var mand []string
		for j, cell := range row {
			if j < len(keys) && strings.EqualFold(strings.TrimSpace(cell), "mandatory") {
				mand = append(mand, keys[j])
			}
		}
		if len(mand) > 0 {
			out[cat] = mand
		}
	}
	return out, nil
}

// Step2 fills blank mandatory cells with their category default and
// colours every mandatory column of every product row.
func (p *Pipeline) Step2(ctx context.Context) error {
	ref, err := p.reference()
	if err != nil {
		return err
	}
	defaults, err := mandatoryDefaults(ctx, ref)
	if err != nil {
		return err
	}
	mandatory, err := mandatoryAttributes(ctx, ref, p.Cfg.CatPropsSheet)
	if err != nil {
		return err
	}
	vals, err := p.temValues(ctx)
	if err != nil {
		return err
	}

	u := &cellUpdates{vals: vals}
	spansByCol := make(map[int][][2]int)
	filled := 0
	var keys []string

	for r0, row := range vals {
		if isHeaderRow(row) {
			keys = blockKeys(row)
			continue
		}
		if keys == nil {
			continue
		}
		pid := header.Cell(row, 0)
		cat := strings.ToLower(header.Cell(row, 1))
		if pid == "" || cat == "" {
			continue
		}

		for _, attr := range mandatory[cat] {
			if j := header.FindColumn(keys, attr); j >= 0 {
				spansByCol[j] = append(spansByCol[j], [2]int{r0, r0 + 1})
			}
		}

		attrs := defaults[cat]
		names := make([]string, 0, len(attrs))
		for a := range attrs {
			names = append(names, a)
		}
		sort.Strings(names)
		for _, attr := range names {
			dval := attrs[attr]
			if dval == "" {
				continue
			}
			j := header.FindColumn(keys, attr)
			if j < 0 {
				continue
			}
			if header.Cell(row, j+1) != "" && !p.Cfg.OverwriteNonEmpty {
				continue
			}
			if u.set(r0, j, dval) {
				filled++
			}
		}
	}

	if err := u.flush(ctx, p.Main, p.temTab()); err != nil {
		return err
	}

	cols := make([]int, 0, len(spansByCol))
	for j := range spansByCol {
		cols = append(cols, j)
	}
	slices.Sort(cols)
	var ranges []sheets.Range
	for _, j := range cols {
		for _, s := range sheets.MergeSpans(spansByCol[j]) {
			ranges = append(ranges, sheets.Range{StartRow: s[0], EndRow: s[1], StartCol: j + 1, EndCol: j + 2})
		}
	}
	if len(ranges) > 0 {
		if err := p.Main.FormatBackground(ctx, p.temTab(), ranges, p.Cfg.MandatoryColor); err != nil {
			return fmt.Errorf("colour mandatory columns: %w", err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"filled":  filled,
		"columns": len(cols),
		"ranges":  len(ranges),
	}).Info("Mandatory defaults filled")
	return nil
}

// Step3 stamps the regulatory code on rows whose category is listed in
// column A of the reference allow-list tab. A missing allow-list skips the
// step.
func (p *Pipeline) Step3(ctx context.Context, overwrite bool) error {
	ref, err := p.reference()
	if err != nil {
		return err
	}
	listVals, err := ref.Values(ctx, p.Cfg.FDASheet)
	if err != nil {
		logrus.WithError(err).WithField("tab", p.Cfg.FDASheet).Warn("Regulatory allow-list unreadable, skipping")
		return nil
	}
	allowed := make(map[string]bool)
	for _, row := range listVals {
		if c := strings.ToLower(header.Cell(row, 0)); c != "" {
			allowed[c] = true
		}
	}

	vals, err := p.temValues(ctx)
	if err != nil {
		return err
	}

	u := &cellUpdates{vals: vals}
	catCol, codeCol := -1, -1
	stamped := 0
	for r0, row := range vals {
		if isHeaderRow(row) {
			keys := blockKeys(row)
			catCol = header.FindColumn(keys, "category")
			codeCol = header.FindColumn(keys, p.Cfg.FDAHeader)
			continue
		}
		if catCol < 0 || codeCol < 0 || header.Cell(row, 0) == "" {
			continue
		}
		cat := strings.ToLower(header.Cell(row, catCol+1))
		if cat == "" || !allowed[cat] {
			continue
		}
		if header.Cell(row, codeCol+1) != "" && !overwrite {
			continue
		}
		if u.set(r0, codeCol, p.Cfg.FDACode) {
			stamped++
		}
	}

	if err := u.flush(ctx, p.Main, p.temTab()); err != nil {
		return err
	}
	logrus.WithField("stamped", stamped).Info("Regulatory codes filled")
	return nil
}
