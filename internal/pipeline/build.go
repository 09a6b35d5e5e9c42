package pipeline

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"itemuploader/internal/header"
)

// record is an ordered set of keyed header → value pairs.
type record struct {
	keys []string
	vals []string
}

// set stores v under key. An existing non-empty value is kept unless
// overwrite is set; empty values never replace anything.
func (r *record) set(key, v string, overwrite bool) {
	if key == "" {
		return
	}
	if i := slices.Index(r.keys, key); i >= 0 {
		if v != "" && (overwrite || r.vals[i] == "") {
			r.vals[i] = v
		}
		return
	}
	r.keys = append(r.keys, key)
	r.vals = append(r.vals, v)
}

// lookup resolves a template header against records in priority order:
// exact key matches in any record first, then a record key containing the
// header key.
func lookup(name string, recs ...*record) string {
	k := header.Key(name)
	if k == "" {
		return ""
	}
	for _, r := range recs {
		if i := slices.Index(r.keys, k); i >= 0 && r.vals[i] != "" {
			return r.vals[i]
		}
	}
	for _, r := range recs {
		for i, rk := range r.keys {
			if strings.Contains(rk, k) && r.vals[i] != "" {
				return r.vals[i]
			}
		}
	}
	return ""
}

type product struct {
	pid      string
	category string
	name     string
	base     record
	variants []*record
}

// sourceTable slices a seller tab into its header row and data rows using
// 1-based row settings.
func sourceTable(vals [][]string, headerRow, firstDataRow int) ([]string, [][]string) {
	if headerRow < 1 || len(vals) < headerRow {
		return nil, nil
	}
	hdr := vals[headerRow-1]
	start := max(firstDataRow-1, headerRow)
	if start >= len(vals) {
		return hdr, nil
	}
	return hdr, vals[start:]
}

func pidColumn(hdr []string) int {
	if i := header.PickIndex(hdr, "product id", "pid", "item id", "parent id"); i >= 0 {
		return i
	}
	return 0
}

// templateDict maps Key(top-level category) to the template headers listed
// in the reference TemplateDict tab.
func (p *Pipeline) templateDict(ctx context.Context) (map[string][]string, error) {
	ref, err := p.reference()
	if err != nil {
		return nil, err
	}
	titles, err := ref.Titles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list reference tabs: %w", err)
	}
	if !slices.Contains(titles, templateDictTab) {
		return nil, fmt.Errorf("%w (tabs: %s)", ErrTemplateDictMissing, strings.Join(titles, ", "))
	}
	vals, err := ref.Values(ctx, templateDictTab)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", templateDictTab, err)
	}
	if len(vals) < 2 {
		return nil, fmt.Errorf("%w: no template rows", ErrTemplateDictMissing)
	}

	dict := make(map[string][]string, len(vals)-1)
	for _, row := range vals[1:] {
		top := header.Key(header.Cell(row, 0))
		if top == "" {
			continue
		}
		var hdrs []string
		for _, h := range row[1:] {
			h = strings.TrimSpace(h)
			if h == "" || header.Key(h) == "category" {
				continue
			}
			hdrs = append(hdrs, h)
		}
		dict[top] = hdrs
	}
	return dict, nil
}

// Step1 builds TEM_OUTPUT from BASIC, MEDIA and the optional SALES tab.
//
// Products are merged by product id. SALES rows expand a product into one
// output row per variant. Products are grouped by top-level category in
// first-seen order, each group under its own header row.
func (p *Pipeline) Step1(ctx context.Context) error {
	ref, err := p.reference()
	if err != nil {
		return err
	}
	if ref.ID() == p.Main.ID() {
		return fmt.Errorf("%w (%s)", ErrSameSpreadsheet, ref.ID())
	}

	basicVals, err := p.Main.Values(ctx, "BASIC")
	if err != nil {
		return fmt.Errorf("read BASIC: %w", err)
	}
	mediaVals, err := p.Main.Values(ctx, "MEDIA")
	if err != nil {
		return fmt.Errorf("read MEDIA: %w", err)
	}
	if len(basicVals) < p.Cfg.BasicHeaderRow || len(mediaVals) < p.Cfg.MediaHeaderRow {
		return fmt.Errorf("%w: BASIC has %d rows, MEDIA has %d", ErrSourceEmpty, len(basicVals), len(mediaVals))
	}
	salesVals, err := optionalValues(ctx, p.Main, "SALES")
	if err != nil {
		return err
	}

	dict, err := p.templateDict(ctx)
	if err != nil {
		return err
	}

	products, order := p.mergeProducts(basicVals, mediaVals, salesVals)

	groups := make(map[string][]*product)
	var tops []string
	var failures []Failure
	for _, pid := range order {
		prod := products[pid]
		top := header.TopOfCategory(prod.category)
		if _, ok := dict[header.Key(top)]; !ok || top == "" {
			failures = append(failures, Failure{
				PID: prod.pid, Category: prod.category, Name: prod.name,
				Reason: ReasonTemplateNotFound, Detail: "top=" + top,
			})
			continue
		}
		if _, seen := groups[top]; !seen {
			tops = append(tops, top)
		}
		groups[top] = append(groups[top], prod)
	}

	var out [][]string
	for _, top := range tops {
		hdrs := dict[header.Key(top)]
		out = append(out, append([]string{"", "Category"}, hdrs...))
		for _, prod := range groups[top] {
			variants := prod.variants
			if len(variants) == 0 {
				variants = []*record{{}}
			}
			for _, v := range variants {
				row := make([]string, 0, len(hdrs)+2)
				row = append(row, prod.pid, prod.category)
				for _, h := range hdrs {
					row = append(row, lookup(h, v, &prod.base))
				}
				out = append(out, row)
			}
		}
	}

	if err := p.Main.Replace(ctx, p.temTab(), out); err != nil {
		return fmt.Errorf("write %s: %w", p.temTab(), err)
	}
	if err := appendFailures(ctx, p.Main, failures); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"products":  len(order),
		"groups":    len(tops),
		"rows":      len(out),
		"failures":  len(failures),
		"reference": ref.ID(),
	}).Info("TEM_OUTPUT built")
	return nil
}

func (p *Pipeline) mergeProducts(basicVals, mediaVals, salesVals [][]string) (map[string]*product, []string) {
	products := make(map[string]*product)
	var order []string

	hdr, rows := sourceTable(basicVals, p.Cfg.BasicHeaderRow, p.Cfg.BasicFirstDataRow)
	keys := header.Keys(hdr)
	pidCol := pidColumn(hdr)
	catCol := header.PickIndex(hdr, "category")
	nameCol := header.PickIndex(hdr, "product name", "name")
	for _, row := range rows {
		pid := header.Cell(row, pidCol)
		if pid == "" {
			continue
		}
		prod, ok := products[pid]
		if !ok {
			prod = &product{pid: pid}
			products[pid] = prod
			order = append(order, pid)
		}
		if c := header.Cell(row, catCol); c != "" && prod.category == "" {
			prod.category = c
		}
		if n := header.Cell(row, nameCol); n != "" && prod.name == "" {
			prod.name = n
		}
		for j, k := range keys {
			prod.base.set(k, header.Cell(row, j), false)
		}
	}

	hdr, rows = sourceTable(mediaVals, p.Cfg.MediaHeaderRow, p.Cfg.MediaFirstDataRow)
	keys = header.Keys(hdr)
	pidCol = pidColumn(hdr)
	for _, row := range rows {
		prod, ok := products[header.Cell(row, pidCol)]
		if !ok {
			continue
		}
		for j, k := range keys {
			prod.base.set(k, header.Cell(row, j), false)
		}
	}

	hdr, rows = sourceTable(salesVals, p.Cfg.SalesHeaderRow, p.Cfg.SalesFirstDataRow)
	keys = header.Keys(hdr)
	pidCol = pidColumn(hdr)
	for _, row := range rows {
		prod, ok := products[header.Cell(row, pidCol)]
		if !ok {
			continue
		}
		v := &record{}
		for j, k := range keys {
			v.set(k, header.Cell(row, j), false)
		}
		prod.variants = append(prod.variants, v)
	}

	return products, order
}
