package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/sirupsen/logrus"

	"itemuploader/internal/header"
)

var spaceRun = regexp.MustCompile(`\s+`)

func brandKey(name string) string {
	return spaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), " ")
}

type marginTable struct {
	weight map[string]string
	brand  map[string]string
	price  map[string]string
}

// readMargin indexes the MARGIN tab by SKU. Columns are found by header;
// SKU falls back to column A and price to column E.
func readMargin(vals [][]string) marginTable {
	m := marginTable{
		weight: make(map[string]string),
		brand:  make(map[string]string),
		price:  make(map[string]string),
	}
	if len(vals) == 0 {
		return m
	}
	hdr := vals[0]
	skuCol := header.PickIndex(hdr, "sku", "seller_sku")
	if skuCol < 0 {
		skuCol = 0
	}
	brandCol := header.PickIndex(hdr, "brand", "brand name")
	weightCol := header.PickIndex(hdr, "weight", "package weight")
	priceCol := header.PickIndex(hdr, "global sku price", "price", "selling price")
	if priceCol < 0 {
		priceCol = 4
	}
	for _, row := range vals[1:] {
		sku := header.Cell(row, skuCol)
		if sku == "" {
			continue
		}
		if weightCol >= 0 && weightCol < len(row) {
			m.weight[sku] = header.Cell(row, weightCol)
		}
		if brandCol >= 0 && brandCol < len(row) {
			m.brand[sku] = header.Cell(row, brandCol)
		}
		m.price[sku] = header.Cell(row, priceCol)
	}
	return m
}

// readBrandCodes maps normalized brand names (column B) to codes (column C).
func readBrandCodes(vals [][]string) map[string]string {
	out := make(map[string]string)
	if len(vals) == 0 || len(vals[0]) < 3 {
		return out
	}
	for _, row := range vals[1:] {
		if len(row) < 3 {
			continue
		}
		if name := header.Cell(row, 1); name != "" {
			out[brandKey(name)] = header.Cell(row, 2)
		}
	}
	return out
}

// Step4 fills stock, days to ship, weight and brand code. Weight and brand
// come from MARGIN by SKU; the brand code from the reference Brand tab,
// "0" when unknown or when no reference is configured. Unmatched rows are
// reported as failures. Only cells whose value changes are written.
func (p *Pipeline) Step4(ctx context.Context) error {
	vals, err := p.temValues(ctx)
	if err != nil {
		return err
	}
	marginVals, err := optionalValues(ctx, p.Main, "MARGIN")
	if err != nil {
		return err
	}
	var brandVals [][]string
	if p.Ref != nil {
		if brandVals, err = optionalValues(ctx, p.Ref, "Brand"); err != nil {
			return err
		}
	} else {
		logrus.Warn("No reference spreadsheet, brand codes default to 0")
	}
	margin := readMargin(marginVals)
	codes := readBrandCodes(brandVals)

	stock := strconv.Itoa(p.Cfg.StockValue)
	dtos := strconv.Itoa(p.Cfg.DaysToShip)

	u := &cellUpdates{vals: vals}
	var failures []Failure
	var counts struct{ stock, dtos, weight, brand int }
	inBlock := false
	stockCol, dtosCol, weightCol, brandCol, skuCol, nameCol := -1, -1, -1, -1, -1, -1

	for r0, row := range vals {
		if isHeaderRow(row) {
			keys := blockKeys(row)
			stockCol = header.FindColumn(keys, "stock")
			dtosCol = header.FindColumn(keys, "daystoship")
			weightCol = header.FindColumn(keys, "weight")
			brandCol = header.FindColumn(keys, "brand")
			skuCol = header.FindColumn(keys, "sku")
			nameCol = header.FindColumn(keys, "productname")
			inBlock = true
			continue
		}
		if !inBlock {
			continue
		}
		fail := func(reason, detail string) {
			failures = append(failures, Failure{
				PID:      header.Cell(row, 0),
				Category: header.Cell(row, 1),
				Name:     cellAt(row, nameCol),
				Reason:   reason,
				Detail:   detail,
			})
		}

		if u.set(r0, stockCol, stock) {
			counts.stock++
		}
		if u.set(r0, dtosCol, dtos) {
			counts.dtos++
		}

		sku := cellAt(row, skuCol)
		if sku == "" {
			continue
		}
		if weightCol >= 0 {
			if w := margin.weight[sku]; w != "" {
				if u.set(r0, weightCol, w) {
					counts.weight++
				}
			} else {
				fail(ReasonWeightMissing, "sku="+sku)
			}
		}
		if brandCol >= 0 {
			name := margin.brand[sku]
			code := ""
			if name != "" {
				code = codes[brandKey(name)]
			}
			if code == "" {
				if name != "" {
					fail(ReasonBrandCodeNotFound, "brand_name="+name)
				}
				code = "0"
			}
			if u.set(r0, brandCol, code) {
				counts.brand++
			}
		}
	}

	if err := u.flush(ctx, p.Main, p.temTab()); err != nil {
		return err
	}
	if err := appendFailures(ctx, p.Main, failures); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"stock":    counts.stock,
		"dtos":     counts.dtos,
		"weight":   counts.weight,
		"brand":    counts.brand,
		"failures": len(failures),
	}).Info("Computed fields filled")
	return nil
}

// cellAt reads the block column j (column B is j == 0) of row.
func cellAt(row []string, j int) string {
	if j < 0 {
		return ""
	}
	return header.Cell(row, j+1)
}

// Step5 fills product descriptions from BASIC by product id and prices
// from MARGIN by SKU. Products spanning several rows get the variation
// code "V<pid>" on each of them.
func (p *Pipeline) Step5(ctx context.Context) error {
	vals, err := p.temValues(ctx)
	if err != nil {
		return err
	}
	basicVals, err := p.Main.Values(ctx, "BASIC")
	if err != nil {
		return fmt.Errorf("read BASIC: %w", err)
	}
	marginVals, err := optionalValues(ctx, p.Main, "MARGIN")
	if err != nil {
		return err
	}

	descs := make(map[string]string)
	hdr, rows := sourceTable(basicVals, p.Cfg.BasicHeaderRow, p.Cfg.BasicFirstDataRow)
	pidCol := pidColumn(hdr)
	descCol := header.PickIndex(hdr, "product description", "description")
	if descCol < 0 {
		descCol = 3
	}
	for _, row := range rows {
		if pid := header.Cell(row, pidCol); pid != "" {
			descs[pid] = raw(row, descCol)
		}
	}
	prices := readMargin(marginVals).price

	type variantRow struct{ r0, col int }
	groups := make(map[string][]variantRow)
	var pids []string

	u := &cellUpdates{vals: vals}
	inBlock := false
	descIdx, varIdx, priceIdx, skuIdx := -1, -1, -1, -1
	for r0, row := range vals {
		if isHeaderRow(row) {
			keys := blockKeys(row)
			descIdx = header.FindColumn(keys, "productdescription")
			varIdx = header.FindColumn(keys, "variationintegration")
			priceIdx = header.FindColumn(keys, "globalskuprice")
			skuIdx = header.FindColumn(keys, "sku")
			inBlock = true
			continue
		}
		if !inBlock {
			continue
		}
		pid := header.Cell(row, 0)
		if pid == "" {
			continue
		}
		if _, ok := groups[pid]; !ok {
			pids = append(pids, pid)
		}
		groups[pid] = append(groups[pid], variantRow{r0, varIdx})

		u.set(r0, descIdx, descs[pid])
		if priceIdx >= 0 {
			if sku := cellAt(row, skuIdx); sku != "" {
				u.set(r0, priceIdx, prices[sku])
			}
		}
	}

	variations := 0
	for _, pid := range pids {
		rows := groups[pid]
		if len(rows) < 2 {
			continue
		}
		variations++
		for _, vr := range rows {
			u.set(vr.r0, vr.col, "V"+pid)
		}
	}

	if err := u.flush(ctx, p.Main, p.temTab()); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"cells": len(u.cells), "variations": variations}).Info("Descriptions and prices filled")
	return nil
}

// urlBuilder evaluates the cover image URL expression. The expression sees
// host (always ending in "/"), sku and shop.
type urlBuilder struct {
	program *vm.Program
	host    string
	shop    string
}

func newURLBuilder(expression, host, shop string) (*urlBuilder, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, ErrImageHostMissing
	}
	if !strings.HasSuffix(host, "/") {
		host += "/"
	}
	if strings.TrimSpace(expression) == "" {
		expression = `host + sku + "_C_" + shop + ".jpg"`
	}
	env := map[string]any{"host": "", "sku": "", "shop": ""}
	program, err := expr.Compile(expression, expr.Env(env), expr.AsKind(reflect.String))
	if err != nil {
		return nil, fmt.Errorf("compile image url expression %q: %w", expression, err)
	}
	return &urlBuilder{program: program, host: host, shop: shop}, nil
}

func (b *urlBuilder) build(sku string) (string, error) {
	out, err := expr.Run(b.program, map[string]any{"host": b.host, "sku": sku, "shop": b.shop})
	if err != nil {
		return "", fmt.Errorf("evaluate image url for %s: %w", sku, err)
	}
	s, _ := out.(string)
	return s, nil
}

// Step6 writes cover image URLs built from the parent SKU, or the SKU when
// there is no parent.
func (p *Pipeline) Step6(ctx context.Context, shopCode string) error {
	builder, err := newURLBuilder(p.Cfg.ImageURLExpr, p.Cfg.ImageHost, shopCode)
	if err != nil {
		return err
	}
	vals, err := p.temValues(ctx)
	if err != nil {
		return err
	}

	u := &cellUpdates{vals: vals}
	coverIdx, skuIdx, parentIdx := -1, -1, -1
	for r0, row := range vals {
		if isHeaderRow(row) {
			keys := blockKeys(row)
			coverIdx = header.FindColumn(keys, "coverimage")
			skuIdx = header.FindColumn(keys, "sku")
			parentIdx = header.FindColumn(keys, "parentsku")
			continue
		}
		if coverIdx < 0 {
			continue
		}
		sku := cellAt(row, parentIdx)
		if sku == "" {
			sku = cellAt(row, skuIdx)
		}
		if sku == "" {
			continue
		}
		url, err := builder.build(sku)
		if err != nil {
			return err
		}
		u.set(r0, coverIdx, url)
	}

	if err := u.flush(ctx, p.Main, p.temTab()); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"urls": len(u.cells), "shop": shopCode}).Info("Cover image URLs generated")
	return nil
}
