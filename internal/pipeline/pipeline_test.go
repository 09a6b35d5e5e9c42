package pipeline

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"itemuploader/internal/models"
	"itemuploader/internal/sheets"
	"itemuploader/pkg/config"
)

var beautyHeaders = []string{
	"Product Name", "SKU", "Parent SKU", "Variation Name", "Product Description",
	"Variation Integration", "Global SKU Price", "Stock", "Days to Ship", "Weight",
	"Brand", "FDA Registration No.", "Cover Image", "Skin Type",
}

func seed(t *testing.T, ss sheets.Spreadsheet, tabs map[string][][]string, order ...string) {
	t.Helper()
	for _, name := range order {
		require.NoError(t, ss.Replace(context.Background(), name, tabs[name]))
	}
}

func fixture(t *testing.T) (*sheets.Memory, *sheets.Memory) {
	t.Helper()
	main := sheets.NewMemory("main")
	seed(t, main, map[string][][]string{
		"BASIC": {
			{"basic meta"},
			{"Product ID", "Category", "Product Name", "Product Description"},
			{"1001", "101 - Beauty/Skincare", "Face Cream", "Rich cream"},
			{"1002", "102 - Home & Living/Bath", "Towel", "Soft towel"},
			{"1003", "103 - Toys/Blocks", "Blocks", "Wooden"},
		},
		"MEDIA": {
			{"media meta"},
			{"Product ID", "Image 1"},
			{"guide"}, {"guide"}, {"guide"},
			{"1001", "img1.jpg"},
		},
		"SALES": {
			{"sales meta"},
			{"Product ID", "SKU", "Parent SKU", "Variation Name", "Price"},
			{"1001", "CR-50", "CR", "50ml", "100"},
			{"1001", "CR-100", "CR", "100ml", "180"},
			{"1002", "TW - 1", "", "", "50"},
		},
		"MARGIN": {
			{"SKU", "Brand", "Weight", "Cost", "Global SKU Price"},
			{"CR-50", "Acme  Labs", "0.2", "", "99"},
			{"CR-100", "ACME Labs", "0.3", "", "170"},
			{"TW - 1", "Unknown Brand", "", "", "45"},
		},
	}, "BASIC", "MEDIA", "SALES", "MARGIN")

	ref := sheets.NewMemory("ref")
	seed(t, ref, map[string][][]string{
		"TemplateDict": {
			{"Top", "Headers"},
			append([]string{"Beauty"}, beautyHeaders...),
			{"Home & Living", "Product Name", "SKU", "Stock", "Weight", "Brand", "Cover Image", "Material"},
		},
		"MandatoryDefaults_A": {
			{"Category", "Attribute", "Default Value"},
			{"101 - Beauty/Skincare", "Skin Type", "All"},
			{"102 - Home & Living/Bath", "Material", "Cotton"},
		},
		"MandatoryDefaults_B": {
			{"Category", "Attribute", "Default"},
			{"101 - Beauty/Skincare", "Skin Type", "Normal"},
		},
		"cat props": {
			{"Category", "Skin Type", "Material"},
			{"101 - Beauty/Skincare", "Mandatory", ""},
			{"102 - Home & Living/Bath", "", "mandatory"},
		},
		"TH Cos": {{"101 - Beauty/Skincare"}},
		"Brand":  {{"ID", "Name", "Code"}, {"1", "acme labs", "B-77"}},
	}, "TemplateDict", "MandatoryDefaults_A", "MandatoryDefaults_B", "cat props", "TH Cos", "Brand")

	return main, ref
}

func testConfig() config.Pipeline {
	cfg := config.DefaultPipeline()
	cfg.ImageHost = "https://img.example.com"
	return cfg
}

func values(t *testing.T, ss sheets.Spreadsheet, tab string) [][]string {
	t.Helper()
	v, err := ss.Values(context.Background(), tab)
	require.NoError(t, err)
	return v
}

func TestStep1_BuildsGroupedTable(t *testing.T) {
	main, ref := fixture(t)
	p := New(main, ref, testConfig())
	require.NoError(t, ResetFailures(context.Background(), main))
	require.NoError(t, p.Step1(context.Background()))

	tem := values(t, main, "TEM_OUTPUT")
	require.Len(t, tem, 5)
	assert.Equal(t, append([]string{"", "Category"}, beautyHeaders...), tem[0])
	assert.Equal(t, []string{"1001", "101 - Beauty/Skincare", "Face Cream", "CR-50", "CR", "50ml", "Rich cream",
		"", "", "", "", "", "", "", "", ""}, tem[1])
	assert.Equal(t, "CR-100", tem[2][3])
	assert.Equal(t, "100ml", tem[2][5])
	assert.Equal(t, []string{"", "Category", "Product Name", "SKU", "Stock", "Weight", "Brand", "Cover Image", "Material"}, tem[3])
	assert.Equal(t, []string{"1002", "102 - Home & Living/Bath", "Towel", "TW - 1", "", "", "", "", ""}, tem[4])

	failures := values(t, main, FailuresTab)
	assert.Equal(t, [][]string{
		FailuresHeader,
		{"1003", "103 - Toys/Blocks", "Blocks", ReasonTemplateNotFound, "top=toys"},
	}, failures)
}

func TestStep1_Guards(t *testing.T) {
	ctx := context.Background()
	main, ref := fixture(t)

	err := New(main, main, testConfig()).Step1(ctx)
	assert.True(t, errors.Is(err, ErrSameSpreadsheet))

	err = New(main, nil, testConfig()).Step1(ctx)
	assert.True(t, errors.Is(err, ErrReferenceMissing))

	bare := sheets.NewMemory("bare")
	require.NoError(t, bare.Replace(ctx, "Brand", [][]string{{"x"}}))
	err = New(main, bare, testConfig()).Step1(ctx)
	assert.True(t, errors.Is(err, ErrTemplateDictMissing))
	assert.Contains(t, err.Error(), "Brand")

	require.NoError(t, main.Replace(ctx, "MEDIA", [][]string{{"only one row"}}))
	err = New(main, ref, testConfig()).Step1(ctx)
	assert.True(t, errors.Is(err, ErrSourceEmpty))
}

func TestRunAll_FillsEveryField(t *testing.T) {
	ctx := context.Background()
	main, ref := fixture(t)
	p := New(main, ref, testConfig())

	var updates []Update
	results, err := p.RunAll(ctx, "SHOP1", func(u Update) { updates = append(updates, u) })
	require.NoError(t, err)
	require.Len(t, results, 6)
	for _, r := range results {
		assert.True(t, r.Success, r.Title)
	}
	require.Len(t, updates, 12)
	assert.Equal(t, models.StepStarted, updates[0].Status)
	assert.Equal(t, models.StepSucceeded, updates[11].Status)
	assert.Equal(t, 6, updates[11].Step)

	tem := values(t, main, "TEM_OUTPUT")
	row1, row2, towel := tem[1], tem[2], tem[4]

	// Beauty block: j+1 is the row index of block column j.
	assert.Equal(t, "V1001", row1[7])
	assert.Equal(t, "V1001", row2[7])
	assert.Equal(t, "99", row1[8])
	assert.Equal(t, "170", row2[8])
	assert.Equal(t, "1000", row1[9])
	assert.Equal(t, "1", row1[10])
	assert.Equal(t, "0.2", row1[11])
	assert.Equal(t, "0.3", row2[11])
	assert.Equal(t, "B-77", row1[12])
	assert.Equal(t, "10-1-9999999", row1[13])
	assert.Equal(t, "https://img.example.com/CR_C_SHOP1.jpg", row1[14])
	assert.Equal(t, "https://img.example.com/CR_C_SHOP1.jpg", row2[14])
	assert.Equal(t, "Normal", row1[15])

	// Home block has no parent SKU, description or FDA columns.
	assert.Equal(t, []string{"1002", "102 - Home & Living/Bath", "Towel", "TW - 1", "1000", "", "0",
		"https://img.example.com/TW - 1_C_SHOP1.jpg", "Cotton"}, towel)

	formats, err := main.Formats(ctx, "TEM_OUTPUT")
	require.NoError(t, err)
	require.Len(t, formats, 2)
	assert.Equal(t, sheets.Range{StartRow: 4, EndRow: 5, StartCol: 8, EndCol: 9}, formats[0].Range)
	assert.Equal(t, sheets.Range{StartRow: 1, EndRow: 3, StartCol: 15, EndCol: 16}, formats[1].Range)
	assert.Equal(t, "FFF9C4", formats[1].Color)

	assert.Equal(t, [][]string{
		FailuresHeader,
		{"1003", "103 - Toys/Blocks", "Blocks", ReasonTemplateNotFound, "top=toys"},
		{"1002", "102 - Home & Living/Bath", "Towel", ReasonWeightMissing, "sku=TW - 1"},
		{"1002", "102 - Home & Living/Bath", "Towel", ReasonBrandCodeNotFound, "brand_name=Unknown Brand"},
	}, values(t, main, FailuresTab))

	// A second run starts from a fresh Failures tab.
	_, err = p.RunAll(ctx, "SHOP1", nil)
	require.NoError(t, err)
	assert.Len(t, values(t, main, FailuresTab), 4)
}

func TestRunAll_StopsAtFirstFailure(t *testing.T) {
	main := sheets.NewMemory("main")
	ref := sheets.NewMemory("ref")
	var statuses []string
	results, err := New(main, ref, testConfig()).RunAll(context.Background(), "S", func(u Update) {
		statuses = append(statuses, u.Status)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sheets.ErrWorksheetNotFound))
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, []string{models.StepStarted, models.StepFailed}, statuses)
	assert.Equal(t, [][]string{FailuresHeader}, values(t, main, FailuresTab))
}

func TestStep2_OverwriteNonEmpty(t *testing.T) {
	ctx := context.Background()
	main, ref := fixture(t)
	require.NoError(t, main.Replace(ctx, "TEM_OUTPUT", [][]string{
		{"", "Category", "Material"},
		{"1002", "102 - Home & Living/Bath", "Linen"},
	}))

	p := New(main, ref, testConfig())
	require.NoError(t, p.Step2(ctx))
	assert.Equal(t, "Linen", values(t, main, "TEM_OUTPUT")[1][2])

	p.Cfg.OverwriteNonEmpty = true
	require.NoError(t, p.Step2(ctx))
	assert.Equal(t, "Cotton", values(t, main, "TEM_OUTPUT")[1][2])
}

func TestStep3_RespectsOverwrite(t *testing.T) {
	ctx := context.Background()
	main, ref := fixture(t)
	require.NoError(t, main.Replace(ctx, "TEM_OUTPUT", [][]string{
		{"", "Category", "FDA Registration No."},
		{"1001", "101 - Beauty/Skincare", "10-1-1234567"},
		{"1002", "102 - Home & Living/Bath", ""},
	}))

	p := New(main, ref, testConfig())
	require.NoError(t, p.Step3(ctx, false))
	tem := values(t, main, "TEM_OUTPUT")
	assert.Equal(t, "10-1-1234567", tem[1][2])
	assert.Equal(t, "", tem[2][2])

	require.NoError(t, p.Step3(ctx, true))
	assert.Equal(t, "10-1-9999999", values(t, main, "TEM_OUTPUT")[1][2])
}

// recordingSheet keeps every cell batch written to TEM_OUTPUT.
type recordingSheet struct {
	*sheets.Memory
	batches [][]sheets.Cell
}

func (r *recordingSheet) UpdateCells(ctx context.Context, tab string, cells []sheets.Cell) error {
	if tab == "TEM_OUTPUT" {
		r.batches = append(r.batches, append([]sheets.Cell(nil), cells...))
	}
	return r.Memory.UpdateCells(ctx, tab, cells)
}

func (r *recordingSheet) written() []sheets.Cell {
	var all []sheets.Cell
	for _, b := range r.batches {
		all = append(all, b...)
	}
	return all
}

func TestStep4_WritesOnlyChangedCells(t *testing.T) {
	ctx := context.Background()
	mem, ref := fixture(t)
	main := &recordingSheet{Memory: mem}
	p := New(main, ref, testConfig())
	require.NoError(t, ResetFailures(ctx, main))
	require.NoError(t, p.Step1(ctx))

	// Stock of the first Beauty row already holds the configured value.
	stock := sheets.Cell{Row: 2, Col: 10, Value: "1000"}
	require.NoError(t, mem.UpdateCells(ctx, "TEM_OUTPUT", []sheets.Cell{stock}))
	main.batches = nil

	require.NoError(t, p.Step4(ctx))
	first := main.written()
	require.NotEmpty(t, first)
	assert.NotContains(t, first, stock)
	assert.Contains(t, first, sheets.Cell{Row: 3, Col: 10, Value: "1000"})

	main.batches = nil
	require.NoError(t, p.Step4(ctx))
	assert.Empty(t, main.written())
}

func TestStep4_WithoutReferenceUsesDefaultBrandCode(t *testing.T) {
	ctx := context.Background()
	main, ref := fixture(t)
	require.NoError(t, ResetFailures(ctx, main))
	require.NoError(t, New(main, ref, testConfig()).Step1(ctx))

	require.NoError(t, New(main, nil, testConfig()).Step4(ctx))
	tem := values(t, main, "TEM_OUTPUT")
	assert.Equal(t, "0", tem[1][12])
	assert.Equal(t, "0.2", tem[1][11])
	assert.Contains(t, values(t, main, FailuresTab),
		[]string{"1001", "101 - Beauty/Skincare", "Face Cream", ReasonBrandCodeNotFound, "brand_name=Acme  Labs"})
}

func TestResetFailures(t *testing.T) {
	ctx := context.Background()
	main := sheets.NewMemory("main")
	require.NoError(t, ResetFailures(ctx, main))
	assert.Equal(t, [][]string{FailuresHeader}, values(t, main, FailuresTab))

	require.NoError(t, main.Append(ctx, FailuresTab, [][]string{{"1", "c", "n", ReasonWeightMissing, "sku=x"}}))
	require.NoError(t, main.FormatBackground(ctx, FailuresTab, []sheets.Range{{EndRow: 1, EndCol: 1}}, "#FF0000"))
	require.NoError(t, ResetFailures(ctx, main))
	assert.Equal(t, [][]string{FailuresHeader}, values(t, main, FailuresTab))
	formats, err := main.Formats(ctx, FailuresTab)
	require.NoError(t, err)
	assert.Empty(t, formats)
}

func TestStep6_ConfigurableExpression(t *testing.T) {
	ctx := context.Background()
	main := sheets.NewMemory("main")
	require.NoError(t, main.Replace(ctx, "TEM_OUTPUT", [][]string{
		{"", "Category", "SKU", "Cover Image"},
		{"1", "Beauty", "AB-1", ""},
	}))
	cfg := testConfig()
	cfg.ImageURLExpr = `host + lower(sku) + "-" + shop + ".png"`
	require.NoError(t, New(main, nil, cfg).Step6(ctx, "S9"))
	assert.Equal(t, "https://img.example.com/ab-1-S9.png", values(t, main, "TEM_OUTPUT")[1][3])

	cfg.ImageHost = ""
	assert.True(t, errors.Is(New(main, nil, cfg).Step6(ctx, "S9"), ErrImageHostMissing))

	cfg.ImageHost = "https://x"
	cfg.ImageURLExpr = `host +`
	assert.Error(t, New(main, nil, cfg).Step6(ctx, "S9"))
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	main, ref := fixture(t)
	p := New(main, ref, testConfig())
	_, err := p.RunAll(ctx, "SHOP1", nil)
	require.NoError(t, err)

	data, err := p.Export(ctx)
	require.NoError(t, err)
	require.NotNil(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"Beauty", "Home_&_Living"}, f.GetSheetList())

	rows, err := f.GetRows("Beauty")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "101-Beauty/Skincare", rows[0][0])
	assert.Equal(t, "Face Cream", rows[0][1])
	assert.Equal(t, "CR-100", rows[1][2])

	fill, err := f.GetCellStyle("Beauty", "O1")
	require.NoError(t, err)
	assert.NotZero(t, fill)
	plain, err := f.GetCellStyle("Beauty", "N1")
	require.NoError(t, err)
	assert.Zero(t, plain)

	home, err := f.GetRows("Home_&_Living")
	require.NoError(t, err)
	require.Len(t, home, 1)
	assert.Equal(t, "102-Home & Living/Bath", home[0][0])
}

func TestExport_HeaderRowOption(t *testing.T) {
	ctx := context.Background()
	main, ref := fixture(t)
	cfg := testConfig()
	cfg.ExportHeader = true
	p := New(main, ref, cfg)
	_, err := p.RunAll(ctx, "SHOP1", nil)
	require.NoError(t, err)

	data, err := p.Export(ctx)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Beauty")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, append([]string{"Category"}, beautyHeaders...), rows[0])
	assert.Equal(t, "101-Beauty/Skincare", rows[1][0])

	bold, err := f.GetCellStyle("Beauty", "A1")
	require.NoError(t, err)
	assert.NotZero(t, bold)
	fill, err := f.GetCellStyle("Beauty", "O2")
	require.NoError(t, err)
	assert.NotZero(t, fill)
}

func TestExport_NoHeaderRows(t *testing.T) {
	ctx := context.Background()
	main := sheets.NewMemory("main")
	require.NoError(t, main.Replace(ctx, "TEM_OUTPUT", [][]string{{"1", "x"}}))
	data, err := New(main, nil, testConfig()).Export(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	_, err = New(sheets.NewMemory("empty"), nil, testConfig()).Export(ctx)
	assert.True(t, errors.Is(err, sheets.ErrWorksheetNotFound))
}

func TestExport_SameTopLevelSharesSheet(t *testing.T) {
	ctx := context.Background()
	main := sheets.NewMemory("main")
	require.NoError(t, main.Replace(ctx, "TEM_OUTPUT", [][]string{
		{"", "Category", "SKU"},
		{"1", "Beauty/Skin", "A"},
		{"", "Category", "SKU"},
		{"2", "Beauty/Hair", "B"},
	}))
	data, err := New(main, nil, testConfig()).Export(ctx)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Beauty")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Beauty/Skin", "A"}, {"Beauty/Hair", "B"}}, rows)
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, "Home_&_Living", SheetName("101814 - Home & Living/Bath"))
	assert.Equal(t, "Mom_Baby_", SheetName("Mom Baby?"))
	assert.Equal(t, "Unknown", SheetName(""))
	assert.Len(t, []rune(SheetName("a very long category name that keeps going/x")), 31)
}

func TestSheetName_ConcurrentCallers(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				assert.Equal(t, "Home_&_Living", SheetName("101 - home & living/bath"))
			}
		}()
	}
	wg.Wait()
}

func TestLookup_PrefersExactMatches(t *testing.T) {
	variant := &record{}
	variant.set("parentsku", "P", false)
	base := &record{}
	base.set("sku", "S", false)
	base.set("sku", "ignored", false)
	base.set("sku", "override", true)

	assert.Equal(t, "override", lookup("SKU", variant, base))
	assert.Equal(t, "P", lookup("Parent SKU", variant, base))
	assert.Equal(t, "", lookup("", variant, base))
}
