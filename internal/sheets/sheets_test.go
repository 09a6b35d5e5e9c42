package sheets

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"itemuploader/internal/db"
)

// exerciseSpreadsheet runs the same contract against every implementation.
func exerciseSpreadsheet(t *testing.T, ss Spreadsheet) {
	t.Helper()
	ctx := context.Background()

	_, err := ss.Values(ctx, "BASIC")
	assert.True(t, errors.Is(err, ErrWorksheetNotFound))
	assert.True(t, errors.Is(ss.UpdateCells(ctx, "BASIC", []Cell{{Row: 1, Col: 1, Value: "x"}}), ErrWorksheetNotFound))

	require.NoError(t, ss.Replace(ctx, "BASIC", [][]string{{"pid", "name"}, {"1", "Soap"}}))
	require.NoError(t, ss.AddWorksheet(ctx, "MEDIA"))
	require.NoError(t, ss.AddWorksheet(ctx, "BASIC"))

	titles, err := ss.Titles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BASIC", "MEDIA"}, titles)

	require.NoError(t, ss.UpdateCells(ctx, "BASIC", []Cell{
		{Row: 2, Col: 2, Value: "Shampoo"},
		{Row: 3, Col: 4, Value: "grown"},
	}))
	values, err := ss.Values(ctx, "BASIC")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"pid", "name"}, {"1", "Shampoo"}, {"", "", "", "grown"}}, values)

	require.NoError(t, ss.Append(ctx, "Failures", [][]string{{"PID", "Reason"}}))
	require.NoError(t, ss.Append(ctx, "Failures", [][]string{{"1", "WEIGHT_MAP_MISSING"}}))
	values, err = ss.Values(ctx, "Failures")
	require.NoError(t, err)
	assert.Len(t, values, 2)

	require.NoError(t, ss.FormatBackground(ctx, "BASIC", []Range{{StartRow: 1, EndRow: 3, StartCol: 1, EndCol: 2}}, "#fff9c4"))
	formats, err := ss.Formats(ctx, "BASIC")
	require.NoError(t, err)
	require.Len(t, formats, 1)
	assert.Equal(t, "FFF9C4", formats[0].Color)
	assert.Equal(t, "FFF9C4", FillAt(formats, 2, 1))
	assert.Equal(t, "", FillAt(formats, 0, 1))

	require.NoError(t, ss.Clear(ctx, "BASIC"))
	values, err = ss.Values(ctx, "BASIC")
	require.NoError(t, err)
	assert.Empty(t, values)
	formats, err = ss.Formats(ctx, "BASIC")
	require.NoError(t, err)
	assert.Empty(t, formats)
}

func TestMemory_Contract(t *testing.T) {
	exerciseSpreadsheet(t, NewMemory("mem"))
}

func TestStore_Contract(t *testing.T) {
	gdb, err := db.OpenMemory()
	require.NoError(t, err)
	exerciseSpreadsheet(t, NewStore(gdb, "main-sheet"))
}

func TestStore_SpreadsheetsAreIsolated(t *testing.T) {
	gdb, err := db.OpenMemory()
	require.NoError(t, err)
	ctx := context.Background()

	a := NewStore(gdb, "a")
	b := NewStore(gdb, "b")
	require.NoError(t, a.Replace(ctx, "BASIC", [][]string{{"a"}}))
	require.NoError(t, b.Replace(ctx, "BASIC", [][]string{{"b"}}))

	va, err := a.Values(ctx, "BASIC")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a"}}, va)
	vb, err := b.Values(ctx, "BASIC")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"b"}}, vb)
}

func TestMemory_ValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("mem")
	require.NoError(t, m.Replace(ctx, "T", [][]string{{"a"}}))
	v, err := m.Values(ctx, "T")
	require.NoError(t, err)
	v[0][0] = "mutated"
	again, err := m.Values(ctx, "T")
	require.NoError(t, err)
	assert.Equal(t, "a", again[0][0])
}

func TestMergeSpans(t *testing.T) {
	assert.Nil(t, MergeSpans(nil))
	assert.Equal(t, [][2]int{{1, 4}, {6, 7}}, MergeSpans([][2]int{{3, 4}, {1, 2}, {6, 7}, {2, 3}}))
	assert.Equal(t, [][2]int{{0, 5}}, MergeSpans([][2]int{{0, 5}, {1, 2}}))
}

func TestLoadWorkbook(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetName("Sheet1", "TemplateDict"))
	require.NoError(t, f.SetSheetRow("TemplateDict", "A1", &[]string{"Top", "H1", "H2"}))
	require.NoError(t, f.SetSheetRow("TemplateDict", "A2", &[]string{"Beauty", "Category", "SKU"}))
	_, err := f.NewSheet("Brand")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Brand", "A1", &[]string{"ID", "Name", "Code"}))

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	mem, err := LoadWorkbook(&buf, "ref")
	require.NoError(t, err)
	assert.Equal(t, "ref", mem.ID())

	titles, err := mem.Titles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"TemplateDict", "Brand"}, titles)

	rows, err := mem.Values(context.Background(), "TemplateDict")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Top", "H1", "H2"}, {"Beauty", "Category", "SKU"}}, rows)
}

type flakySheet struct {
	*Memory
	failures int
	calls    int
}

func (f *flakySheet) Values(ctx context.Context, tab string) ([][]string, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("quota exceeded")
	}
	return f.Memory.Values(ctx, tab)
}

func TestRetrying_RetriesTransientErrors(t *testing.T) {
	mem := NewMemory("m")
	require.NoError(t, mem.Replace(context.Background(), "T", [][]string{{"v"}}))
	flaky := &flakySheet{Memory: mem, failures: 2}

	ss := WithRetry(flaky, RetryPolicy{Attempts: 3, Delay: time.Millisecond})
	v, err := ss.Values(context.Background(), "T")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"v"}}, v)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetrying_GivesUp(t *testing.T) {
	flaky := &flakySheet{Memory: NewMemory("m"), failures: 10}
	ss := WithRetry(flaky, RetryPolicy{Attempts: 2, Delay: time.Millisecond})
	_, err := ss.Values(context.Background(), "T")
	assert.EqualError(t, err, "quota exceeded")
	assert.Equal(t, 2, flaky.calls)
}

func TestRetrying_NotFoundIsNotRetried(t *testing.T) {
	flaky := &flakySheet{Memory: NewMemory("m")}
	ss := WithRetry(flaky, RetryPolicy{Attempts: 3, Delay: time.Millisecond})
	_, err := ss.Values(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrWorksheetNotFound))
	assert.Equal(t, 1, flaky.calls)
}

func TestOpener_Main(t *testing.T) {
	o := &Opener{MainID: "configured", Policy: DefaultRetryPolicy}

	ss, err := o.Main("")
	require.NoError(t, err)
	assert.Equal(t, "configured", ss.ID())

	id := "1l5DK-1lNGHFPfl7mbI6sTR_qU1cwHg2-tlBXzY2JhbI"
	ss, err = o.Main("https://docs.google.com/spreadsheets/d/" + id + "/edit")
	require.NoError(t, err)
	assert.Equal(t, id, ss.ID())

	_, err = o.Main("not a sheet")
	assert.ErrorIs(t, err, ErrInvalidSpreadsheetID)

	_, err = (&Opener{}).Main("")
	assert.True(t, errors.Is(err, ErrNoSpreadsheet))
}

func TestOpener_ReferenceUnset(t *testing.T) {
	ref, err := (&Opener{}).Reference()
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestLoadWorkbook_RejectsNonWorkbook(t *testing.T) {
	_, err := LoadWorkbook(bytes.NewReader([]byte("not a zip")), "ref")
	assert.ErrorIs(t, err, ErrInvalidWorkbook)
}

func TestImport_ReplacesStoredTabs(t *testing.T) {
	ctx := context.Background()
	gdb, err := db.OpenMemory()
	require.NoError(t, err)
	dst := NewStore(gdb, "ref")
	require.NoError(t, dst.Replace(ctx, "Brand", [][]string{{"stale"}}))
	require.NoError(t, dst.Replace(ctx, "Notes", [][]string{{"kept"}}))

	src := NewMemory("upload")
	require.NoError(t, src.Replace(ctx, "TemplateDict", [][]string{{"Top", "H1"}, {"Beauty", "SKU"}}))
	require.NoError(t, src.Replace(ctx, "Brand", [][]string{{"ID", "Name", "Code"}, {"1", "acme", "B-1"}}))

	tabs, err := Import(ctx, dst, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"TemplateDict", "Brand"}, tabs)

	brand, err := dst.Values(ctx, "Brand")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"ID", "Name", "Code"}, {"1", "acme", "B-1"}}, brand)
	dict, err := dst.Values(ctx, "TemplateDict")
	require.NoError(t, err)
	assert.Equal(t, "Beauty", dict[1][0])
	notes, err := dst.Values(ctx, "Notes")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"kept"}}, notes)
}

func TestOpener_ReferenceStore(t *testing.T) {
	o := &Opener{MainID: "main", ReferenceID: "ref", Policy: DefaultRetryPolicy}
	ss, err := o.ReferenceStore("")
	require.NoError(t, err)
	assert.Equal(t, "ref", ss.ID())

	ss, err = o.ReferenceStore("other-reference-spreadsheet-id")
	require.NoError(t, err)
	assert.Equal(t, "other-reference-spreadsheet-id", ss.ID())

	_, err = (&Opener{MainID: "main"}).ReferenceStore("")
	assert.ErrorIs(t, err, ErrNoSpreadsheet)
}
