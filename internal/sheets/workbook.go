package sheets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/xuri/excelize/v2"
)

// LoadWorkbook reads every tab of an xlsx workbook into a Memory
// spreadsheet identified by id.
func LoadWorkbook(r io.Reader, id string) (*Memory, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	mem := NewMemory(id)
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %s: %w", name, err)
		}
		if err := mem.Replace(context.Background(), name, rows); err != nil {
			return nil, err
		}
	}
	return mem, nil
}

// LoadWorkbookFile is LoadWorkbook over a file path; the id is "file:"+path.
func LoadWorkbookFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workbook %s: %w", path, err)
	}
	return LoadWorkbook(bytes.NewReader(data), "file:"+path)
}

// Import copies every tab of src into dst in src order, replacing tabs that
// already exist in dst. It returns the copied tab names.
func Import(ctx context.Context, dst, src Spreadsheet) ([]string, error) {
	titles, err := src.Titles(ctx)
	if err != nil {
		return nil, err
	}
	for _, tab := range titles {
		values, err := src.Values(ctx, tab)
		if err != nil {
			return nil, err
		}
		if err := dst.Replace(ctx, tab, values); err != nil {
			return nil, fmt.Errorf("import %s: %w", tab, err)
		}
	}
	return titles, nil
}
