package sheets

import (
	"context"
	"fmt"
	"sync"

	"itemuploader/internal/header"
)

// Memory is an in-process Spreadsheet.
type Memory struct {
	mu    sync.RWMutex
	id    string
	order []string
	tabs  map[string]*memTab
}

type memTab struct {
	values  [][]string
	formats []Format
}

// NewMemory returns an empty spreadsheet with the given id.
func NewMemory(id string) *Memory {
	return &Memory{id: id, tabs: make(map[string]*memTab)}
}

// ID returns the spreadsheet id.
func (m *Memory) ID() string { return m.id }

// Titles lists tab names in creation order.
func (m *Memory) Titles(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

// Values returns a copy of the tab grid.
func (m *Memory) Values(_ context.Context, tab string) ([][]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tabs[tab]
	if !ok {
		return nil, fmt.Errorf("%s: %w", tab, ErrWorksheetNotFound)
	}
	return cloneGrid(t.values), nil
}

// Replace clears the tab (creating it if missing) and writes values.
func (m *Memory) Replace(_ context.Context, tab string, values [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.ensure(tab)
	t.values = cloneGrid(values)
	t.formats = nil
	return nil
}

// Append adds rows after the last row of the tab, creating it if missing.
func (m *Memory) Append(_ context.Context, tab string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.ensure(tab)
	t.values = append(t.values, cloneGrid(rows)...)
	return nil
}

// UpdateCells writes individual cells into an existing tab.
func (m *Memory) UpdateCells(_ context.Context, tab string, cells []Cell) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tab]
	if !ok {
		return fmt.Errorf("%s: %w", tab, ErrWorksheetNotFound)
	}
	t.values = applyCells(t.values, cells)
	return nil
}

// Clear empties an existing tab.
func (m *Memory) Clear(_ context.Context, tab string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tab]
	if !ok {
		return fmt.Errorf("%s: %w", tab, ErrWorksheetNotFound)
	}
	t.values = nil
	t.formats = nil
	return nil
}

// AddWorksheet creates an empty tab. Existing tabs are left untouched.
func (m *Memory) AddWorksheet(_ context.Context, tab string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(tab)
	return nil
}

// FormatBackground records fills over ranges of an existing tab.
func (m *Memory) FormatBackground(_ context.Context, tab string, ranges []Range, color string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tabs[tab]
	if !ok {
		return fmt.Errorf("%s: %w", tab, ErrWorksheetNotFound)
	}
	c := header.HexColor(color)
	for _, r := range ranges {
		t.formats = append(t.formats, Format{Range: r, Color: c})
	}
	return nil
}

// Formats returns the fills recorded on a tab.
func (m *Memory) Formats(_ context.Context, tab string) ([]Format, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tabs[tab]
	if !ok {
		return nil, fmt.Errorf("%s: %w", tab, ErrWorksheetNotFound)
	}
	return append([]Format(nil), t.formats...), nil
}

func (m *Memory) ensure(tab string) *memTab {
	t, ok := m.tabs[tab]
	if !ok {
		t = &memTab{}
		m.tabs[tab] = t
		m.order = append(m.order, tab)
	}
	return t
}
