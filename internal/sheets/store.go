package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"itemuploader/internal/header"
	"itemuploader/internal/models"
)

// Store is a Spreadsheet persisted through gorm. Every call reads and
// rewrites the whole tab, so concurrent writers resolve as last write wins.
type Store struct {
	db *gorm.DB
	id string
}

// NewStore binds a stored spreadsheet id to a database.
func NewStore(db *gorm.DB, id string) *Store {
	return &Store{db: db, id: id}
}

// ID returns the spreadsheet id.
func (s *Store) ID() string { return s.id }

// Titles lists tab names in creation order.
func (s *Store) Titles(ctx context.Context) ([]string, error) {
	var titles []string
	err := s.db.WithContext(ctx).Model(&models.Worksheet{}).
		Where("spreadsheet_id = ?", s.id).
		Order("position, id").
		Pluck("title", &titles).Error
	if err != nil {
		return nil, fmt.Errorf("list worksheets: %w", err)
	}
	return titles, nil
}

// Values returns the tab grid.
func (s *Store) Values(ctx context.Context, tab string) ([][]string, error) {
	ws, err := s.find(s.db.WithContext(ctx), tab)
	if err != nil {
		return nil, err
	}
	values, _, err := decode(ws)
	return values, err
}

// Replace clears the tab (creating it if missing) and writes values.
func (s *Store) Replace(ctx context.Context, tab string, values [][]string) error {
	return s.mutate(ctx, tab, true, func(_ [][]string, _ []Format) ([][]string, []Format) {
		return values, nil
	})
}

// Append adds rows after the last row, creating the tab if missing.
func (s *Store) Append(ctx context.Context, tab string, rows [][]string) error {
	return s.mutate(ctx, tab, true, func(values [][]string, formats []Format) ([][]string, []Format) {
		return append(values, rows...), formats
	})
}

// UpdateCells writes individual cells into an existing tab.
func (s *Store) UpdateCells(ctx context.Context, tab string, cells []Cell) error {
	return s.mutate(ctx, tab, false, func(values [][]string, formats []Format) ([][]string, []Format) {
		return applyCells(values, cells), formats
	})
}

// Clear empties an existing tab.
func (s *Store) Clear(ctx context.Context, tab string) error {
	return s.mutate(ctx, tab, false, func(_ [][]string, _ []Format) ([][]string, []Format) {
		return nil, nil
	})
}

// AddWorksheet creates an empty tab if it does not exist yet.
func (s *Store) AddWorksheet(ctx context.Context, tab string) error {
	return s.mutate(ctx, tab, true, func(values [][]string, formats []Format) ([][]string, []Format) {
		return values, formats
	})
}

// FormatBackground records fills over ranges of an existing tab.
func (s *Store) FormatBackground(ctx context.Context, tab string, ranges []Range, color string) error {
	c := header.HexColor(color)
	return s.mutate(ctx, tab, false, func(values [][]string, formats []Format) ([][]string, []Format) {
		for _, r := range ranges {
			formats = append(formats, Format{Range: r, Color: c})
		}
		return values, formats
	})
}

// Formats returns the fills recorded on a tab.
func (s *Store) Formats(ctx context.Context, tab string) ([]Format, error) {
	ws, err := s.find(s.db.WithContext(ctx), tab)
	if err != nil {
		return nil, err
	}
	_, formats, err := decode(ws)
	return formats, err
}

func (s *Store) find(tx *gorm.DB, tab string) (*models.Worksheet, error) {
	var ws models.Worksheet
	err := tx.Where("spreadsheet_id = ? AND title = ?", s.id, tab).First(&ws).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", tab, ErrWorksheetNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load worksheet %s: %w", tab, err)
	}
	return &ws, nil
}

func (s *Store) mutate(ctx context.Context, tab string, create bool,
	fn func([][]string, []Format) ([][]string, []Format)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ws, err := s.find(tx, tab)
		if errors.Is(err, ErrWorksheetNotFound) && create {
			var count int64
			if err := tx.Model(&models.Worksheet{}).Where("spreadsheet_id = ?", s.id).Count(&count).Error; err != nil {
				return fmt.Errorf("count worksheets: %w", err)
			}
			ws = &models.Worksheet{SpreadsheetID: s.id, Title: tab, Position: int(count)}
		} else if err != nil {
			return err
		}

		values, formats, err := decode(ws)
		if err != nil {
			return err
		}
		values, formats = fn(values, formats)

		rawValues, err := json.Marshal(nonNilGrid(values))
		if err != nil {
			return fmt.Errorf("encode values: %w", err)
		}
		rawFormats, err := json.Marshal(nonNilFormats(formats))
		if err != nil {
			return fmt.Errorf("encode formats: %w", err)
		}
		ws.Values = datatypes.JSON(rawValues)
		ws.Formats = datatypes.JSON(rawFormats)
		if err := tx.Save(ws).Error; err != nil {
			return fmt.Errorf("save worksheet %s: %w", tab, err)
		}
		return nil
	})
}

func decode(ws *models.Worksheet) ([][]string, []Format, error) {
	var values [][]string
	var formats []Format
	if len(ws.Values) > 0 {
		if err := json.Unmarshal(ws.Values, &values); err != nil {
			return nil, nil, fmt.Errorf("decode values of %s: %w", ws.Title, err)
		}
	}
	if len(ws.Formats) > 0 {
		if err := json.Unmarshal(ws.Formats, &formats); err != nil {
			return nil, nil, fmt.Errorf("decode formats of %s: %w", ws.Title, err)
		}
	}
	return values, formats, nil
}

func nonNilGrid(v [][]string) [][]string {
	if v == nil {
		return [][]string{}
	}
	return v
}

func nonNilFormats(f []Format) []Format {
	if f == nil {
		return []Format{}
	}
	return f
}
