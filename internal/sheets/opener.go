package sheets

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gorm.io/gorm"

	"itemuploader/internal/header"
)

// Opener resolves the main and reference spreadsheets for a request.
type Opener struct {
	DB            *gorm.DB
	MainID        string
	ReferenceID   string
	ReferencePath string
	Policy        RetryPolicy
}

// OpenerFromConfig builds an Opener from GOOGLE_SHEETS_SPREADSHEET_ID,
// REFERENCE_SPREADSHEET_ID, REFERENCE_WORKBOOK_PATH and the retry settings.
func OpenerFromConfig(db *gorm.DB) *Opener {
	policy := RetryPolicy{
		Attempts: viper.GetInt("SHEETS_RETRIES"),
		Delay:    viper.GetDuration("SHEETS_RETRY_DELAY"),
	}
	if policy.Attempts <= 0 {
		policy = DefaultRetryPolicy
	}
	return &Opener{
		DB:            db,
		MainID:        strings.TrimSpace(viper.GetString("GOOGLE_SHEETS_SPREADSHEET_ID")),
		ReferenceID:   strings.TrimSpace(viper.GetString("REFERENCE_SPREADSHEET_ID")),
		ReferencePath: strings.TrimSpace(viper.GetString("REFERENCE_WORKBOOK_PATH")),
		Policy:        policy,
	}
}

// Main opens the operator's spreadsheet. override may be an id or a
// spreadsheet URL; empty falls back to the configured id.
func (o *Opener) Main(override string) (Spreadsheet, error) {
	return o.stored(o.MainID, override)
}

// ReferenceStore opens the stored reference spreadsheet that reference
// workbooks are imported into. override works as in Main.
func (o *Opener) ReferenceStore(override string) (Spreadsheet, error) {
	return o.stored(o.ReferenceID, override)
}

func (o *Opener) stored(id, override string) (Spreadsheet, error) {
	if raw := strings.TrimSpace(override); raw != "" {
		id = header.ExtractSheetID(raw)
		if id == "" {
			return nil, fmt.Errorf("%w %q", ErrInvalidSpreadsheetID, raw)
		}
	}
	if id == "" {
		return nil, ErrNoSpreadsheet
	}
	return WithRetry(NewStore(o.DB, id), o.Policy), nil
}

// Reference opens the reference workbook. A workbook file takes
// precedence over a stored spreadsheet; nil means none is configured.
func (o *Opener) Reference() (Spreadsheet, error) {
	if o.ReferencePath != "" {
		mem, err := LoadWorkbookFile(o.ReferencePath)
		if err != nil {
			return nil, err
		}
		return mem, nil
	}
	if o.ReferenceID == "" {
		return nil, nil
	}
	return WithRetry(NewStore(o.DB, o.ReferenceID), o.Policy), nil
}
