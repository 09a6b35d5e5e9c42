package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Run statuses.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Step event statuses.
const (
	StepStarted   = "started"
	StepSucceeded = "succeeded"
	StepFailed    = "failed"
)

// Worksheet is one tab of a stored spreadsheet. Values holds the cell grid
// as [][]string; Formats holds background fills.
type Worksheet struct {
	gorm.Model
	SpreadsheetID string `gorm:"uniqueIndex:idx_sheet_title;not null"`
	Title         string `gorm:"uniqueIndex:idx_sheet_title;not null"`
	Position      int
	Values        datatypes.JSON
	Formats       datatypes.JSON
}

// PipelineRun records one execution of the transformation pipeline.
type PipelineRun struct {
	ID            string `gorm:"primaryKey;size:36"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SpreadsheetID string `gorm:"index"`
	ShopCode      string
	ImageHost     string
	NotifyEmail   string
	Status        string `gorm:"index"`
	Steps         datatypes.JSON
	Events        datatypes.JSON
	Error         string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// ExportFile is the workbook produced by the export step of a run.
type ExportFile struct {
	gorm.Model
	RunID    string `gorm:"uniqueIndex;size:36"`
	Filename string
	Data     []byte
}

// StepResult is the outcome of one pipeline step as shown to the operator.
type StepResult struct {
	Step     int           `json:"step"`
	Title    string        `json:"title"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// StepEvent is published to the events topic while a run progresses.
type StepEvent struct {
	RunID       string    `json:"run_id"`
	Step        int       `json:"step"`
	Title       string    `json:"title"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Final       bool      `json:"final"`
	NotifyEmail string    `json:"notify_email,omitempty"`
	At          time.Time `json:"at"`
}
