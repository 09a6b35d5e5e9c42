// Package runs persists pipeline runs, their step events and the exported
// upload workbook.
package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"itemuploader/internal/models"
)

var (
	// ErrRunNotFound is returned when no run has the requested id.
	ErrRunNotFound = errors.New("run not found")
	// ErrExportNotFound is returned when a run produced no workbook.
	ErrExportNotFound = errors.New("export not found")
)

// Create stores a new run in the running state.
//
// Parameters:
//   - ctx: Request context
//   - db: Database connection
//   - run: The run to insert; ID must already be set
//
// Returns:
//   - error: Any database error that occurred, nil if successful
func Create(ctx context.Context, db *gorm.DB, run *models.PipelineRun) error {
	if run.Status == "" {
		run.Status = models.RunRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Steps == nil {
		run.Steps = datatypes.JSON("[]")
	}
	if run.Events == nil {
		run.Events = datatypes.JSON("[]")
	}

	result := db.WithContext(ctx).Create(run)
	if result.Error != nil {
		logrus.WithError(result.Error).WithField("run_id", run.ID).Error("Failed to create run")
	}
	return result.Error
}

// Get loads a run by id.
//
// Returns:
//   - *models.PipelineRun: The stored run
//   - error: ErrRunNotFound when the id is unknown
func Get(ctx context.Context, db *gorm.DB, id string) (*models.PipelineRun, error) {
	var run models.PipelineRun
	err := db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return &run, nil
}

// Finish records the step results and final status of a run.
// A nil runErr marks the run as succeeded.
func Finish(ctx context.Context, db *gorm.DB, id string, results []models.StepResult, runErr error) error {
	steps, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	now := time.Now()
	updates := map[string]interface{}{
		"steps":       datatypes.JSON(steps),
		"status":      models.RunSucceeded,
		"error":       "",
		"finished_at": &now,
	}
	if runErr != nil {
		updates["status"] = models.RunFailed
		updates["error"] = runErr.Error()
	}

	result := db.WithContext(ctx).Model(&models.PipelineRun{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		logrus.WithError(result.Error).WithField("run_id", id).Error("Failed to finish run")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// AppendEvent adds ev to the event log of its run.
//
// Parameters:
//   - ctx: Request context
//   - db: Database connection
//   - ev: The event; ev.RunID selects the run
//
// Returns:
//   - error: ErrRunNotFound for an unknown run, or any database error
func AppendEvent(ctx context.Context, db *gorm.DB, ev models.StepEvent) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run models.PipelineRun
		err := tx.Select("id", "events").Where("id = ?", ev.RunID).First(&run).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRunNotFound
		}
		if err != nil {
			return err
		}

		events, err := DecodeEvents(&run)
		if err != nil {
			return err
		}
		events = append(events, ev)
		raw, err := json.Marshal(events)
		if err != nil {
			return fmt.Errorf("encode events: %w", err)
		}
		return tx.Model(&models.PipelineRun{}).Where("id = ?", ev.RunID).
			Update("events", datatypes.JSON(raw)).Error
	})
}

// DecodeSteps returns the stored step results of run.
func DecodeSteps(run *models.PipelineRun) ([]models.StepResult, error) {
	var steps []models.StepResult
	if len(run.Steps) == 0 {
		return steps, nil
	}
	if err := json.Unmarshal(run.Steps, &steps); err != nil {
		return nil, fmt.Errorf("decode steps of run %s: %w", run.ID, err)
	}
	return steps, nil
}

// DecodeEvents returns the stored event log of run.
func DecodeEvents(run *models.PipelineRun) ([]models.StepEvent, error) {
	var events []models.StepEvent
	if len(run.Events) == 0 {
		return events, nil
	}
	if err := json.Unmarshal(run.Events, &events); err != nil {
		return nil, fmt.Errorf("decode events of run %s: %w", run.ID, err)
	}
	return events, nil
}

// SaveExport stores the workbook produced by a run, replacing any earlier one.
func SaveExport(ctx context.Context, db *gorm.DB, runID, filename string, data []byte) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("run_id = ?", runID).Delete(&models.ExportFile{}).Error; err != nil {
			return err
		}
		file := models.ExportFile{RunID: runID, Filename: filename, Data: data}
		if err := tx.Create(&file).Error; err != nil {
			logrus.WithError(err).WithField("run_id", runID).Error("Failed to save export")
			return err
		}
		return nil
	})
}

// GetExport loads the workbook of a run.
func GetExport(ctx context.Context, db *gorm.DB, runID string) (*models.ExportFile, error) {
	var file models.ExportFile
	err := db.WithContext(ctx).Where("run_id = ?", runID).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrExportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load export of run %s: %w", runID, err)
	}
	return &file, nil
}

// PurgeOlderThan deletes runs started before cutoff together with their
// exports.
//
// Returns:
//   - int64: Number of runs removed
//   - int64: Number of exports removed
//   - error: Any database error that occurred
func PurgeOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, int64, error) {
	var runCount, exportCount int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&models.PipelineRun{}).Where("started_at < ?", cutoff).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		res := tx.Unscoped().Where("run_id IN ?", ids).Delete(&models.ExportFile{})
		if res.Error != nil {
			return res.Error
		}
		exportCount = res.RowsAffected

		res = tx.Where("id IN ?", ids).Delete(&models.PipelineRun{})
		if res.Error != nil {
			return res.Error
		}
		runCount = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("purge runs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return runCount, exportCount, nil
}
