package uploader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"itemuploader/internal/models"
	"itemuploader/internal/pipeline"
	"itemuploader/internal/runs"
)

const exportTitle = "Export upload template"

var (
	// ErrRunInProgress is returned when the spreadsheet is already being
	// processed by another run.
	ErrRunInProgress = errors.New("a run is already in progress for this spreadsheet")
	// ErrNothingToExport is returned when TEM_OUTPUT holds no category blocks.
	ErrNothingToExport = errors.New("TEM_OUTPUT has no category blocks to export")
)

type runRequest struct {
	ShopCode    string `json:"shop_code" query:"shop_code" validate:"required"`
	Sheet       string `json:"sheet" query:"sheet"`
	ImageHost   string `json:"image_host" query:"image_host" validate:"omitempty,http_url"`
	NotifyEmail string `json:"notify_email" query:"notify_email" validate:"omitempty,email"`
}

// executeRun runs Steps 1 to 6 and the export for req, persisting the run
// and publishing step events. progress may be nil. The returned run is
// always set once the run record exists, even when err is not nil.
func (s *Server) executeRun(ctx context.Context, req runRequest, progress pipeline.ProgressFunc) (*models.PipelineRun, error) {
	main, err := s.opener.Main(req.Sheet)
	if err != nil {
		return nil, err
	}
	ref, err := s.opener.Reference()
	if err != nil {
		return nil, fmt.Errorf("open reference workbook: %w", err)
	}

	cfg := s.cfg
	if req.ImageHost != "" {
		cfg.ImageHost = req.ImageHost
	}

	runID := uuid.NewString()
	if err := s.lock(main.ID(), runID); err != nil {
		return nil, err
	}
	defer s.unlock(main.ID())

	run := &models.PipelineRun{
		ID:            runID,
		SpreadsheetID: main.ID(),
		ShopCode:      req.ShopCode,
		ImageHost:     cfg.ImageHost,
		NotifyEmail:   req.NotifyEmail,
	}
	if err := runs.Create(ctx, s.db, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	log := logrus.WithFields(logrus.Fields{"run_id": runID, "spreadsheet": main.ID(), "shop_code": req.ShopCode})
	log.Info("Pipeline run started")

	p := pipeline.New(main, ref, cfg)
	total := len(p.StepTitles()) + 1
	report := func(u pipeline.Update) {
		u.Total = total
		ev := models.StepEvent{RunID: runID, Step: u.Step, Title: u.Title, Status: u.Status}
		if u.Err != nil {
			ev.Error = u.Err.Error()
		}
		if err := s.publisher.Publish(ev); err != nil {
			log.WithError(err).Warn("Step event not published")
		}
		if progress != nil {
			progress(u)
		}
	}

	results, runErr := p.RunAll(ctx, req.ShopCode, report)
	if runErr == nil {
		var res models.StepResult
		res, runErr = s.export(ctx, p, runID, len(results)+1, report)
		results = append(results, res)
	}

	// the run record is finished even when the caller went away
	persistCtx := context.WithoutCancel(ctx)
	if err := runs.Finish(persistCtx, s.db, runID, results, runErr); err != nil {
		log.WithError(err).Error("Failed to record run result")
	}

	final := models.StepEvent{RunID: runID, Status: models.RunSucceeded, Final: true, NotifyEmail: req.NotifyEmail}
	if runErr != nil {
		final.Status = models.RunFailed
		final.Error = runErr.Error()
		log.WithError(runErr).Warn("Pipeline run failed")
	} else {
		log.Info("Pipeline run succeeded")
	}
	if err := s.publisher.Publish(final); err != nil {
		log.WithError(err).Warn("Final event not published")
	}

	stored, err := runs.Get(persistCtx, s.db, runID)
	if err != nil {
		return run, errors.Join(runErr, err)
	}
	return stored, runErr
}

// export runs the final step: it builds the upload workbook from TEM_OUTPUT
// and stores it with the run.
func (s *Server) export(ctx context.Context, p *pipeline.Pipeline, runID string, n int, report pipeline.ProgressFunc) (models.StepResult, error) {
	report(pipeline.Update{Step: n, Title: exportTitle, Status: models.StepStarted})

	start := time.Now()
	err := func() error {
		data, err := p.Export(ctx)
		if err != nil {
			return err
		}
		if data == nil {
			return ErrNothingToExport
		}
		return runs.SaveExport(ctx, s.db, runID, pipeline.ExportFilename, data)
	}()

	res := models.StepResult{Step: n, Title: exportTitle, Success: err == nil, Duration: time.Since(start)}
	if err != nil {
		res.Error = err.Error()
		report(pipeline.Update{Step: n, Title: exportTitle, Status: models.StepFailed, Err: err, Duration: res.Duration})
		return res, fmt.Errorf("step %d (%s): %w", n, exportTitle, err)
	}
	report(pipeline.Update{Step: n, Title: exportTitle, Status: models.StepSucceeded, Duration: res.Duration})
	return res, nil
}

func (s *Server) lock(spreadsheetID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[spreadsheetID]; busy {
		return ErrRunInProgress
	}
	s.running[spreadsheetID] = runID
	return nil
}

func (s *Server) unlock(spreadsheetID string) {
	s.mu.Lock()
	delete(s.running, spreadsheetID)
	s.mu.Unlock()
}
