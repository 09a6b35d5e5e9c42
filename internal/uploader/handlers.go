package uploader

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"itemuploader/internal/models"
	"itemuploader/internal/pipeline"
	"itemuploader/internal/runs"
	"itemuploader/internal/sheets"
	"itemuploader/internal/upload"
)

// Uploads carry the BASIC, MEDIA and SALES exports plus an optional MARGIN
// workbook.
const (
	requiredUploads = 3
	maxUploads      = 4
)

// runView is the JSON shape of a stored run.
type runView struct {
	ID            string              `json:"id"`
	SpreadsheetID string              `json:"spreadsheet_id"`
	ShopCode      string              `json:"shop_code"`
	ImageHost     string              `json:"image_host,omitempty"`
	Status        string              `json:"status"`
	Error         string              `json:"error,omitempty"`
	Steps         []models.StepResult `json:"steps"`
	Events        []models.StepEvent  `json:"events"`
	StartedAt     time.Time           `json:"started_at"`
	FinishedAt    *time.Time          `json:"finished_at,omitempty"`
	Download      string              `json:"download,omitempty"`
}

func newRunView(run *models.PipelineRun) (runView, error) {
	steps, err := runs.DecodeSteps(run)
	if err != nil {
		return runView{}, err
	}
	evs, err := runs.DecodeEvents(run)
	if err != nil {
		return runView{}, err
	}
	v := runView{
		ID:            run.ID,
		SpreadsheetID: run.SpreadsheetID,
		ShopCode:      run.ShopCode,
		ImageHost:     run.ImageHost,
		Status:        run.Status,
		Error:         run.Error,
		Steps:         steps,
		Events:        evs,
		StartedAt:     run.StartedAt,
		FinishedAt:    run.FinishedAt,
	}
	if run.Status == models.RunSucceeded {
		v.Download = fmt.Sprintf("/pipeline/runs/%s/download", run.ID)
	}
	return v, nil
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs),
		errors.Is(err, sheets.ErrNoSpreadsheet),
		errors.Is(err, sheets.ErrInvalidSpreadsheetID),
		errors.Is(err, sheets.ErrInvalidWorkbook),
		errors.Is(err, pipeline.ErrSameSpreadsheet),
		errors.Is(err, pipeline.ErrImageHostMissing):
		return http.StatusBadRequest
	case errors.Is(err, runs.ErrRunNotFound),
		errors.Is(err, runs.ErrExportNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrReferenceMissing),
		errors.Is(err, pipeline.ErrTemplateDictMissing),
		errors.Is(err, pipeline.ErrSourceEmpty),
		errors.Is(err, sheets.ErrWorksheetNotFound),
		errors.Is(err, ErrNothingToExport):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func errorJSON(c echo.Context, err error) error {
	return c.JSON(statusFor(err), map[string]string{"error": err.Error()})
}

func (s *Server) handleUploads(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		logrus.WithError(err).Error("Invalid upload request")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	headers := form.File["files"]
	var files []upload.File
	for _, fh := range headers {
		if !strings.EqualFold(filepath.Ext(fh.Filename), ".xlsx") {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			return errorJSON(c, fmt.Errorf("open %s: %w", fh.Filename, err))
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return errorJSON(c, fmt.Errorf("read %s: %w", fh.Filename, err))
		}
		files = append(files, upload.File{Name: fh.Filename, Data: data})
	}
	if len(files) != len(headers) || len(files) < requiredUploads || len(files) > maxUploads {
		logrus.WithField("count", len(headers)).Warn("Upload rejected, three or four .xlsx files are required")
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "upload three .xlsx files (BASIC, MEDIA and SALES) and optionally MARGIN",
		})
	}

	ss, err := s.opener.Main(c.FormValue("sheet"))
	if err != nil {
		logrus.WithError(err).Error("Failed to open spreadsheet")
		return errorJSON(c, err)
	}

	logs := s.applier.Apply(c.Request().Context(), ss, files)
	logrus.WithFields(logrus.Fields{"spreadsheet": ss.ID(), "files": len(files)}).Info("Seller files applied")
	return c.JSON(http.StatusOK, map[string]interface{}{"spreadsheet_id": ss.ID(), "logs": logs})
}

func (s *Server) handleCreateRun(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		logrus.WithError(err).Error("Invalid run request")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	req.ShopCode = strings.TrimSpace(req.ShopCode)
	if err := s.validate.Struct(&req); err != nil {
		logrus.WithError(err).Error("Validation failed for run request")
		return errorJSON(c, err)
	}

	run, err := s.executeRun(c.Request().Context(), req, nil)
	if run == nil {
		return errorJSON(c, err)
	}
	view, verr := newRunView(run)
	if verr != nil {
		return errorJSON(c, verr)
	}
	if err != nil {
		return c.JSON(statusFor(err), map[string]interface{}{"error": err.Error(), "run": view})
	}
	return c.JSON(http.StatusCreated, view)
}

func (s *Server) handleGetRun(c echo.Context) error {
	run, err := runs.Get(c.Request().Context(), s.db, c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	view, err := newRunView(run)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) handleDownload(c echo.Context) error {
	file, err := runs.GetExport(c.Request().Context(), s.db, c.Param("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Filename))
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", file.Data)
}
