package uploader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"itemuploader/internal/pipeline"
	"itemuploader/internal/sheets"
)

// handleImportReference loads an uploaded workbook and copies every tab of
// it into the stored reference spreadsheet.
func (s *Server) handleImportReference(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		logrus.WithError(err).Error("Invalid reference import request")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "a reference .xlsx file is required"})
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".xlsx") {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "the reference must be an .xlsx file"})
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

	src, err := sheets.LoadWorkbook(bytes.NewReader(data), fh.Filename)
	if err != nil {
		logrus.WithError(err).WithField("file", fh.Filename).Error("Failed to load reference workbook")
		return errorJSON(c, err)
	}
	dst, err := s.opener.ReferenceStore(c.FormValue("sheet"))
	if err != nil {
		return errorJSON(c, err)
	}
	if dst.ID() == s.opener.MainID {
		return errorJSON(c, pipeline.ErrSameSpreadsheet)
	}

	tabs, err := sheets.Import(c.Request().Context(), dst, src)
	if err != nil {
		logrus.WithError(err).WithField("spreadsheet", dst.ID()).Error("Failed to import reference workbook")
		return errorJSON(c, err)
	}
	if s.opener.ReferencePath != "" {
		logrus.WithField("path", s.opener.ReferencePath).Warn("REFERENCE_WORKBOOK_PATH is set and takes precedence over the imported reference")
	}
	logrus.WithFields(logrus.Fields{"spreadsheet": dst.ID(), "tabs": tabs}).Info("Reference workbook imported")
	return c.JSON(http.StatusOK, map[string]interface{}{"spreadsheet_id": dst.ID(), "tabs": tabs})
}

func (s *Server) handleListSheets(c echo.Context) error {
	ss, err := s.opener.Main(c.QueryParam("sheet"))
	if err != nil {
		return errorJSON(c, err)
	}
	titles, err := ss.Titles(c.Request().Context())
	if err != nil {
		return errorJSON(c, err)
	}
	if titles == nil {
		titles = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"spreadsheet_id": ss.ID(), "tabs": titles})
}

// handleGetSheet returns the values of one tab of the main spreadsheet,
// for example Failures or TEM_OUTPUT after a run.
func (s *Server) handleGetSheet(c echo.Context) error {
	tab, err := url.PathUnescape(c.Param("tab"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid tab name"})
	}
	ss, err := s.opener.Main(c.QueryParam("sheet"))
	if err != nil {
		return errorJSON(c, err)
	}
	values, err := ss.Values(c.Request().Context(), tab)
	if errors.Is(err, sheets.ErrWorksheetNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	if err != nil {
		return errorJSON(c, err)
	}
	if values == nil {
		values = [][]string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"spreadsheet_id": ss.ID(), "tab": tab, "values": values})
}
