// Package uploader is the HTTP surface of the item uploader: seller file
// ingestion, pipeline runs with live progress, workbook download and cover
// image compositing.
package uploader

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"itemuploader/internal/events"
	"itemuploader/internal/sheets"
	"itemuploader/internal/upload"
	"itemuploader/pkg/config"
)

const defaultBodyLimit = "64M"

// Server holds the dependencies shared by the HTTP handlers.
type Server struct {
	db        *gorm.DB
	opener    *sheets.Opener
	publisher *events.Publisher
	applier   *upload.Applier
	cfg       config.Pipeline
	validate  *validator.Validate

	mu      sync.Mutex
	running map[string]string // spreadsheet id -> run id
}

// NewServer wires a Server. publisher may be nil.
func NewServer(db *gorm.DB, opener *sheets.Opener, publisher *events.Publisher, applier *upload.Applier, cfg config.Pipeline) *Server {
	if applier == nil {
		applier = &upload.Applier{}
	}
	return &Server{
		db:        db,
		opener:    opener,
		publisher: publisher,
		applier:   applier,
		cfg:       cfg,
		validate:  validator.New(),
		running:   make(map[string]string),
	}
}

// Start serves the uploader HTTP API until ctx is done. The port starts at
// HTTP_PORT and moves up when taken.
func Start(ctx context.Context, dbConn *gorm.DB, publisher *events.Publisher) error {
	s := NewServer(dbConn, sheets.OpenerFromConfig(dbConn), publisher,
		&upload.Applier{ChunkRows: viper.GetInt("UPLOAD_CHUNK_ROWS")}, config.PipelineSettings())
	e := NewEcho(s)

	port := findAvailablePort(viper.GetInt("HTTP_PORT"), "Uploader HTTP")
	go func() {
		logrus.WithField("port", port).Info("Starting Uploader HTTP server")
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("Uploader HTTP server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		if err := e.Shutdown(context.Background()); err != nil {
			logrus.WithError(err).Warn("Uploader HTTP shutdown")
		}
	}()
	return nil
}

// NewEcho builds the echo instance with every route registered.
func NewEcho(s *Server) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	limit := viper.GetString("HTTP_BODY_LIMIT")
	if limit == "" {
		limit = defaultBodyLimit
	}
	e.Use(middleware.BodyLimit(limit))
	registerHandlers(e, s)
	return e
}

func registerHandlers(e *echo.Echo, s *Server) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.POST("/uploads", s.handleUploads)
	e.POST("/reference", s.handleImportReference)
	e.GET("/sheets", s.handleListSheets)
	e.GET("/sheets/:tab", s.handleGetSheet)

	e.POST("/pipeline/runs", s.handleCreateRun)
	e.GET("/pipeline/runs/:id", s.handleGetRun)
	e.GET("/pipeline/runs/:id/download", s.handleDownload)
	e.GET("/pipeline/stream", s.handleStream)

	e.POST("/compose", s.handleCompose)
	e.POST("/compose/preview", s.handleComposePreview)
}

func findAvailablePort(basePort int, serviceName string) int {
	port := basePort
	maxAttempts := 10

	for attempt := 0; attempt < maxAttempts; attempt++ {
		addr := fmt.Sprintf(":%d", port)
		listener, err := net.Listen("tcp", addr)
		if err == nil {
			listener.Close()
			logrus.WithFields(logrus.Fields{
				"service": serviceName,
				"port":    port,
			}).Info("Found available port")
			return port
		}
		logrus.WithFields(logrus.Fields{
			"service": serviceName,
			"port":    port,
		}).Warn("Port in use, trying next port")
		port++
	}
	logrus.WithFields(logrus.Fields{
		"service": serviceName,
		"port":    basePort,
	}).Warn("Failed to find available port, using default")
	return basePort
}
