package uploader

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"itemuploader/internal/pipeline"
)

const streamWriteTimeout = 10 * time.Second

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// streamMessage is one frame sent to the progress socket. Type is "step",
// "done" or "error".
type streamMessage struct {
	Type       string   `json:"type"`
	Step       int      `json:"step,omitempty"`
	Total      int      `json:"total,omitempty"`
	Title      string   `json:"title,omitempty"`
	Status     string   `json:"status,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`
	Run        *runView `json:"run,omitempty"`
}

// handleStream runs the pipeline and pushes every step update over a
// websocket. Closing the socket cancels the run between steps.
func (s *Server) handleStream(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	req.ShopCode = strings.TrimSpace(req.ShopCode)
	if err := s.validate.Struct(&req); err != nil {
		logrus.WithError(err).Error("Validation failed for stream request")
		return errorJSON(c, err)
	}

	conn, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade websocket")
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go func() {
		defer cancel()
		conn.SetReadLimit(1024)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(msg streamMessage) {
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			logrus.WithError(err).Debug("Progress socket write failed")
			cancel()
		}
	}

	run, runErr := s.executeRun(ctx, req, func(u pipeline.Update) {
		msg := streamMessage{
			Type:       "step",
			Step:       u.Step,
			Total:      u.Total,
			Title:      u.Title,
			Status:     u.Status,
			DurationMs: u.Duration.Milliseconds(),
		}
		if u.Err != nil {
			msg.Error = u.Err.Error()
		}
		write(msg)
	})

	final := streamMessage{Type: "done"}
	if run != nil {
		if view, err := newRunView(run); err == nil {
			final.Run = &view
		}
	}
	if runErr != nil {
		if run == nil {
			final.Type = "error"
		}
		final.Error = runErr.Error()
	}
	write(final)
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return nil
}
