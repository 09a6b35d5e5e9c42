// Package events implements the pipeline events service: it consumes step
// events from Kafka, keeps each run's event log, and triggers the summary
// email when a run finishes.
package events

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"gorm.io/gorm"

	"itemuploader/internal/kafka"
	"itemuploader/internal/proto"
)

// Start runs the events service. It:
// 1. Initializes an HTTP server with a health check endpoint
// 2. Connects to the notification gRPC service
// 3. Starts consuming step events from Kafka
//
// The service listens on EVENTS_PORT (default: 8085) and consumes messages
// from KAFKA_EVENTS_TOPIC (default: PIPELINE_EVENTS) until ctx is done.
func Start(ctx context.Context, dbConn *gorm.DB) error {
	e := echo.New()
	e.HideBanner = true
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	port := viper.GetString("EVENTS_PORT")
	logrus.WithField("port", port).Info("Starting Pipeline Events Service")
	go func() {
		if err := e.Start("0.0.0.0:" + port); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("Events service shutdown")
		}
	}()
	go func() {
		<-ctx.Done()
		e.Close()
	}()

	conn, err := grpc.NewClient(
		fmt.Sprintf("localhost:%s", viper.GetString("NOTIFICATION_GRPC_PORT")),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect to notification service: %w", err)
	}
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	notifier := proto.NewNotificationServiceClient(conn)

	topic := viper.GetString("KAFKA_EVENTS_TOPIC")
	return kafka.SetupConsumer(ctx, topic, handleEvents(dbConn, notifier))
}
