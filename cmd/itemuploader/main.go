package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"itemuploader/internal/db"
	"itemuploader/internal/events"
	"itemuploader/internal/kafka"
	"itemuploader/internal/notification"
	"itemuploader/internal/retention"
	"itemuploader/internal/uploader"
	"itemuploader/pkg/config"
	"itemuploader/pkg/logger"
)

func main() {
	// Initialize logger
	logger.Init()

	// Load configuration
	if err := config.Load(); err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbConn := db.Setup()

	// Runs still work without a broker; events are then only logged.
	var publisher *events.Publisher
	if producer, err := kafka.SetupProducer(); err != nil {
		logrus.WithError(err).Warn("Kafka unavailable, step events will not be published")
	} else {
		publisher = events.NewPublisher(producer, viper.GetString("KAFKA_EVENTS_TOPIC"))
		defer publisher.Close()
	}

	if err := notification.Start(ctx); err != nil {
		logrus.WithError(err).Fatal("Failed to start notification service")
	}
	if publisher != nil {
		if err := events.Start(ctx, dbConn); err != nil {
			logrus.WithError(err).Error("Failed to start events service")
		}
	}

	scheduler, err := retention.Start(dbConn)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to start retention scheduler")
	}
	defer scheduler.Stop()

	if err := uploader.Start(ctx, dbConn, publisher); err != nil {
		logrus.WithError(err).Fatal("Failed to start uploader")
	}

	logrus.Info("Application started")
	<-ctx.Done()
	logrus.Info("Shutting down")
}
