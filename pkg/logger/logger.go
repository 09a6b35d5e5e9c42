package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Init initializes the structured logger.
func Init() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logrus.SetLevel(lvl)
	}
	logrus.Info("Logger initialized")
}
