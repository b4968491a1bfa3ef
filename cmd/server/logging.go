package main

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kbats183/multi-stream-server/pkg/config"
)

// setupLogger writes structured logs to stderr, teeing into LOG_FILE when it
// is set. Stdout stays reserved for the banner and connection records.
func setupLogger(settings config.Settings) (*logrus.Logger, func(), error) {
	logger := logrus.New()
	logger.SetLevel(settings.LogLevel)
	if settings.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if settings.LogFile == "" {
		logger.SetOutput(os.Stderr)
		return logger, func() {}, nil
	}

	logFile, err := os.OpenFile(settings.LogFile, os.O_APPEND|os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		logger.SetOutput(os.Stderr)
		return logger, func() {}, err
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, logFile))
	return logger, func() { _ = logFile.Close() }, nil
}
