package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is shared by the CLI and the scan engine.
var Logger = logrus.New()

// InitLogger sends human readable logs to stderr. With a log path the
// output switches to JSON and is copied into that file. The returned func
// closes the file.
func InitLogger(verbose bool, logPath string) func() {
	Logger.SetOutput(os.Stderr)
	if verbose {
		Logger.SetLevel(logrus.DebugLevel)
	} else {
		Logger.SetLevel(logrus.InfoLevel)
	}
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if logPath == "" {
		return func() {}
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		Logger.WithError(err).Error("Cannot open log file")
		return func() {}
	}
	Logger.SetFormatter(&logrus.JSONFormatter{})
	Logger.SetOutput(io.MultiWriter(os.Stderr, logFile))
	return func() {
		Logger.SetOutput(os.Stderr)
		logFile.Close()
	}
}

// Discard returns an entry that drops everything; tests and library callers
// without a logger use it.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
