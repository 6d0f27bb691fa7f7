package utils

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02T15:04:05Z07:00"

// base carries the fields stamped on every entry
var base = log.WithField("service", "live-bidding")

// init sets up JSON logs on stdout at info level
func init() {
	log.SetFormatter(&log.JSONFormatter{TimestampFormat: timestampFormat})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}

// Configure sets the level and the output format ("json" or "text").
// Nothing changes when either value is invalid.
func Configure(level, format string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}

	var formatter log.Formatter
	switch format {
	case "", "json":
		formatter = &log.JSONFormatter{TimestampFormat: timestampFormat}
	case "text":
		formatter = &log.TextFormatter{TimestampFormat: timestampFormat, FullTimestamp: true}
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	log.SetFormatter(formatter)
	log.SetLevel(lvl)
	return nil
}

// SetOutput redirects every log entry to w
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func Debug(message string, fields map[string]any) {
	base.WithFields(fields).Debug(message)
}

// Info logs a message at info level with optional fields
func Info(message string, fields map[string]any) {
	base.WithFields(fields).Info(message)
}

// Warn logs a message at warning level with optional fields
func Warn(message string, fields map[string]any) {
	base.WithFields(fields).Warn(message)
}

// Error logs a message at error level with optional fields
func Error(message string, fields map[string]any) {
	base.WithFields(fields).Error(message)
}

// Fatal logs a message at fatal level and exits the application
func Fatal(message string, fields map[string]any) {
	base.WithFields(fields).Fatal(message)
}
