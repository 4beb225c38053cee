package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Setup applies LOG_LEVEL and LOG_FORMAT ("text" or "json")
func Setup(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}

// SetOutput redirects log output, mainly for tests
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// L returns the underlying logger
func L() *logrus.Logger {
	return log
}

// Debug logs a per-user debug event with consistent fields
// Fields: user_id=... action=... details=...
func Debug(userID, action, details string) {
	log.WithFields(logrus.Fields{
		"user_id": userID,
		"action":  action,
		"details": details,
	}).Debug(action)
}

// Info logs a notable event
func Info(action, details string) {
	log.WithFields(logrus.Fields{
		"action":  action,
		"details": details,
	}).Info(action)
}

// Warn logs a recoverable problem
func Warn(action, details string) {
	log.WithFields(logrus.Fields{
		"action":  action,
		"details": details,
	}).Warn(action)
}

// Error logs a failed operation
func Error(action string, err error, details string) {
	log.WithFields(logrus.Fields{
		"action":  action,
		"details": details,
	}).WithError(err).Error(action)
}

// WithFields returns an entry carrying fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}
