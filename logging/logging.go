// Package logging configures the shared logrus logger for the CLIs.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logger writing JSON to stderr. The level comes from the
// LOG_LEVEL environment variable (default info); unparsable values fall back
// to info rather than erroring.
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
