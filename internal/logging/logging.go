package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns the process-wide logger. Output is a single line per event
// with structured fields, which is what the log aggregator indexes on.
func New() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}
	return log
}

// ForComponent returns an entry tagged with the component name.
func ForComponent(name string) *logrus.Entry {
	return New().WithField("component", name)
}
