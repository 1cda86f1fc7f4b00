// =============================================================================
// BI Recon Engine - Logging Setup
// =============================================================================

// Package logging configures the logrus logger shared by every pipeline.
// The CLI prints its own console summary; structured per-file progress,
// skip reasons and conversion fallbacks all go through here.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger at the configured level. The verbose flag forces
// debug regardless of configuration.
func New(level string, verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	if verbose {
		log.SetLevel(logrus.DebugLevel)
		return log
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)
	return log
}
