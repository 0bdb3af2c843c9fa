// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Setup applies level and format ("text" or "json") to the standard logger.
func Setup(level, format string) error {
	return Configure(log.StandardLogger(), level, format)
}

// Configure applies level and format to logger.
func Configure(logger *log.Logger, level, format string) error {
	parsed := log.InfoLevel
	if trimmed := strings.TrimSpace(level); trimmed != "" {
		lvl, errParse := log.ParseLevel(trimmed)
		if errParse != nil {
			return fmt.Errorf("invalid log level %q: %w", level, errParse)
		}
		parsed = lvl
	}
	logger.SetLevel(parsed)
	logger.SetOutput(os.Stdout)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	return nil
}
