// Package logging configures the process-wide logrus logger and holds the
// field-naming conventions the rest of the tree relies on.
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Setup configures logrus formatting and level from a textual level name,
// the same convention cmd/discord-voice-mcp/main.go used for LOG_LEVEL.
func Setup(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	switch strings.ToLower(level) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// SetupFromEnv configures logging from the LOG_LEVEL environment variable.
func SetupFromEnv() {
	Setup(os.Getenv("LOG_LEVEL"))
}

// StreamFields builds the field set every stream-scoped log line carries.
func StreamFields(streamID string) logrus.Fields {
	return logrus.Fields{"stream_id": streamID}
}

// EngineFields builds the field set every stage-1 engine log line carries.
func EngineFields(moduleType string) logrus.Fields {
	return logrus.Fields{"module_type": moduleType}
}
