package app

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Darkvarin/Learnyzer-sub003/pkg/logger"
)

// ConfigureLogging initialises the global logger with the provided level,
// defaulting to info, and aligns gin's mode with it so the framework's own
// debug output only appears when the service runs at debug level.
func ConfigureLogging(level string) error {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		level = "info"
	}

	if level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return logger.Init(level)
}
