package debug

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// DebugHeader logs a section marker if debugging is enabled
func DebugHeader(enabled bool) {
	if enabled {
		logg.Debug("=== DEBUG START ===")
	}
}

// DebugFooter logs a section marker if debugging is enabled
func DebugFooter(enabled bool) {
	if enabled {
		logg.Debug("=== DEBUG END ===")
	}
}

// DebugOutput logs a formatted debug line if debugging is enabled
func DebugOutput(enabled bool, format string, args ...interface{}) {
	if enabled {
		logg.WithField("ts", time.Now().Format("15:04:05.000")).Debug(fmt.Sprintf(format, args...))
	}
}

// DebugTiming measures and logs execution time if debugging is enabled
func DebugTiming(enabled bool, operation string) func() {
	if !enabled {
		return func() {}
	}

	start := time.Now()
	DebugOutput(enabled, "Starting: %s", operation)

	return func() {
		logg.WithFields(logrus.Fields{
			"operation": operation,
			"took":      time.Since(start).String(),
		}).Debug("Completed")
	}
}
