package debug

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	logg *logrus.Logger
)

// GetLogger returns the process-wide logger
func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(logrus.InfoLevel)
	logg.SetOutput(os.Stdout)
}

// SetLevel changes the log level from a name such as "debug" or "warn".
// Unknown names leave the level unchanged.
func SetLevel(name string) {
	if name == "" {
		return
	}
	level, err := logrus.ParseLevel(strings.ToLower(name))
	if err != nil {
		logg.WithField("level", name).Warn("unknown log level, keeping current")
		return
	}
	logg.SetLevel(level)
}

// LogError writes a structured error line tagged with where it happened
func LogError(logger *logrus.Logger, moduleName string, funcName string, context string, data any, err error) {
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	logger.WithFields(fields).Error(err.Error())
}
