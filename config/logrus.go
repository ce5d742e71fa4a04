package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	logg *logrus.Logger
)

func GetLogger() *logrus.Logger {
	return logg
}

func init() {
	logg = logrus.New()
	logg.SetFormatter(&logrus.JSONFormatter{})
	logg.SetLevel(logrus.ErrorLevel)
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logg.SetLevel(lvl)
	}
	logg.SetOutput(os.Stdout)
}

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

// LogSessionTransition records an audit session lifecycle change at Info level.
func LogSessionTransition(logger *logrus.Logger, ownerId string, sessionId int, correlationId string, transition string) {
	if logger == nil {
		return
	}
	logger.WithFields(logrus.Fields{
		"owner_id":       ownerId,
		"session_id":     sessionId,
		"correlation_id": correlationId,
		"transition":     transition,
	}).Info("audit session " + transition)
}
