// Package logging configures the structured logger every other package
// takes as a *logrus.Logger: human-readable text locally, JSON in
// production so a downstream log aggregator can key off structured
// host/rule/policy fields.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the process-wide logger. appEnv selects the formatter:
// "production" gets JSON, anything else gets colored text output.
func New(appEnv string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	if appEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return log
}
