package utils

import (
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// SetupLogging configures the process-wide logrus settings from flags.
func SetupLogging(ctx *cli.Context) error {
	level, err := logrus.ParseLevel(ctx.String(LogLevelFlag.Name))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if ctx.Bool(LogJSONFlag.Name) {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
