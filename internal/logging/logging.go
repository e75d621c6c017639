package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns the process logger. Unknown levels fall back to info.
func New(level string) *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}
