// Package log provides leveled, printf-style logging helpers in the
// same call shape the wrapped sources use throughout this module:
// the first argument names the subject being logged about, mirroring
// how archive backends report per-record anomalies.
package log

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

var std = logrus.StandardLogger()

// SetOutput lets a host redirect log output, e.g. into a test buffer.
func SetOutput(l *logrus.Logger) {
	std = l
}

func subjectf(subject interface{}, format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if subject == nil {
		return msg
	}
	return fmt.Sprintf("%v: %s", subject, msg)
}

// Debugf logs a low-level diagnostic message about subject.
func Debugf(subject interface{}, format string, args ...interface{}) {
	std.Debug(subjectf(subject, format, args...))
}

// Logf logs an informational message about subject.
func Logf(subject interface{}, format string, args ...interface{}) {
	std.Info(subjectf(subject, format, args...))
}

// Errorf logs a warning-level message about subject and returns the
// formatted message so call sites can also use it as an error string.
func Errorf(subject interface{}, format string, args ...interface{}) string {
	msg := subjectf(subject, format, args...)
	std.Warn(msg)
	return msg
}
