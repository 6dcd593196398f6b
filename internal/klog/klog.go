// Package klog provides the kernel-wide logger. Call sites keep the
// teacher's bracketed subsystem-tag convention ("[kernel] ...",
// "[memory] ...") seen throughout biscuit and the original Rust log!
// call sites, backed by logrus instead of bare fmt.Printf so that
// severity is a structured field a host tool can filter on; the
// subsystem tag is part of the message text.
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
		DisableColors:    false,
	})
	l.SetLevel(logrus.TraceLevel)
	return l
}

// Tagf logs an info-level message prefixed with "[subsystem] ", matching
// the bracketed subsystem-tag texture of the original kernel's log lines.
func Tagf(subsystem, format string, args ...interface{}) {
	log.Infof(tag(subsystem)+format, args...)
}

// Warnf logs a warning under the given subsystem tag.
func Warnf(subsystem, format string, args ...interface{}) {
	log.Warnf(tag(subsystem)+format, args...)
}

// Fatalln logs an error-severity line. It neither exits nor panics;
// callers exit or panic themselves.
func Fatalln(subsystem string, args ...interface{}) {
	log.Errorln(append([]interface{}{tag(subsystem)}, args...)...)
}

func tag(subsystem string) string {
	return "[" + subsystem + "] "
}
