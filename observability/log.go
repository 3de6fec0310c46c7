// Package observability centralizes structured logging and distributed
// tracing for the execution core, following the teacher's pattern of a
// *logrus.Entry field on every Config struct (Chapter12/dbspgraph/config.go)
// and a tracer Pool with a MustGetTracer/GetTracer helper
// (Chapter11/tracing/tracer/tracer.go).
package observability

import (
	"io"

	"github.com/sirupsen/logrus"
)

// NullLogger returns a *logrus.Entry that discards everything, used as the
// default when a Config does not specify one, exactly as
// MasterConfig.Validate/WorkerConfig.Validate do in the teacher.
func NullLogger() *logrus.Entry {
	l := logrus.New()
	l.Out = io.Discard
	return logrus.NewEntry(l)
}

// DefaultLogger returns a reasonable text-formatted, info-level logger
// suitable for cmd/ entrypoints.
func DefaultLogger() *logrus.Entry {
	l := logrus.New()
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	l.Level = logrus.InfoLevel
	return logrus.NewEntry(l)
}
