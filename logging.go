package linkframe

import "github.com/sirupsen/logrus"

// logrusLogger adapts a logrus.FieldLogger to the Logger interface, the way
// the reference command-line tools log directly through logrus.Infof/Fatalf.
type logrusLogger struct {
	log logrus.FieldLogger
}

// NewLogrusLogger builds a Logger backed by logrus. If log is nil, the
// package-level standard logrus logger is used.
func NewLogrusLogger(log logrus.FieldLogger) Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &logrusLogger{log: log}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{log: l.log.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) Errorf(format string, args ...interface{}) {
	l.log.Errorf(format, args...)
}

// WithTag returns a Logger whose every line is tagged with the given
// engine-instance correlation string, the way an exporter labels a metric
// with a per-connection xid.
func WithTag(log logrus.FieldLogger, tag string) Logger {
	return &logrusLogger{log: log.WithField("engine_tag", tag)}
}
