package tgen

import "github.com/sirupsen/logrus"

// Logger is the structured logging surface the driver writes through:
// attach structured fields, then emit at a level.
type Logger interface {
	WithFields(fields map[string]interface{}) Logger
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
}

// logrusLogger adapts *logrus.Entry to Logger.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogger builds the default Logger, a JSON-less text logrus logger at
// Info level, giving callers a ready-to-use zero-config default
// instead of requiring every caller to wire one up.
func NewLogger() Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) WithFields(fields map[string]interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) Debug(msg string) { l.entry.Debug(msg) }
func (l *logrusLogger) Info(msg string)  { l.entry.Info(msg) }
func (l *logrusLogger) Warn(msg string)  { l.entry.Warn(msg) }
func (l *logrusLogger) Error(msg string) { l.entry.Error(msg) }

// heartbeatFields builds the exact key set the driver's heartbeat line
// carries: cumulative and current-window byte/transfer counts.
func heartbeatFields(m Metrics, windowBytesRead, windowBytesWritten, windowSucceeded, windowFailed int64) map[string]interface{} {
	return map[string]interface{}{
		"bytes_read_total":       m.GetBytesRead(),
		"bytes_written_total":    m.GetBytesWritten(),
		"transfers_succeeded_total": m.GetTransfersSucceeded(),
		"transfers_failed_total": m.GetTransfersFailed(),
		"bytes_read_window":      windowBytesRead,
		"bytes_written_window":   windowBytesWritten,
		"transfers_succeeded_window": windowSucceeded,
		"transfers_failed_window":    windowFailed,
	}
}
