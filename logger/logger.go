// Package logger is the logging facade of go-labrpc.
//
// Devices, command queues, transports and RPC servers accept a Logger through
// their WithLogger options and otherwise log through the package default,
// which SetDefault replaces. NewSlog provides the log/slog implementation.
package logger

// LogLevel indicates the logging severity level.
type LogLevel = int8

const (
	// DebugLevel records every attempt, flush and queue transition.
	DebugLevel LogLevel = iota - 1
	// InfoLevel is the default level.
	InfoLevel
	// WarnLevel records retried attempts and reconnects.
	WarnLevel
	// ErrorLevel records failures that reach the caller.
	ErrorLevel
	// FatalLevel logs a message, then calls os.Exit(1).
	FatalLevel
)

// Logger is a structured key/value logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
	// Fatal logs at FatalLevel and then calls os.Exit(1), even if the level is disabled.
	Fatal(msg string, keysAndValues ...any)
	// With returns a child logger carrying keyValues on every record.
	// The parent is not affected.
	With(keyValues ...any) Logger
	// Level returns the minimum enabled level.
	Level() LogLevel
	// SetLevel sets the minimum enabled level.
	SetLevel(level LogLevel)
}
