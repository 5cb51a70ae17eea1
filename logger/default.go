package logger

import "sync/atomic"

type holder struct{ Logger }

var defLogger atomic.Pointer[holder]

func init() {
	defLogger.Store(&holder{NewSlog(InfoLevel, false)})
}

func current() Logger {
	return defLogger.Load().Logger
}

// SetDefault replaces the package level default logger. Components created
// afterwards without a WithLogger option log through l. A nil l is ignored.
func SetDefault(l Logger) {
	if l != nil {
		defLogger.Store(&holder{l})
	}
}

// GetLogger returns the package level default logger.
func GetLogger() Logger {
	return current()
}

// SetLevel sets the minimum level of the default logger.
func SetLevel(level LogLevel) {
	current().SetLevel(level)
}

func Debug(msg string, keysAndValues ...any) {
	current().Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	current().Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	current().Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	current().Error(msg, keysAndValues...)
}

func Fatal(msg string, keysAndValues ...any) {
	current().Fatal(msg, keysAndValues...)
}

func With(keyValues ...any) Logger {
	return current().With(keyValues...)
}
