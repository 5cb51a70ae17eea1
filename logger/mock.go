package logger

import (
	"github.com/stretchr/testify/mock"
)

// MockLogger records log calls with testify's mock package.
//
// With returns the mock itself, so records of child loggers land on the same mock.
type MockLogger struct {
	mock.Mock
}

var _ Logger = (*MockLogger)(nil)

// NewMockLogger creates a MockLogger without expectations.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// AllowAll accepts any Debug, Info, Warn or Error record so a test only sets
// up the calls it asserts.
func (m *MockLogger) AllowAll() *MockLogger {
	for _, method := range []string{"Debug", "Info", "Warn", "Error"} {
		m.On(method, mock.Anything, mock.Anything).Return().Maybe()
	}

	return m
}

func (m *MockLogger) Debug(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }
func (m *MockLogger) Info(msg string, keysAndValues ...any)  { m.Called(msg, keysAndValues) }
func (m *MockLogger) Warn(msg string, keysAndValues ...any)  { m.Called(msg, keysAndValues) }
func (m *MockLogger) Error(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }
func (m *MockLogger) Fatal(msg string, keysAndValues ...any) { m.Called(msg, keysAndValues) }

func (m *MockLogger) SetLevel(level LogLevel) {
	m.Called(level)
}

func (m *MockLogger) Level() LogLevel {
	args := m.Called()
	level, _ := args.Get(0).(LogLevel)

	return level
}

func (m *MockLogger) With(...any) Logger {
	return m
}
