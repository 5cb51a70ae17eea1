package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require := require.New(t)

	tests := []struct {
		name  string
		level LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"", InfoLevel},
		{"warning", WarnLevel},
		{" error ", ErrorLevel},
		{"fatal", FatalLevel},
	}
	for _, tt := range tests {
		level, err := ParseLevel(tt.name)
		require.NoError(err)
		require.Equal(tt.level, level, tt.name)
	}

	_, err := ParseLevel("verbose")
	require.Error(err)
}

func TestSlogWriter(t *testing.T) {
	require := require.New(t)

	t.Setenv("ENV", "")

	var buf bytes.Buffer
	l := NewSlogWriter(&buf, WarnLevel, false)
	require.Equal(WarnLevel, l.Level())

	l.Info("dropped")
	require.Zero(buf.Len())

	l.With("device", "laser").Warn("reconnecting", "attempt", 2)

	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("reconnecting", rec["msg"])
	require.Equal("laser", rec["device"])
	require.EqualValues(2, rec["attempt"])
	require.Contains(rec, "ts")

	l.SetLevel(DebugLevel)
	require.Equal(DebugLevel, l.Level())
}

func TestMockLogger(t *testing.T) {
	m := NewMockLogger()
	m.On("Warn", "queue full", mock.Anything).Return()

	var l Logger = m
	l.Warn("queue full", "size", 4)

	m.AssertCalled(t, "Warn", "queue full", []any{"size", 4})
}

func TestMockLogger_AllowAll(t *testing.T) {
	m := NewMockLogger().AllowAll()

	child := m.With("device", "psu")
	child.Debug("device opened")
	child.Error("unable to read", "attempt", 2)

	m.AssertCalled(t, "Error", "unable to read", []any{"attempt", 2})
	m.AssertNotCalled(t, "Warn", mock.Anything, mock.Anything)
}

func TestSetDefault(t *testing.T) {
	require := require.New(t)

	prev := GetLogger()
	t.Cleanup(func() { SetDefault(prev) })

	m := NewMockLogger()
	m.On("Info", "queue started", []any{"size", 8}).Return()

	SetDefault(nil)
	require.Same(prev, GetLogger())

	SetDefault(m)
	Info("queue started", "size", 8)
	m.AssertExpectations(t)
}
