package utils

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLogger(LevelWarn, &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestDefaultLoggerFormatting(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLogger(LevelInfo, &buf)

	logger.Info("combined %d grids in %s", 5, "group0")

	out := buf.String()
	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "combined 5 grids in group0")
}

func TestWithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLogger(LevelInfo, &buf)

	child := logger.WithField("rank", 3)
	child.Info("hello")

	assert.Contains(t, buf.String(), "rank=3")

	// The parent stays unchanged.
	buf.Reset()
	logger.Info("parent")
	assert.NotContains(t, buf.String(), "rank=3")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLogLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLogLevel("WARNING"))
	assert.Equal(t, LevelInfo, ParseLogLevel("bogus"))
}

func TestNullLogger(t *testing.T) {
	var l Logger = &NullLogger{}
	l.Info("nothing happens")
	assert.Same(t, l, l.WithField("k", "v"))
}

func TestLogLevelString(t *testing.T) {
	levels := map[LogLevel]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
	}
	for level, want := range levels {
		assert.Equal(t, want, level.String())
	}
	assert.True(t, strings.HasPrefix(LogLevel(42).String(), "UNKNOWN"))
}
