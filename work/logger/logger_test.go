package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLogLevel("debug"))
	assert.Equal(t, WARN, ParseLogLevel("Warning"))
	assert.Equal(t, ERROR, ParseLogLevel(" ERROR "))
	assert.Equal(t, INFO, ParseLogLevel("nonsense"))
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New("WARN")
	l.SetOutput(&buf)

	l.Info("hidden %d", 1)
	l.Error("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[ERROR] shown 2")
	assert.Equal(t, "WARN", l.GetLevel())
}

func TestLoggerHooksSeeFilteredMessages(t *testing.T) {
	var buf bytes.Buffer
	l := New("INFO")
	l.SetOutput(&buf)

	var got []string
	l.AddHook(func(level, message string) { got = append(got, level+" "+message) })

	l.Debug("skipped")
	l.Warn("disk %s", "full")

	assert.Equal(t, []string{"WARN disk full"}, got)
}
