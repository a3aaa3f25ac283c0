package log

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var linePattern = regexp.MustCompile(`^\[\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z\] `)

func TestLineHandler_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info").With("component", "webhook")

	logger.Info("deployment triggered", "commit", "abc123", "message", "fix the build")

	line := buf.String()
	assert.Regexp(t, linePattern, line)
	assert.True(t, strings.HasSuffix(line, "\n"))
	assert.Contains(t, line, "] deployment triggered component=webhook commit=abc123 message=\"fix the build\"")
}

func TestLineHandler_LevelFilteringAndPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	logger.Info("hidden")
	logger.Warn("signature verification failed", "error", errors.New("webhook verification failed"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "] WARN signature verification failed error=\"webhook verification failed\"")
}

func TestLineHandler_MultilineValuesStayOnOneLine(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug")

	logger.Info("deploy stdout\nsecond", "stdout", "line one\nline two")

	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	assert.Contains(t, buf.String(), `stdout="line one\nline two"`)
}

func TestLineHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info").WithGroup("req")

	logger.Info("http request", slog.Group("client", "ip", "10.0.0.1"), "status", 200)

	assert.Contains(t, buf.String(), "req.client.ip=10.0.0.1 req.status=200")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestFileSink_AppendsAndCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "logs", "webhook.log")

	sink, err := OpenFileSink(path)
	require.NoError(t, err)
	logger := New(sink, "info")
	logger.Info("server started", "listen", "0.0.0.0:9000")
	require.NoError(t, sink.Close())

	// Reopening must append, not truncate.
	sink, err = OpenFileSink(path)
	require.NoError(t, err)
	New(sink, "info").Info("shutting down")
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "server started")
	assert.Contains(t, lines[1], "shutting down")
	for _, l := range lines {
		assert.Regexp(t, linePattern, l)
	}
}

func TestFileSink_WriteAfterClose(t *testing.T) {
	sink, err := OpenFileSink(filepath.Join(t.TempDir(), "x.log"))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	_, err = sink.Write([]byte("late\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
