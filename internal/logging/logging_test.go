package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

var errManifest = errors.New("live manifest not found")

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn")

	log.Info("hidden")
	log.Warn("shown", "camera", "cam1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "camera=cam1")
}

func TestNewWritesErrorsWithoutStack(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "info")

	log.Warn("skipping camera", "camera", "cam1", "error", errors.Wrapf(errManifest, "%s", "cam1"))

	out := buf.String()
	assert.Contains(t, out, "cam1: live manifest not found")
	assert.Equal(t, 1, strings.Count(out, "\n"), out)
	assert.NotContains(t, out, "runtime.")
	assert.NotContains(t, out, "logging_test.go")
}
