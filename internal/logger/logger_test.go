package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CustomWriter(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:  slog.LevelInfo,
		Format: "json",
		Writer: &buf,
	})

	log.Info("test message")

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), "\"level\":\"INFO\"")
}

func TestNew_FormatAutoDetection(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		wantJSON    bool
	}{
		{name: "production uses json", environment: "production", wantJSON: true},
		{name: "development uses pretty", environment: "development", wantJSON: false},
		{name: "staging uses pretty", environment: "staging", wantJSON: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := New(Config{Environment: tt.environment, Writer: &buf})

			log.Info("hello")

			isJSON := strings.HasPrefix(strings.TrimSpace(buf.String()), "{")
			assert.Equal(t, tt.wantJSON, isJSON, "output: %s", buf.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestPrettyHandler_Enabled(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestPrettyHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil)

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "import finished", 0)
	r.AddAttrs(slog.String("file", "export.json"), slog.Int("imported", 3))

	require.NoError(t, h.Handle(context.Background(), r))

	out := buf.String()
	assert.Contains(t, out, "INF")
	assert.Contains(t, out, "import finished")
	assert.Contains(t, out, "file=export.json")
	assert.Contains(t, out, "imported=3")
}

func TestPrettyHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil).WithAttrs([]slog.Attr{slog.String("component", "watcher")})

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "started", 0)
	require.NoError(t, h.Handle(context.Background(), r))

	assert.Contains(t, buf.String(), "component=watcher")
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Writer: &buf})

	log.WithError(errors.New("disk full")).Error("write failed")

	assert.Contains(t, buf.String(), "disk full")
	assert.Contains(t, buf.String(), "write failed")
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Writer: &buf})

	log.WithField("run_id", "imp-123").Info("recorded")

	assert.Contains(t, buf.String(), "imp-123")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Writer: &buf, Level: slog.LevelWarn})

	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
