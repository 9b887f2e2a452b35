package bootstrap

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/meeting-processor/config"
)

func TestNewLogHandler(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LoggingConfig
		wantJSON  bool
		wantDebug bool
	}{
		{name: "json info", cfg: config.LoggingConfig{Level: "info", Format: "json"}, wantJSON: true},
		{name: "text debug", cfg: config.LoggingConfig{Level: "debug", Format: "text"}, wantDebug: true},
		{name: "unknown level", cfg: config.LoggingConfig{Level: "loud", Format: "json"}, wantJSON: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(newLogHandler(&buf, tt.cfg))
			logger.Debug("debug line")
			logger.Info("info line", "job_id", "abc")

			out := buf.String()
			assert.Equal(t, tt.wantDebug, strings.Contains(out, "debug line"))
			assert.Contains(t, out, "info line")
			assert.Equal(t, tt.wantJSON, strings.Contains(out, `"job_id":"abc"`))
		})
	}
}

func TestInitLogger_WritesRotatedFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "meetings.log")
	logger, closeFn := InitLogger(config.LoggingConfig{Level: "info", Format: "json", File: path, MaxSizeMB: 1})
	logger.Info("written to file")
	require.NoError(t, closeFn())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "written to file")
	assert.Same(t, logger, slog.Default())
}

func TestValidateServiceConfig(t *testing.T) {
	if err := ValidateServiceConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if err := ValidateServiceConfig(&config.AppConfig{Services: "scheduler"}); err == nil {
		t.Fatal("expected error for unknown service")
	}
	if err := ValidateServiceConfig(&config.AppConfig{Services: "http"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetEnabledServices(t *testing.T) {
	got := GetEnabledServices(&config.AppConfig{Services: "reaper, http"})
	assert.Equal(t, []string{"http", "reaper"}, got)
	assert.Empty(t, GetEnabledServices(&config.AppConfig{Services: "bogus"}))
	assert.Empty(t, GetEnabledServices(nil))
}
