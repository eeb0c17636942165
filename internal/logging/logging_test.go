package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/TobiSchelling/Deadline/internal/config"
)

func TestNewConfiguresSupportedFormats(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.Logging
		level zapcore.Level
	}{
		{name: "json", cfg: config.Logging{Level: "warn", Format: "json"}, level: zapcore.WarnLevel},
		{name: "console", cfg: config.Logging{Level: "DEBUG", Format: "console"}, level: zapcore.DebugLevel},
		{name: "defaults", cfg: config.Logging{}, level: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg, false)
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}
			for _, lvl := range []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel} {
				enabled := logger.Core().Enabled(lvl)
				if enabled != (lvl >= tt.level) {
					t.Fatalf("level %v enabled=%t, want %t", lvl, enabled, lvl >= tt.level)
				}
			}
		})
	}
}

func TestVerboseForcesDebug(t *testing.T) {
	logger, err := New(config.Logging{Level: "error"}, true)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("expected debug level when verbose")
	}
}

func TestNewRejectsUnknownInput(t *testing.T) {
	if _, err := New(config.Logging{Format: "xml"}, false); err == nil {
		t.Error("expected error for unsupported format")
	}
	if _, err := New(config.Logging{Level: "loud"}, false); err == nil {
		t.Error("expected error for invalid level")
	}
}
