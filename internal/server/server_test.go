package server

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/idbridge/idbridge/internal/config"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  logrus.Level
	}{
		{"debug", "debug", logrus.DebugLevel},
		{"warn", "warn", logrus.WarnLevel},
		{"empty defaults to info", "", logrus.InfoLevel},
		{"garbage defaults to info", "extremely-verbose", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Logging.LogLevel = tt.level
			log := newLogger(cfg)
			if log.GetLevel() != tt.want {
				t.Errorf("expected level %v, got %v", tt.want, log.GetLevel())
			}
		})
	}
}
