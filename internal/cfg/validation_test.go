package cfg

import (
	"strings"
	"testing"
	"time"
)

// createValidSettings creates a valid Settings struct for testing
func createValidSettings() *Settings {
	return &Settings{
		Port:      8501,
		ModelPath: "models/model.json",
		Labels:    map[int]string{0: "normal", 1: "RB"},
		Profile: Profile{
			Title:    "RB Screening Model",
			Language: "en",
			Layout:   "columns",
		},
		CacheSize:    256,
		HistorySize:  50,
		LogLevel:     "info",
		LogFormat:    "json",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	settings := createValidSettings()

	err := validateSettings(settings)
	if err != nil {
		t.Errorf("Expected valid config to pass, got error: %v", err)
	}
}

func TestValidateSettings_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Settings)
		errMsg string
	}{
		{"empty model path", func(s *Settings) { s.ModelPath = " " }, "model path cannot be empty"},
		{"no labels", func(s *Settings) { s.Labels = nil }, "invalid class labels"},
		{"duplicate labels", func(s *Settings) { s.Labels = map[int]string{0: "RB", 1: "RB"} }, "invalid class labels"},
		{"port too low", func(s *Settings) { s.Port = 1023 }, "port must be between"},
		{"port too high", func(s *Settings) { s.Port = 65536 }, "port must be between"},
		{"read timeout too short", func(s *Settings) { s.ReadTimeout = 500 * time.Millisecond }, "read timeout"},
		{"write timeout too long", func(s *Settings) { s.WriteTimeout = 10 * time.Minute }, "write timeout"},
		{"negative cache", func(s *Settings) { s.CacheSize = -1 }, "cache size"},
		{"huge cache", func(s *Settings) { s.CacheSize = 100001 }, "cache size"},
		{"zero history", func(s *Settings) { s.HistorySize = 0 }, "history size"},
		{"bad log level", func(s *Settings) { s.LogLevel = "loud" }, "invalid log level"},
		{"bad log format", func(s *Settings) { s.LogFormat = "xml" }, "log format"},
		{"bad language", func(s *Settings) { s.Profile.Language = "fr" }, "profile language"},
		{"bad layout", func(s *Settings) { s.Profile.Layout = "grid" }, "profile layout"},
		{"empty title", func(s *Settings) { s.Profile.Title = "" }, "profile title"},
		{"unknown default", func(s *Settings) { s.Profile.Defaults = map[string]float64{"ESR": 1} }, "profile defaults"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.mutate(settings)

			err := validateSettings(settings)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestValidateSettings_Boundaries(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"min port", func(s *Settings) { s.Port = 1024 }},
		{"max port", func(s *Settings) { s.Port = 65535 }},
		{"cache disabled", func(s *Settings) { s.CacheSize = 0 }},
		{"auto language", func(s *Settings) { s.Profile.Language = "auto" }},
		{"sidebar layout", func(s *Settings) { s.Profile.Layout = "sidebar" }},
		{"known default override", func(s *Settings) { s.Profile.Defaults = map[string]float64{"CRP": 8} }},
		{"three classes", func(s *Settings) { s.Labels = map[int]string{0: "a", 1: "b", 2: "c"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.mutate(settings)
			if err := validateSettings(settings); err != nil {
				t.Errorf("Expected valid config, got error: %v", err)
			}
		})
	}
}
