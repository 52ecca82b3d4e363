package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfigFile(t, ""))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if cfg.RateCeiling != defaultRateCeiling {
		t.Errorf("rate-ceiling = %d, want %d", cfg.RateCeiling, defaultRateCeiling)
	}
	if cfg.CandidateLimit != defaultCandidateLimit {
		t.Errorf("candidate-limit = %d, want %d", cfg.CandidateLimit, defaultCandidateLimit)
	}
	if cfg.FuzzyEnabled {
		t.Error("fuzzy-grouping should default to off")
	}
	if cfg.APIAddr != "127.0.0.1:3000" {
		t.Errorf("api-addr = %q, want 127.0.0.1:3000", cfg.APIAddr)
	}
}

func TestLoadConfigFileOverrides(t *testing.T) {
	cfg, err := loadConfig(writeConfigFile(t, `
fuzzy-grouping: true
similarity-threshold: 0.6
candidate-limit: 7
tcp-enabled: true
tcp-port: 4100
`))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}

	if !cfg.FuzzyEnabled {
		t.Error("fuzzy-grouping not applied")
	}
	if cfg.SimilarityThreshold != 0.6 {
		t.Errorf("similarity-threshold = %v, want 0.6", cfg.SimilarityThreshold)
	}
	if cfg.CandidateLimit != 7 {
		t.Errorf("candidate-limit = %d, want 7", cfg.CandidateLimit)
	}
	if cfg.TCPAddr != "127.0.0.1:4100" {
		t.Errorf("tcp-addr = %q, want 127.0.0.1:4100", cfg.TCPAddr)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad api port", "api-port: 99999"},
		{"bad otlp port", "otlp-port: 0"},
		{"bad similarity threshold", "similarity-threshold: 1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadConfig(writeConfigFile(t, tt.content)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
