package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.Name != DefaultName {
		t.Errorf("name = %q, want %q", cfg.Name, DefaultName)
	}
	if cfg.Workers != 4 {
		t.Errorf("workers = %d, want 4", cfg.Workers)
	}
	if len(cfg.Models) != 3 {
		t.Errorf("models = %v, want 3 entries", cfg.Models)
	}
	if cfg.NTP.Timeout != 2*time.Second {
		t.Errorf("ntp timeout = %v", cfg.NTP.Timeout)
	}
	if cfg.OpenAI.APIKey != "sk-test" {
		t.Errorf("openai key not loaded from env")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "HYPERION_TEST_PORT_SENTINEL=1\nHYPERION_SPEECH_ENGINES=polly,openai\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("HYPERION_TEST_PORT_SENTINEL")
		os.Unsetenv("HYPERION_SPEECH_ENGINES")
	})

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if strings.Join(cfg.SpeechEngines, ",") != "polly,openai" {
		t.Errorf("speech engines = %v", cfg.SpeechEngines)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(c *Config) {}, ""},
		{"no keys", func(c *Config) { c.OpenAI.APIKey = "" }, "API_KEY"},
		{"bad port", func(c *Config) { c.Port = 0 }, "invalid port"},
		{"bad workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"bad threshold", func(c *Config) { c.ConfidenceThreshold = 2 }, "threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Port: 9999, Workers: 4, ConfidenceThreshold: 0.4}
			cfg.OpenAI.APIKey = "sk"
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
