package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Limits.MaxImages != 5 {
		t.Errorf("expected default image cap 5, got %d", cfg.Limits.MaxImages)
	}
	if cfg.Limits.ChunkSize != 5 {
		t.Errorf("expected default chunk size 5, got %d", cfg.Limits.ChunkSize)
	}
	if cfg.OpenAI.APIKey != "${OPENAI_API_KEY}" {
		t.Error("expected openai API key placeholder")
	}
	if cfg.FileMaker.Layout != "for_FilemakerDataAPI" {
		t.Errorf("unexpected default layout: %s", cfg.FileMaker.Layout)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		os.Setenv("TEST_API_KEY", "secret123")
		defer os.Unsetenv("TEST_API_KEY")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_Resolved(t *testing.T) {
	os.Setenv("TEST_BOT_TOKEN", "xoxb-123")
	defer os.Unsetenv("TEST_BOT_TOKEN")

	cfg := DefaultConfig()
	cfg.Slack.BotToken = "${TEST_BOT_TOKEN}"
	cfg.FileMaker.Server = "https://fm.example.com"

	resolved := cfg.Resolved()
	if resolved.Slack.BotToken != "xoxb-123" {
		t.Errorf("expected resolved token, got %s", resolved.Slack.BotToken)
	}
	if resolved.FileMaker.Server != "https://fm.example.com" {
		t.Errorf("literal server changed: %s", resolved.FileMaker.Server)
	}
	// The original must stay untouched.
	if cfg.Slack.BotToken != "${TEST_BOT_TOKEN}" {
		t.Error("Resolved mutated the source config")
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configFile := filepath.Join(tmpDir, "config.yaml")

		configContent := `
limits:
  max_images: 3
  chunk_size: 4
filemaker:
  database: cards.fmp12
`
		if err := os.WriteFile(configFile, []byte(configContent), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cm, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("NewManager failed: %v", err)
		}

		cfg := cm.Get()
		if cfg.Limits.MaxImages != 3 {
			t.Errorf("expected max_images 3, got %d", cfg.Limits.MaxImages)
		}
		if cfg.Limits.ChunkSize != 4 {
			t.Errorf("expected chunk_size 4, got %d", cfg.Limits.ChunkSize)
		}
		if cfg.FileMaker.Database != "cards.fmp12" {
			t.Errorf("expected database from file, got %s", cfg.FileMaker.Database)
		}
		// Untouched sections keep their defaults.
		if cfg.Server.Port != "8080" {
			t.Errorf("expected default port, got %s", cfg.Server.Port)
		}
	})
}

func TestWriteDefault(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty config file")
	}
}
