package cfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.Listen)
	}
	if cfg.AccessTokenTTL != 15*time.Minute {
		t.Errorf("expected 15m, got %v", cfg.AccessTokenTTL)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("TD_LISTEN", ":9090")
	t.Setenv("TD_ACCESS_TOKEN_TTL", "5m")
	t.Setenv("TD_DEBUG", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.Listen)
	}
	if cfg.AccessTokenTTL != 5*time.Minute {
		t.Errorf("expected 5m, got %v", cfg.AccessTokenTTL)
	}
	if !cfg.Debug {
		t.Error("expected debug enabled")
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("listen: \":7070\"\npoll_interval: 500ms\nexecutor_url: http://exec.internal\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	t.Setenv("TD_CONFIG", path)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Listen != ":7070" {
		t.Errorf("expected :7070, got %q", cfg.Listen)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %v", cfg.PollInterval)
	}
	if cfg.ExecutorURL != "http://exec.internal" {
		t.Errorf("expected executor URL from file, got %q", cfg.ExecutorURL)
	}
}

func TestConfigFileEnvWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("listen: \":7070\"\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	t.Setenv("TD_CONFIG", path)
	t.Setenv("TD_LISTEN", ":6060")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Listen != ":6060" {
		t.Errorf("environment should win over file, got %q", cfg.Listen)
	}
}

func TestConfigFileBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("poll_interval: banana\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	t.Setenv("TD_CONFIG", path)

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}
