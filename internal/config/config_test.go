package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "snugom.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadBasicFile(t *testing.T) {
	path := writeTempConfig(t, `
redis_url = "redis://localhost:6379/0"
prefix = "snugom"
service = "blog"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" || cfg.Service != "blog" || cfg.Prefix != "snugom" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.MaxCascadeDepth != DefaultMaxCascadeDepth {
		t.Fatalf("expected default max cascade depth, got %d", cfg.MaxCascadeDepth)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_SNUGOM_REDIS_HOST", "cache.internal")
	path := writeTempConfig(t, `
redis_url = "redis://${TEST_SNUGOM_REDIS_HOST}:6379/0"
service = "blog"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisURL != "redis://cache.internal:6379/0" {
		t.Fatalf("expected expanded redis_url, got %q", cfg.RedisURL)
	}
}

func TestLoadEnvOverridesFileValues(t *testing.T) {
	t.Setenv("SNUGOM_REDIS_URL", "redis://override:6379/0")
	path := writeTempConfig(t, `
redis_url = "redis://fromfile:6379/0"
service = "blog"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RedisURL != "redis://override:6379/0" {
		t.Fatalf("expected env override, got %q", cfg.RedisURL)
	}
}

func TestLoadRequiresRedisURL(t *testing.T) {
	path := writeTempConfig(t, `service = "blog"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing redis_url")
	}
}

func TestLoadRequiresService(t *testing.T) {
	path := writeTempConfig(t, `redis_url = "redis://localhost:6379/0"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing service")
	}
}

func TestLoadClampsExcessiveCascadeDepth(t *testing.T) {
	path := writeTempConfig(t, `
redis_url = "redis://localhost:6379/0"
service = "blog"
max_cascade_depth = 99
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxCascadeDepth != DefaultMaxCascadeDepth {
		t.Fatalf("expected clamp to %d, got %d", DefaultMaxCascadeDepth, cfg.MaxCascadeDepth)
	}
}

func TestLoadHonorsSlowScriptThreshold(t *testing.T) {
	path := writeTempConfig(t, `
redis_url = "redis://localhost:6379/0"
service = "blog"
slow_script_threshold = "250ms"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SlowScriptThreshold != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", cfg.SlowScriptThreshold)
	}
}
