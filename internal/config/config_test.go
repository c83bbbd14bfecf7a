package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/abhisek/cefrquest/internal/curriculum"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Level() != curriculum.A1 {
		t.Fatalf("default level = %s, want A1", cfg.Level())
	}
}

func TestLoadMissingDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Grader.Backend != GraderNone {
		t.Fatalf("grader backend = %q, want none", cfg.Grader.Backend)
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
learner:
  id: ana
  level: B2
grader:
  backend: http
  url: http://grader.local/grade
  timeout: 5s
gateway:
  url: http://api.local
  max_attempts: 5
  poll_interval: 2s
legacy:
  backend: redis
  redis_addr: localhost:6379
  redis_db: 2
log:
  level: debug
  format: console
router:
  strict: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Learner.ID != "ana" || cfg.Level() != curriculum.B2 {
		t.Errorf("learner = %+v", cfg.Learner)
	}
	if cfg.Grader.Backend != GraderHTTP || cfg.Grader.Timeout != 5*time.Second {
		t.Errorf("grader = %+v", cfg.Grader)
	}
	if cfg.Gateway.MaxAttempts != 5 || cfg.Gateway.PollInterval != 2*time.Second {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	// Unset fields keep their defaults.
	if cfg.Gateway.BatchSize != Default().Gateway.BatchSize {
		t.Errorf("batch size = %d, want default", cfg.Gateway.BatchSize)
	}
	if cfg.Legacy.RedisDB != 2 || cfg.Legacy.Prefix != "cefrquest:" {
		t.Errorf("legacy = %+v", cfg.Legacy)
	}
	if !cfg.Router.Strict || cfg.Log.Format != "console" {
		t.Errorf("router/log = %+v %+v", cfg.Router, cfg.Log)
	}

	d := cfg.Gateway.Dispatcher()
	if d.MaxAttempts != 5 || d.PollInterval != 2*time.Second {
		t.Errorf("dispatcher config = %+v", d)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "learner:\n  id: ana\n  level: A2\n")
	t.Setenv("CEFRQUEST_LEARNER_LEVEL", "C1")
	t.Setenv("CEFRQUEST_GATEWAY_MAX_ATTEMPTS", "7")
	t.Setenv("CEFRQUEST_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Learner.ID != "ana" {
		t.Errorf("id = %q, want file value", cfg.Learner.ID)
	}
	if cfg.Level() != curriculum.C1 {
		t.Errorf("level = %s, want env value C1", cfg.Level())
	}
	if cfg.Gateway.MaxAttempts != 7 {
		t.Errorf("max_attempts = %d, want 7", cfg.Gateway.MaxAttempts)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q, want warn", cfg.Log.Level)
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"CEFRQUEST_GATEWAY_MAX_ATTEMPTS": "gateway.max_attempts",
		"CEFRQUEST_LEGACY_REDIS_ADDR":    "legacy.redis_addr",
		"CEFRQUEST_LOG_LEVEL":            "log.level",
		"CEFRQUEST_DEBUG":                "debug",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad level", func(c *Config) { c.Learner.Level = "D1" }, "learner.level"},
		{"empty learner", func(c *Config) { c.Learner.ID = "" }, "learner.id"},
		{"http without url", func(c *Config) { c.Grader.Backend = GraderHTTP }, "grader.url"},
		{"unknown grader", func(c *Config) { c.Grader.Backend = "magic" }, "grader.backend"},
		{"redis without addr", func(c *Config) { c.Legacy.Backend = LegacyRedis }, "legacy.redis_addr"},
		{"unknown legacy", func(c *Config) { c.Legacy.Backend = "etcd" }, "legacy.backend"},
		{"zero attempts", func(c *Config) { c.Gateway.MaxAttempts = 0 }, "gateway.max_attempts"},
		{"inverted waits", func(c *Config) { c.Gateway.MaxWait = time.Millisecond }, "gateway.initial_wait"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadRejectsOversizedFile(t *testing.T) {
	path := writeConfig(t, "# "+strings.Repeat("x", maxConfigFileSize)+"\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for oversized config")
	}
}
