// Package config loads cefrquest settings from a YAML file and CEFRQUEST_*
// environment variables over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/cefrquest/internal/curriculum"
	"github.com/abhisek/cefrquest/internal/gateway"
	"github.com/abhisek/cefrquest/internal/logging"
)

// Grader backends.
const (
	GraderHTTP = "http"
	GraderLLM  = "llm"
	GraderNone = "none"
)

// Legacy key backends.
const (
	LegacySQLite = "sqlite"
	LegacyRedis  = "redis"
	LegacyNone   = "none"
)

// Config is the full application configuration.
type Config struct {
	Store      StoreConfig      `koanf:"store"`
	Learner    LearnerConfig    `koanf:"learner"`
	Curriculum CurriculumConfig `koanf:"curriculum"`
	Grader     GraderConfig     `koanf:"grader"`
	Gateway    GatewayConfig    `koanf:"gateway"`
	Legacy     LegacyConfig     `koanf:"legacy"`
	Log        logging.Config   `koanf:"log"`
	Router     RouterConfig     `koanf:"router"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

type StoreConfig struct {
	// Path of the sqlite database. Empty means the per-user default.
	Path string `koanf:"path"`
}

type LearnerConfig struct {
	ID    string `koanf:"id"`
	Level string `koanf:"level"`
}

type CurriculumConfig struct {
	// Path to a curriculum YAML. Empty uses the embedded curriculum.
	Path string `koanf:"path"`
}

// GraderConfig selects the remote free-text grader. With backend none
// every task is scored locally.
type GraderConfig struct {
	Backend string        `koanf:"backend"`
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout"`
}

// GatewayConfig points at the results backend. An empty URL keeps the
// outbox filling locally until one is configured.
type GatewayConfig struct {
	URL           string        `koanf:"url"`
	Timeout       time.Duration `koanf:"timeout"`
	MaxAttempts   int           `koanf:"max_attempts"`
	InitialWait   time.Duration `koanf:"initial_wait"`
	MaxWait       time.Duration `koanf:"max_wait"`
	PollInterval  time.Duration `koanf:"poll_interval"`
	BatchSize     int           `koanf:"batch_size"`
	RatePerSecond float64       `koanf:"rate_per_second"`

	// Listen is the address of `gateway serve`.
	Listen string `koanf:"listen"`
}

type LegacyConfig struct {
	Backend       string `koanf:"backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	Prefix        string `koanf:"prefix"`
}

type RouterConfig struct {
	// Strict panics on an inconsistent routing decision.
	Strict bool `koanf:"strict"`
}

type MetricsConfig struct {
	// Addr serves /metrics while the player runs. Empty disables it.
	Addr string `koanf:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	gw := gateway.DefaultConfig()
	return Config{
		Learner: LearnerConfig{ID: "local", Level: string(curriculum.DefaultLevel)},
		Grader:  GraderConfig{Backend: GraderNone, Timeout: 20 * time.Second},
		Gateway: GatewayConfig{
			Timeout:       10 * time.Second,
			MaxAttempts:   gw.MaxAttempts,
			InitialWait:   gw.InitialWait,
			MaxWait:       gw.MaxWait,
			PollInterval:  gw.PollInterval,
			BatchSize:     gw.BatchSize,
			RatePerSecond: gw.RatePerSecond,
			Listen:        "127.0.0.1:8088",
		},
		Legacy: LegacyConfig{Backend: LegacySQLite, Prefix: "cefrquest:"},
		Log:    logging.DefaultConfig(),
	}
}

// Validate returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Learner.ID == "" {
		errs = append(errs, errors.New("learner.id is required"))
	}
	if _, err := curriculum.ParseLevel(c.Learner.Level); err != nil {
		errs = append(errs, fmt.Errorf("learner.level: %w", err))
	}

	switch c.Grader.Backend {
	case GraderHTTP:
		if c.Grader.URL == "" {
			errs = append(errs, errors.New("grader.url is required for the http backend"))
		}
	case GraderLLM, GraderNone:
	default:
		errs = append(errs, fmt.Errorf("grader.backend %q: want http, llm or none", c.Grader.Backend))
	}
	if c.Grader.Timeout <= 0 {
		errs = append(errs, errors.New("grader.timeout must be positive"))
	}

	if c.Gateway.MaxAttempts < 1 {
		errs = append(errs, errors.New("gateway.max_attempts must be at least 1"))
	}
	if c.Gateway.InitialWait <= 0 || c.Gateway.MaxWait < c.Gateway.InitialWait {
		errs = append(errs, errors.New("gateway.initial_wait must be positive and not above gateway.max_wait"))
	}
	if c.Gateway.PollInterval <= 0 {
		errs = append(errs, errors.New("gateway.poll_interval must be positive"))
	}
	if c.Gateway.BatchSize < 1 {
		errs = append(errs, errors.New("gateway.batch_size must be at least 1"))
	}

	switch c.Legacy.Backend {
	case LegacyRedis:
		if c.Legacy.RedisAddr == "" {
			errs = append(errs, errors.New("legacy.redis_addr is required for the redis backend"))
		}
	case LegacySQLite, LegacyNone:
	default:
		errs = append(errs, fmt.Errorf("legacy.backend %q: want sqlite, redis or none", c.Legacy.Backend))
	}

	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level is the configured learner level. Call after Validate.
func (c *Config) Level() curriculum.Level {
	l, _ := curriculum.ParseLevel(c.Learner.Level)
	return l
}

// Dispatcher converts the gateway section into delivery settings.
func (g GatewayConfig) Dispatcher() gateway.Config {
	cfg := gateway.DefaultConfig()
	cfg.MaxAttempts = g.MaxAttempts
	cfg.InitialWait = g.InitialWait
	cfg.MaxWait = g.MaxWait
	cfg.PollInterval = g.PollInterval
	cfg.BatchSize = g.BatchSize
	cfg.RatePerSecond = g.RatePerSecond
	return cfg
}
