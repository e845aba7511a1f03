// Package config loads bellman's YAML configuration and applies defaults.
package config

import (
	"fmt"
	"os"

	yamlv3 "gopkg.in/yaml.v3"
)

type Config struct {
	Project  ProjectConfig  `yaml:"project"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Skills   SkillsConfig   `yaml:"skills"`
	Stream   StreamConfig   `yaml:"stream"`
	Store    StoreConfig    `yaml:"store"`
	DLQ      DLQConfig      `yaml:"dlq"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ProjectConfig struct {
	Name                      string `yaml:"name"`
	PermissionManifestVersion string `yaml:"permission_manifest_version"`
}

type DispatchConfig struct {
	// MaxAttempts bounds delivery attempts per command before DLQ cutover.
	MaxAttempts int `yaml:"max_attempts"`
	// TickIntervalSec paces the dispatch worker; retries are paced purely by
	// this interval, there is no in-tick backoff.
	TickIntervalSec int `yaml:"tick_interval_sec"`
}

// SkillsConfig is the default retry policy applied to trigger-engine skill
// invocations.
type SkillsConfig struct {
	MaxAttempts    int      `yaml:"max_attempts"`
	InitialDelayMs int      `yaml:"initial_delay_ms"`
	MaxDelayMs     int      `yaml:"max_delay_ms"`
	RetryableCodes []string `yaml:"retryable_codes"`
}

type StreamConfig struct {
	JournalEnabled  bool  `yaml:"journal_enabled"`
	JournalMaxBytes int64 `yaml:"journal_max_bytes"`
}

type StoreConfig struct {
	// Backend selects the persistence backend for workflow instances and the
	// dead letter queue: memory, file, or redis.
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type DLQConfig struct {
	RetentionDays    int `yaml:"retention_days"`
	PurgeIntervalSec int `yaml:"purge_interval_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Project: ProjectConfig{
			Name:                      "bellman",
			PermissionManifestVersion: "v1",
		},
		Dispatch: DispatchConfig{
			MaxAttempts:     3,
			TickIntervalSec: 5,
		},
		Skills: SkillsConfig{
			MaxAttempts:    3,
			InitialDelayMs: 100,
			MaxDelayMs:     5000,
			RetryableCodes: []string{"TIMEOUT", "RATE_LIMITED", "UNAVAILABLE"},
		},
		Stream: StreamConfig{
			JournalEnabled:  true,
			JournalMaxBytes: 100 * 1024 * 1024,
		},
		Store: StoreConfig{
			Backend: "file",
		},
		DLQ: DLQConfig{
			RetentionDays:    30,
			PurgeIntervalSec: 3600,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML config at path, layering it over defaults. A missing
// file is not an error: defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yamlv3.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	applyFloors(&cfg)
	return cfg, nil
}

func applyFloors(cfg *Config) {
	if cfg.Dispatch.MaxAttempts <= 0 {
		cfg.Dispatch.MaxAttempts = 3
	}
	if cfg.Dispatch.TickIntervalSec <= 0 {
		cfg.Dispatch.TickIntervalSec = 5
	}
	if cfg.Skills.MaxAttempts <= 0 {
		cfg.Skills.MaxAttempts = 1
	}
	if cfg.DLQ.RetentionDays <= 0 {
		cfg.DLQ.RetentionDays = 30
	}
	if cfg.Stream.JournalMaxBytes <= 0 {
		cfg.Stream.JournalMaxBytes = 100 * 1024 * 1024
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "file"
	}
}
