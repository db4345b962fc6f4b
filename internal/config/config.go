// Package config loads procflow settings from a YAML file.
//
// The file is decoded into a generic map first and then into Config, so
// durations may be written as "30s" and numbers as strings:
//
//	store:
//	  path: procflow.db
//	  shared_unit_of_work: false
//	lock:
//	  backend: redis
//	  redis_addr: localhost:6379
//	  ttl: 30s
//	engine:
//	  correlation_mode: exclusive
//	  max_steps: 500
//	metrics:
//	  addr: :9090
//	log:
//	  level: debug
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/roach88/procflow/internal/engine"
	"github.com/roach88/procflow/internal/lock"
)

// Lock backends.
const (
	BackendLocal = "local"
	BackendRedis = "redis"
)

// Config is the complete runtime configuration.
type Config struct {
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Lock    LockConfig    `mapstructure:"lock" yaml:"lock"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// StoreConfig configures the audit log database.
type StoreConfig struct {
	Path             string `mapstructure:"path" yaml:"path"`
	SharedUnitOfWork bool   `mapstructure:"shared_unit_of_work" yaml:"shared_unit_of_work"`
}

// LockConfig selects the instance lock.
type LockConfig struct {
	Backend   string        `mapstructure:"backend" yaml:"backend"`
	RedisAddr string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	Prefix    string        `mapstructure:"prefix" yaml:"prefix"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// EngineConfig tunes execution.
type EngineConfig struct {
	CorrelationMode string `mapstructure:"correlation_mode" yaml:"correlation_mode"`
	MaxSteps        int    `mapstructure:"max_steps" yaml:"max_steps"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig configures the CLI logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{Path: "procflow.db"},
		Lock: LockConfig{
			Backend: BackendLocal,
			Prefix:  "procflow:",
			TTL:     lock.DefaultTTL,
		},
		Engine: EngineConfig{
			CorrelationMode: engine.Broadcast.String(),
			MaxSteps:        engine.DefaultMaxSteps,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads and validates the YAML file at path. Keys missing from the
// file keep their Default values.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML configuration.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}

	cfg := Default()
	if err := Decode(raw, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode copies a generic map onto out. Unknown keys are errors.
func Decode(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("config decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error

	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}

	switch c.Lock.Backend {
	case BackendLocal:
	case BackendRedis:
		if c.Lock.RedisAddr == "" {
			errs = append(errs, errors.New("lock.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("lock.backend %q: must be %s or %s", c.Lock.Backend, BackendLocal, BackendRedis))
	}
	if c.Lock.TTL < 0 {
		errs = append(errs, fmt.Errorf("lock.ttl %s: must not be negative", c.Lock.TTL))
	}

	if _, err := c.CorrelationMode(); err != nil {
		errs = append(errs, fmt.Errorf("engine.correlation_mode: %w", err))
	}
	if c.Engine.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("engine.max_steps %d: must not be negative", c.Engine.MaxSteps))
	}

	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// CorrelationMode parses Engine.CorrelationMode.
func (c Config) CorrelationMode() (engine.CorrelationMode, error) {
	return engine.ParseCorrelationMode(c.Engine.CorrelationMode)
}

// LogLevel parses Log.Level. Empty means info.
func (c Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
