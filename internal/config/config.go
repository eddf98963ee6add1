// Package config loads valetsync settings.
//
// Settings come from, in increasing precedence: built-in defaults, a YAML
// file (unknown keys are rejected), .env files and process environment
// variables prefixed VALETSYNC_.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/valetsync/internal/dedup"
	"github.com/roach88/valetsync/internal/notify"
	"github.com/roach88/valetsync/internal/realtime"
)

// Push backends.
const (
	PushNone = "none"
	PushLog  = "log"
	PushFCM  = "fcm"
	PushAMQP = "amqp"
)

// Dedup backends.
const (
	DedupMemory = "memory"
	DedupRedis  = "redis"
)

// Config is the full settings tree.
type Config struct {
	Env      string         `yaml:"env"`
	Database string         `yaml:"database"`
	Debounce DebounceConfig `yaml:"debounce"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Toasts   ToastConfig    `yaml:"toasts"`
	Push     PushConfig     `yaml:"push"`
	Postgres PostgresConfig `yaml:"postgres"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DebounceConfig holds the re-fetch debounce window per screen.
type DebounceConfig struct {
	Dashboard time.Duration `yaml:"dashboard"`
	Rooms     time.Duration `yaml:"rooms"`
	Services  time.Duration `yaml:"services"`
}

type DedupConfig struct {
	Window        time.Duration `yaml:"window"`
	Sweep         string        `yaml:"sweep"` // cron spec; empty disables
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
}

type ToastConfig struct {
	Max     int           `yaml:"max"`
	Timeout time.Duration `yaml:"timeout"`
}

type PushConfig struct {
	Backend             string `yaml:"backend"`
	FirebaseProject     string `yaml:"firebase_project"`
	FirebaseCredentials string `yaml:"firebase_credentials"`
	AMQPURL             string `yaml:"amqp_url"`
	Exchange            string `yaml:"exchange"`
}

// PostgresConfig enables the LISTEN/NOTIFY change feed when DSN is set.
type PostgresConfig struct {
	DSN     string `yaml:"dsn"`
	Channel string `yaml:"channel"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Env:      "production",
		Database: "valetsync.db",
		Debounce: DebounceConfig{
			Dashboard: realtime.DefaultDebounce(realtime.DomainDashboard),
			Rooms:     realtime.DefaultDebounce(realtime.DomainRooms),
			Services:  realtime.DefaultDebounce(realtime.DomainServices),
		},
		Dedup: DedupConfig{
			Window:  dedup.DefaultWindow,
			Sweep:   dedup.DefaultSweepSpec,
			Backend: DedupMemory,
		},
		Toasts: ToastConfig{
			Max:     notify.DefaultMaxToasts,
			Timeout: notify.DefaultToastTimeout,
		},
		Push: PushConfig{
			Backend:  PushLog,
			Exchange: "push_fanout",
		},
		Postgres: PostgresConfig{Channel: realtime.DefaultPGChannel},
		Metrics:  MetricsConfig{Addr: ":9464"},
	}
}

// Load builds the settings from path (optional) and the environment.
// envFiles are loaded into the process environment first; missing files
// are ignored, as is a missing default ".env".
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides cfg from VALETSYNC_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("VALETSYNC_ENV", &cfg.Env)
	str("VALETSYNC_DB", &cfg.Database)
	str("VALETSYNC_DEDUP_BACKEND", &cfg.Dedup.Backend)
	str("VALETSYNC_DEDUP_SWEEP", &cfg.Dedup.Sweep)
	str("VALETSYNC_REDIS_ADDR", &cfg.Dedup.RedisAddr)
	str("VALETSYNC_REDIS_PASSWORD", &cfg.Dedup.RedisPassword)
	str("VALETSYNC_PUSH_BACKEND", &cfg.Push.Backend)
	str("VALETSYNC_FIREBASE_PROJECT", &cfg.Push.FirebaseProject)
	str("VALETSYNC_FIREBASE_CREDENTIALS", &cfg.Push.FirebaseCredentials)
	str("VALETSYNC_AMQP_URL", &cfg.Push.AMQPURL)
	str("VALETSYNC_PG_DSN", &cfg.Postgres.DSN)
	str("VALETSYNC_METRICS_ADDR", &cfg.Metrics.Addr)

	// A Redis address on its own selects the Redis backend.
	if _, set := lookup("VALETSYNC_DEDUP_BACKEND"); !set && cfg.Dedup.RedisAddr != "" {
		cfg.Dedup.Backend = DedupRedis
	}

	for key, dst := range map[string]*time.Duration{
		"VALETSYNC_DEDUP_WINDOW":   &cfg.Dedup.Window,
		"VALETSYNC_ROOMS_DEBOUNCE": &cfg.Debounce.Rooms,
		"VALETSYNC_TOAST_TIMEOUT":  &cfg.Toasts.Timeout,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// parseDuration accepts Go durations and bare integer seconds.
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return time.Duration(secs) * time.Second, nil
}

// Validate checks settings that would otherwise fail later.
func (c Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.Dedup.Window <= 0 {
		errs = append(errs, errors.New("dedup window must be positive"))
	}
	switch c.Dedup.Backend {
	case DedupMemory:
	case DedupRedis:
		if c.Dedup.RedisAddr == "" {
			errs = append(errs, errors.New("redis dedup backend needs redis_addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dedup backend %q", c.Dedup.Backend))
	}
	if c.Toasts.Max <= 0 {
		errs = append(errs, errors.New("toast max must be positive"))
	}
	switch c.Push.Backend {
	case PushNone, PushLog:
	case PushFCM:
		if c.Push.FirebaseProject == "" {
			errs = append(errs, errors.New("fcm push backend needs firebase_project"))
		}
	case PushAMQP:
		if c.Push.AMQPURL == "" {
			errs = append(errs, errors.New("amqp push backend needs amqp_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown push backend %q", c.Push.Backend))
	}
	return errors.Join(errs...)
}

// DebounceFor returns the debounce window of a screen domain.
func (c Config) DebounceFor(d realtime.Domain) time.Duration {
	switch d {
	case realtime.DomainDashboard:
		return c.Debounce.Dashboard
	case realtime.DomainRooms:
		return c.Debounce.Rooms
	case realtime.DomainServices:
		return c.Debounce.Services
	}
	return 0
}

// Development reports whether diagnostic detail may be shown to users.
func (c Config) Development() bool {
	return c.Env == "development" || c.Env == "dev"
}
