// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/realtime-ipo-tracker/internal/tracker"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Fetcher modes.
const (
	FetcherHeadless = "headless"
	FetcherStatic   = "static"
	// FetcherAuto fetches statically and renders headlessly only when needed.
	FetcherAuto = "auto"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging   LoggingConfig    `mapstructure:"logging"`
	Server    ServerConfig     `mapstructure:"server"`
	Sources   []tracker.Source `mapstructure:"sources"`
	Scheduler SchedulerConfig  `mapstructure:"scheduler"`
	Fetcher   FetcherConfig    `mapstructure:"fetcher"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Snapshot  SnapshotConfig   `mapstructure:"snapshot"`
	PubSub    PubSubConfig     `mapstructure:"pubsub"`
	Seed      SeedConfig       `mapstructure:"seed"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the ops HTTP server. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SchedulerConfig governs the duty cycle and pacing.
type SchedulerConfig struct {
	RestInterval time.Duration `mapstructure:"rest_interval"`
	Backoff      time.Duration `mapstructure:"backoff"`
	Years        int           `mapstructure:"years"`
	PaceMin      time.Duration `mapstructure:"pace_min"`
	PaceMax      time.Duration `mapstructure:"pace_max"`
}

// FetcherConfig selects and tunes the page fetcher.
type FetcherConfig struct {
	Mode              string        `mapstructure:"mode"`
	UserAgent         string        `mapstructure:"user_agent"`
	HydrationWait     time.Duration `mapstructure:"hydration_wait"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ExecPath          string        `mapstructure:"exec_path"`
	// PromotionThreshold is the body size below which script-heavy pages are
	// rendered in auto mode.
	PromotionThreshold int `mapstructure:"promotion_threshold"`
}

// DatabaseConfig controls the listing store.
type DatabaseConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// SnapshotConfig sets the local snapshot path and the optional GCS mirror.
type SnapshotConfig struct {
	Path      string `mapstructure:"path"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSObject string `mapstructure:"gcs_object"`
}

// PubSubConfig holds change-event publishing settings. An empty project keeps
// events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// SeedConfig lists JSON files imported at startup.
type SeedConfig struct {
	Files []string `mapstructure:"files"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IPOTRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("scheduler.rest_interval", time.Minute)
	v.SetDefault("scheduler.backoff", 30*time.Second)
	v.SetDefault("scheduler.years", 5)
	v.SetDefault("scheduler.pace_min", time.Second)
	v.SetDefault("scheduler.pace_max", 2*time.Second)
	v.SetDefault("fetcher.mode", FetcherHeadless)
	v.SetDefault("fetcher.user_agent", "")
	v.SetDefault("fetcher.hydration_wait", 2*time.Second)
	v.SetDefault("fetcher.navigation_timeout", 45*time.Second)
	v.SetDefault("fetcher.request_timeout", 30*time.Second)
	v.SetDefault("fetcher.exec_path", "")
	v.SetDefault("fetcher.promotion_threshold", 2048)
	v.SetDefault("database.backend", BackendSQLite)
	v.SetDefault("database.dsn", "file:ipo_tracker.db")
	v.SetDefault("database.table", "ipo_master")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("snapshot.path", "ipo_data.txt")
	v.SetDefault("snapshot.gcs_bucket", "")
	v.SetDefault("snapshot.gcs_object", "snapshots/ipo_data.txt")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "ipo-listing-changes")
	v.SetDefault("seed.files", []string{})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 {
		errs = append(errs, errors.New("server.port must be >= 0"))
	}
	if c.Scheduler.RestInterval <= 0 {
		errs = append(errs, errors.New("scheduler.rest_interval must be > 0"))
	}
	if c.Scheduler.Backoff <= 0 {
		errs = append(errs, errors.New("scheduler.backoff must be > 0"))
	}
	if c.Scheduler.Years < 0 {
		errs = append(errs, errors.New("scheduler.years must be >= 0"))
	}
	if c.Scheduler.PaceMin < 0 || c.Scheduler.PaceMax < c.Scheduler.PaceMin {
		errs = append(errs, errors.New("scheduler.pace_min must be >= 0 and <= scheduler.pace_max"))
	}
	switch c.Fetcher.Mode {
	case FetcherHeadless, FetcherStatic, FetcherAuto:
	default:
		errs = append(errs, fmt.Errorf("fetcher.mode %q must be one of %q, %q, %q",
			c.Fetcher.Mode, FetcherHeadless, FetcherStatic, FetcherAuto))
	}
	switch c.Database.Backend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for the %s backend", c.Database.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("database.backend %q is not supported", c.Database.Backend))
	}
	if c.Snapshot.Path == "" {
		errs = append(errs, errors.New("snapshot.path is required"))
	}
	if c.Snapshot.GCSBucket != "" && c.Snapshot.GCSObject == "" {
		errs = append(errs, errors.New("snapshot.gcs_object is required when snapshot.gcs_bucket is set"))
	}
	if c.PubSub.ProjectID != "" && c.PubSub.Topic == "" {
		errs = append(errs, errors.New("pubsub.topic is required when pubsub.project_id is set"))
	}
	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("at least one source is required"))
	}
	return errors.Join(errs...)
}
