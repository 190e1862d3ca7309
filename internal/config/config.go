// Package config loads taskloop configuration from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/seantiz/taskloop/internal/engine"
)

const (
	envPrefix = "TASKLOOP"

	defaultListenAddr    = ":8080"
	defaultDBPath        = "taskloop.db"
	defaultLogLevel      = "info"
	defaultFrameInterval = 16 * time.Millisecond
)

// Config holds application configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`
	// DBPath is the SQLite file the task table is written to. Empty disables
	// the SQLite sink.
	DBPath   string `mapstructure:"db_path"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`

	UpdateTable   bool          `mapstructure:"update_table"`
	ClearAfter    time.Duration `mapstructure:"clear_after" validate:"gte=0"`
	FrameInterval time.Duration `mapstructure:"frame_interval" validate:"gt=0"`
	SweepEvery    int           `mapstructure:"sweep_every" validate:"gte=0"`
	// ClearSchedule is a cron spec for clearing finished tasks. Empty
	// disables it.
	ClearSchedule string `mapstructure:"clear_schedule"`
	// FetchAllowHosts lists the hosts the fetch and poll kinds may reach.
	// Empty disables both kinds; "*" allows any host.
	FetchAllowHosts []string `mapstructure:"fetch_allow_hosts" validate:"dive,required"`
}

// Load reads configuration from TASKLOOP_* environment variables and, when
// path is not empty, a YAML file. Environment variables take precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := engine.DefaultConfig()
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("db_path", defaultDBPath)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("update_table", def.UpdateTable)
	v.SetDefault("clear_after", def.ClearAfter)
	v.SetDefault("frame_interval", defaultFrameInterval)
	v.SetDefault("sweep_every", def.SweepEvery)
	v.SetDefault("clear_schedule", "")
	v.SetDefault("fetch_allow_hosts", []string{})
}

// Validate checks struct constraints and the cron schedule.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.ClearSchedule != "" {
		if _, err := cron.ParseStandard(c.ClearSchedule); err != nil {
			return fmt.Errorf("invalid config: clear_schedule: %w", err)
		}
	}
	return nil
}

// Engine returns the task manager settings.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		UpdateTable: c.UpdateTable,
		ClearAfter:  c.ClearAfter,
		SweepEvery:  c.SweepEvery,
	}
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
