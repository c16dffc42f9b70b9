// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package config loads workoutsync settings from workoutsync.yaml and
// WORKOUTSYNC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gorillax/workoutsync/syncer"
)

// EnvPrefix prefixes every environment override, e.g. WORKOUTSYNC_SERVER_BASE_URL
const EnvPrefix = "WORKOUTSYNC"

// Connectivity modes
const (
	ConnectivityAlways   = "always"
	ConnectivityProbe    = "probe"
	ConnectivityFlagFile = "flagfile"
)

// Config holds all configuration for the workoutsync client
type Config struct {
	Store        StoreConfig        `mapstructure:"store"`
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Log          LogConfig          `mapstructure:"log"`
	DevServer    DevServerConfig    `mapstructure:"devserver"`
}

type StoreConfig struct {
	Path     string `mapstructure:"path"`     // SQLite file; empty means volatile
	Volatile bool   `mapstructure:"volatile"` // Force the in-memory store
}

type ServerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuthConfig controls how the client signs its bearer tokens
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	UserID   string        `mapstructure:"user_id"`
	DeviceID string        `mapstructure:"device_id"` // Generated when empty
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type SyncConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	MaxBatches int           `mapstructure:"max_batches"`
	Interval   time.Duration `mapstructure:"interval"`
	BackoffMin time.Duration `mapstructure:"backoff_min"`
	BackoffMax time.Duration `mapstructure:"backoff_max"`
}

// ConnectivityConfig selects the online/offline source
type ConnectivityConfig struct {
	Mode          string        `mapstructure:"mode"` // always | probe | flagfile
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	FlagFile      string        `mapstructure:"flag_file"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug | info | warn | error
	Format     string `mapstructure:"format"` // text | json
	File       string `mapstructure:"file"`   // Rotated log file; empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type DevServerConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	def := syncer.DefaultConfig()

	v.SetDefault("store.path", "workoutsync.db")
	v.SetDefault("store.volatile", false)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.timeout", "30s")
	v.SetDefault("auth.secret", "your-secret-key-change-in-production")
	v.SetDefault("auth.user_id", "")
	v.SetDefault("auth.device_id", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("sync.batch_size", def.BatchSize)
	v.SetDefault("sync.max_batches", def.MaxBatchesPerPass)
	v.SetDefault("sync.interval", def.Interval.String())
	v.SetDefault("sync.backoff_min", def.BackoffMin.String())
	v.SetDefault("sync.backoff_max", def.BackoffMax.String())
	v.SetDefault("connectivity.mode", ConnectivityProbe)
	v.SetDefault("connectivity.probe_interval", "15s")
	v.SetDefault("connectivity.flag_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("devserver.addr", ":8080")
}

// Load reads configuration. file may name a config file explicitly;
// otherwise workoutsync.yaml is looked up in the working directory and a
// missing file is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("workoutsync")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot check by type
func (c *Config) Validate() error {
	switch c.Connectivity.Mode {
	case ConnectivityAlways, ConnectivityProbe:
	case ConnectivityFlagFile:
		if c.Connectivity.FlagFile == "" {
			return errors.New("connectivity.flag_file is required in flagfile mode")
		}
	default:
		return fmt.Errorf("unknown connectivity.mode %q", c.Connectivity.Mode)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.BackoffMax < c.Sync.BackoffMin {
		return errors.New("sync.backoff_max must not be below sync.backoff_min")
	}
	return nil
}

// SyncerConfig converts the sync section for the orchestrator
func (c *Config) SyncerConfig() *syncer.Config {
	return &syncer.Config{
		BatchSize:         c.Sync.BatchSize,
		MaxBatchesPerPass: c.Sync.MaxBatches,
		Interval:          c.Sync.Interval,
		BackoffMin:        c.Sync.BackoffMin,
		BackoffMax:        c.Sync.BackoffMax,
	}
}
