package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type BackendCfg struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	RatePerSecond  int    `mapstructure:"rate_per_second"`
	RateBurst      int    `mapstructure:"rate_burst"`
}

type RedisCfg struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type SessionCfg struct {
	RefreshIntervalSeconds int `mapstructure:"refresh_interval_seconds"`
	RetryMax               int `mapstructure:"retry_max"`
	RetryDelayMillis       int `mapstructure:"retry_delay_millis"`
	SnapshotTTLSeconds     int `mapstructure:"snapshot_ttl_seconds"`
}

type ServerCfg struct {
	Port        string `mapstructure:"port"`
	MetricsPort string `mapstructure:"metrics_port"`
}

type Config struct {
	Development bool       `mapstructure:"development"`
	Backend     BackendCfg `mapstructure:"backend"`
	Redis       RedisCfg   `mapstructure:"redis"`
	Session     SessionCfg `mapstructure:"session"`
	Server      ServerCfg  `mapstructure:"server"`

	// Derived
	BackendTimeout  time.Duration
	RefreshInterval time.Duration
	RetryDelay      time.Duration
	SnapshotTTL     time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	v.AutomaticEnv()
	v.SetEnvPrefix("MC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Backend.TimeoutSeconds == 0 {
		cfg.Backend.TimeoutSeconds = 15
	}
	if cfg.Backend.RatePerSecond == 0 {
		cfg.Backend.RatePerSecond = 10
	}
	if cfg.Backend.RateBurst == 0 {
		cfg.Backend.RateBurst = 20
	}
	if cfg.Session.RefreshIntervalSeconds == 0 {
		cfg.Session.RefreshIntervalSeconds = 10
	}
	if cfg.Session.RetryMax == 0 {
		cfg.Session.RetryMax = 2
	}
	if cfg.Session.RetryDelayMillis == 0 {
		cfg.Session.RetryDelayMillis = 1000
	}
	if cfg.Session.SnapshotTTLSeconds == 0 {
		cfg.Session.SnapshotTTLSeconds = 300
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8085"
	}
	if cfg.Server.MetricsPort == "" {
		cfg.Server.MetricsPort = "9095"
	}
	cfg.BackendTimeout = time.Duration(cfg.Backend.TimeoutSeconds) * time.Second
	cfg.RefreshInterval = time.Duration(cfg.Session.RefreshIntervalSeconds) * time.Second
	cfg.RetryDelay = time.Duration(cfg.Session.RetryDelayMillis) * time.Millisecond
	cfg.SnapshotTTL = time.Duration(cfg.Session.SnapshotTTLSeconds) * time.Second
	return &cfg, nil
}
