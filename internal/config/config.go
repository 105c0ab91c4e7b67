// Copyright (c) Microsoft Corporation.
// Licensed under the Apache License, Version 2.0.
package config

import (
	"context"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Config is the daemon configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Cache   CacheConfig   `toml:"cache"`
	Metrics MetricsConfig `toml:"metrics"`
}

// ServerConfig configures the HTTP surfaces.
type ServerConfig struct {
	HttpAddr    string `toml:"http-addr"`
	MetricsAddr string `toml:"metrics-addr"`
}

// CacheConfig configures new stream sessions.
type CacheConfig struct {
	// Params is a "lowKB/highKB/keepAliveSecs" string; empty keeps the
	// built-in defaults.
	Params string `toml:"params"`

	DisconnectAtHighWater bool `toml:"disconnect-at-highwatermark"`
}

// MetricsConfig selects the metrics collector.
type MetricsConfig struct {
	// Collector is "prometheus" or "memory".
	Collector string `toml:"collector"`
}

// Default returns the default daemon configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HttpAddr:    "127.0.0.1:7000",
			MetricsAddr: "127.0.0.1:7001",
		},
		Metrics: MetricsConfig{
			Collector: "prometheus",
		},
	}
}

// Load reads the configuration file at path, overlaying it on the
// defaults.
func Load(ctx context.Context, fs afero.Fs, path string) (Config, error) {
	log := zerolog.Ctx(ctx).With().Str("component", "config").Str("path", path).Logger()

	cfg := Default()

	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}

	log.Info().Str("http", cfg.Server.HttpAddr).Str("metrics", cfg.Server.MetricsAddr).Str("params", cfg.Cache.Params).Msg("configuration loaded")
	return cfg, nil
}

// validate rejects configurations the daemon cannot run with.
func validate(cfg Config) error {
	if cfg.Server.HttpAddr == "" {
		return fmt.Errorf("server.http-addr must not be empty")
	}

	if cfg.Cache.Params != "" {
		var lowKB, highKB, keepAliveSecs int64
		if n, err := fmt.Sscanf(cfg.Cache.Params, "%d/%d/%d", &lowKB, &highKB, &keepAliveSecs); err != nil || n != 3 {
			return fmt.Errorf("cache.params %q is not a lowKB/highKB/keepAliveSecs string", cfg.Cache.Params)
		}
		if lowKB >= 0 && highKB >= 0 && lowKB >= highKB {
			return fmt.Errorf("cache.params %q: low watermark must be below the high watermark", cfg.Cache.Params)
		}
	}

	switch cfg.Metrics.Collector {
	case "", "prometheus", "memory":
	default:
		return fmt.Errorf("metrics.collector %q is not supported", cfg.Metrics.Collector)
	}

	return nil
}
