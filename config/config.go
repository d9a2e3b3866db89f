// Package config loads process configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"stockstreamer/internal/model"
)

// Config holds all streamer configuration.
type Config struct {
	// ListenAddr is where downstream subscribers connect.
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":9002"`
	// UpstreamURL is the feed this node connects to as a client.
	UpstreamURL string `envconfig:"UPSTREAM_URL" default:"ws://localhost:9004/ws"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	// WindowSize is the sliding-window capacity per interval bucket.
	WindowSize int `envconfig:"WINDOW_SIZE" default:"120"`
	// Intervals is the comma-separated set of tracked bucket granularities
	// in seconds, in snapshot declaration order.
	Intervals string `envconfig:"INTERVALS" default:"1,10,60,300,600"`
	// TrackedSymbols optionally restricts indicator series to a symbol
	// subset; empty tracks every symbol the feed emits.
	TrackedSymbols string `envconfig:"TRACKED_SYMBOLS" default:""`

	ReconnectDelay time.Duration `envconfig:"RECONNECT_DELAY" default:"1s"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
}

// Load fills the config from the environment with prefix STREAMER.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("streamer", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("config: window size must be positive, got %d", cfg.WindowSize)
	}
	return &cfg, nil
}

// ParseIntervals parses the Intervals list, skipping invalid entries.
func (c *Config) ParseIntervals() []model.Interval {
	parts := strings.Split(c.Intervals, ",")
	ivs := make([]model.Interval, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			slog.Warn("skipping invalid interval value", "value", p)
			continue
		}
		ivs = append(ivs, model.Interval(n))
	}
	if len(ivs) == 0 {
		return append([]model.Interval(nil), model.DefaultIntervals...)
	}
	return ivs
}

// ParseSymbols parses the TrackedSymbols list; nil means track all.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.TrackedSymbols, ",")
	syms := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			syms = append(syms, p)
		}
	}
	return syms
}
