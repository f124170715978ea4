// Package config loads the client configuration file.
//
// The file is JSON. Defaults are filled in first and every field present
// in the file overrides its default; absent fields keep them:
//
//	{
//	  "socket": "/var/run/ubus/ubus.sock",
//	  "timeout": "10s",
//	  "log": {"level": "debug"},
//	  "etcd": {"endpoints": ["10.0.0.2:2379"]}
//	}
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go-ubus/logging"
	"go-ubus/registry"
	"go-ubus/transport"
)

// Config is the complete client configuration.
type Config struct {
	Socket          string   `json:"socket"`
	Timeout         Duration `json:"timeout"`
	CompactIntegers bool     `json:"compact_integers"`
	KeepAlive       Duration `json:"keepalive"` // 0 disables

	Log       logging.Options `json:"log"`
	Etcd      EtcdConfig      `json:"etcd"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// EtcdConfig configures the inventory catalog used by export.
type EtcdConfig struct {
	Endpoints   []string `json:"endpoints"`
	Prefix      string   `json:"prefix"`
	TTL         int64    `json:"ttl"` // seconds
	DialTimeout Duration `json:"dial_timeout"`
}

// RateLimitConfig bounds outgoing calls. Rate 0 disables the limit.
type RateLimitConfig struct {
	Rate  float64 `json:"rate"` // calls per second
	Burst int     `json:"burst"`
}

type MetricsConfig struct {
	Listen string `json:"listen"` // e.g. ":9100"; empty disables
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Socket:          transport.DefaultSocketPath,
		Timeout:         Duration(30 * time.Second),
		CompactIntegers: true,
		Log:             logging.DefaultOptions(),
		Etcd: EtcdConfig{
			Endpoints:   []string{"127.0.0.1:2379"},
			Prefix:      registry.DefaultPrefix,
			TTL:         60,
			DialTimeout: Duration(5 * time.Second),
		},
		RateLimit: RateLimitConfig{Burst: 1},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that cannot be used as given.
func (c *Config) Validate() error {
	var errs []error
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if c.KeepAlive < 0 {
		errs = append(errs, errors.New("keepalive must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Etcd.TTL <= 0 {
		errs = append(errs, errors.New("etcd ttl must be positive"))
	}
	if c.RateLimit.Rate < 0 || (c.RateLimit.Rate > 0 && c.RateLimit.Burst < 1) {
		errs = append(errs, errors.New("rate limit needs a positive rate and burst"))
	}
	return errors.Join(errs...)
}
