// Package config loads the agent configuration: a YAML file resolved
// through a viper singleton, with MTC_* environment overrides and typed
// access for the pieces the agent wires at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Defaults. The sample buffer default is sized for a small shop-floor
// cell; production deployments raise it into the millions.
const (
	DefaultListen          = ":5000"
	DefaultBufferSize      = 131072
	DefaultAssetBufferSize = 1024
	DefaultVersion         = "1.3"
	DefaultHeartbeat       = 10 * time.Second
)

// Adapter describes one SHDR source to connect to.
type Adapter struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
	// Device is the uuid (or registered name) lines from this adapter
	// belong to.
	Device string `yaml:"device" mapstructure:"device"`
	// Heartbeat is the adapter ping interval; zero disables pings.
	Heartbeat time.Duration `yaml:"heartbeat" mapstructure:"heartbeat"`
}

// Addr formats the adapter's dial address.
func (a Adapter) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Config is the agent's startup configuration.
type Config struct {
	Listen          string    `yaml:"listen" mapstructure:"listen"`
	DevicesFile     string    `yaml:"devices" mapstructure:"devices"`
	BufferSize      int       `yaml:"buffer-size" mapstructure:"buffer-size"`
	AssetBufferSize int       `yaml:"asset-buffer-size" mapstructure:"asset-buffer-size"`
	// MaxReplay caps current?at= replay length; 0 means buffer-size.
	MaxReplay int       `yaml:"max-replay" mapstructure:"max-replay"`
	Version   string    `yaml:"version" mapstructure:"version"`
	Sender    string    `yaml:"sender" mapstructure:"sender"`
	Adapters  []Adapter `yaml:"adapters" mapstructure:"adapters"`
}

var v *viper.Viper

// Initialize sets up the viper singleton. path may name a config file
// directly; empty means search the working directory for
// mtcagent.yaml.
func Initialize(path string) error {
	v = viper.New()
	v.SetEnvPrefix("MTC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mtcagent")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil // defaults + env only
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("buffer-size", DefaultBufferSize)
	v.SetDefault("asset-buffer-size", DefaultAssetBufferSize)
	v.SetDefault("max-replay", 0)
	v.SetDefault("version", DefaultVersion)
	v.SetDefault("sender", "")
}

// Load returns the typed configuration from the initialized singleton.
func Load() (*Config, error) {
	if v == nil {
		if err := Initialize(""); err != nil {
			return nil, err
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	applyFallbacks(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a config file directly, bypassing the viper singleton.
// Used when checking config before viper is initialized and in tests.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyFallbacks(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyFallbacks(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.AssetBufferSize == 0 {
		cfg.AssetBufferSize = DefaultAssetBufferSize
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Sender == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Sender = host
		} else {
			cfg.Sender = "mtcagent"
		}
	}
	for i := range cfg.Adapters {
		if cfg.Adapters[i].Heartbeat == 0 {
			cfg.Adapters[i].Heartbeat = DefaultHeartbeat
		}
	}
}

// Validate rejects configurations the agent cannot start with.
func (c *Config) Validate() error {
	if c.BufferSize < 1 {
		return fmt.Errorf("buffer-size must be at least 1, got %d", c.BufferSize)
	}
	if c.AssetBufferSize < 1 {
		return fmt.Errorf("asset-buffer-size must be at least 1, got %d", c.AssetBufferSize)
	}
	if c.MaxReplay < 0 {
		return fmt.Errorf("max-replay must not be negative, got %d", c.MaxReplay)
	}
	for _, a := range c.Adapters {
		if a.Host == "" || a.Port == 0 {
			return fmt.Errorf("adapter needs host and port, got %q:%d", a.Host, a.Port)
		}
		if a.Device == "" {
			return fmt.Errorf("adapter %s has no device", a.Addr())
		}
	}
	return nil
}
