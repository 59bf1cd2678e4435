// Package config loads songshare settings from YAML, environment and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"songshare/internal/logger"
)

const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"

	DefaultListenAddr = ":42424"
	DefaultAPIAddr    = "127.0.0.1:42480"
	DefaultWorkers    = 4

	envPrefix = "SONGSHARE_"
)

type Config struct {
	SongsDir           string    `yaml:"songs_dir"`
	DownloadDir        string    `yaml:"download_dir"`
	ListenAddr         string    `yaml:"listen"`
	Transport          string    `yaml:"transport"`
	AutoRequestCatalog bool      `yaml:"auto_request_catalog"`
	Workers            int       `yaml:"workers"`
	API                APIConfig `yaml:"api"`
	Log                LogConfig `yaml:"log"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Environment string `yaml:"environment"`
	WithSource  bool   `yaml:"with_source"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days"`
	Compress    bool   `yaml:"compress"`
}

func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		SongsDir:           ".",
		DownloadDir:        filepath.Join(home, "Downloads"),
		ListenAddr:         DefaultListenAddr,
		Transport:          TransportTCP,
		AutoRequestCatalog: true,
		Workers:            DefaultWorkers,
		API:                APIConfig{Addr: DefaultAPIAddr},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// DefaultPath is ~/.songshare/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".songshare", "config.yaml")
}

// Load reads path over the defaults. A missing file is not an error when
// path is the default location.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from SONGSHARE_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	str("SONGS_DIR", &c.SongsDir)
	str("DOWNLOAD_DIR", &c.DownloadDir)
	str("LISTEN", &c.ListenAddr)
	str("TRANSPORT", &c.Transport)
	str("API_ADDR", &c.API.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	if v, ok := lookup(envPrefix + "WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sWORKERS: %w", envPrefix, err)
		}
		c.Workers = n
	}
	for key, dst := range map[string]*bool{
		"AUTO_REQUEST_CATALOG": &c.AutoRequestCatalog,
		"API_ENABLED":          &c.API.Enabled,
	} {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
			}
			*dst = b
		}
	}
	return nil
}

func (c *Config) Validate() error {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	switch c.Transport {
	case TransportTCP, TransportQUIC:
	default:
		return fmt.Errorf("unsupported transport %q (want %s or %s)", c.Transport, TransportTCP, TransportQUIC)
	}
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.API.Enabled && c.API.Addr == "" {
		return errors.New("api.addr is required when the api is enabled")
	}
	return nil
}

func (c *Config) Logger() logger.Config {
	return logger.Config{
		Level:       c.Log.Level,
		Environment: c.Log.Environment,
		WithSource:  c.Log.WithSource,
		File:        c.Log.File,
		MaxSizeMB:   c.Log.MaxSizeMB,
		MaxBackups:  c.Log.MaxBackups,
		MaxAgeDays:  c.Log.MaxAgeDays,
		Compress:    c.Log.Compress,
	}
}
