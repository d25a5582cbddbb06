package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configFileName = "config.yaml"

// Environment variables that override the config file.
const (
	EnvBackendURL = "CLINICSYNC_BACKEND_URL"
	EnvStorePath  = "CLINICSYNC_STORE_PATH"
	EnvServerAddr = "CLINICSYNC_SERVER_ADDR"
	EnvLogLevel   = "CLINICSYNC_LOG_LEVEL"
)

var envOverrides = []struct {
	name  string
	apply func(*Config, string)
}{
	{EnvBackendURL, func(c *Config, v string) { c.Backend.URL = v }},
	{EnvStorePath, func(c *Config, v string) { c.Store.Path = v }},
	{EnvServerAddr, func(c *Config, v string) { c.Server.Addr = v }},
	{EnvLogLevel, func(c *Config, v string) { c.Logging.Level = v }},
}

// Loader reads and writes the YAML config file.
type Loader struct {
	configDir string
}

// NewLoader creates a loader rooted at configDir, ~/.clinicsync when empty.
func NewLoader(configDir string) (*Loader, error) {
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".clinicsync")
	}
	return &Loader{configDir: configDir}, nil
}

// DefaultConfigPath returns the config file used when no path is given.
func (l *Loader) DefaultConfigPath() string {
	return filepath.Join(l.configDir, configFileName)
}

// Load reads configPath over the defaults, then applies CLINICSYNC_*
// environment overrides. With an empty path a missing default file is not
// an error; an explicit path must exist.
func (l *Loader) Load(configPath string) (*Config, error) {
	explicit := configPath != ""
	if !explicit {
		configPath = l.DefaultConfigPath()
	}

	cfg := NewDefaultConfig()
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("config file not found: %s", configPath)
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			o.apply(cfg, v)
		}
	}
	return cfg, nil
}

// Save writes cfg to configPath, or the default path when empty, readable
// only by the owner.
func (l *Loader) Save(cfg *Config, configPath string) error {
	if configPath == "" {
		configPath = l.DefaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	content := "# clinicsync configuration\n#\n" + string(data)
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
