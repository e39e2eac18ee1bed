// Package config holds the application configuration and its on-disk layout.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	configDirName     = "compass"
	configFile        = "config.yaml"
	credentialsFile   = "credentials.json"
	tokenFile         = "token.json"
	configDirPermMode = 0o700
)

// Config is the top-level application configuration.
type Config struct {
	// UserID scopes every stored event; a single-user deployment can leave
	// the default.
	UserID string `yaml:"user_id"`

	// CalendarID is the provider calendar mirrored into the local store.
	CalendarID string `yaml:"calendar_id"`

	// Database is the SQLite DSN for the local event store.
	Database string `yaml:"database"`

	// Credentials and Token override the default credential file locations.
	Credentials string `yaml:"credentials,omitempty"`
	Token       string `yaml:"token,omitempty"`

	// APIEndpoint overrides the provider API base URL (used by tests against
	// a fake server).
	APIEndpoint string `yaml:"api_endpoint,omitempty"`

	// Listen is the HTTP listen address for webhook deliveries.
	Listen string `yaml:"listen"`

	// WebhookURL is the externally reachable address registered with the
	// provider's watch channel.
	WebhookURL string `yaml:"webhook_url,omitempty"`

	// RenewCron schedules watch-channel renewal.
	RenewCron string `yaml:"renew_cron"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		UserID:     "default",
		CalendarID: "primary",
		Listen:     "127.0.0.1:8081",
		RenewCron:  "0 */6 * * *",
	}
}

// Normalize fills in missing values so partially-filled configs still behave.
func (c *Config) Normalize() {
	if c.UserID == "" {
		c.UserID = "default"
	}
	if c.CalendarID == "" {
		c.CalendarID = "primary"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8081"
	}
	if c.RenewCron == "" {
		c.RenewCron = "0 */6 * * *"
	}
	if c.Database == "" {
		if dir, err := Dir(); err == nil {
			c.Database = filepath.Join(dir, "compass.db")
		} else {
			c.Database = "compass.db"
		}
	}
}

// Load loads configuration from the given YAML path. A missing file yields a
// persisted default config, so first runs work without setup.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = Path()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			cfg.Normalize()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the configuration atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermMode); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".compass-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Dir returns the configuration directory path (~/.config/compass).
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", configDirName), nil
}

// Path returns the default config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// CredentialsPath returns the provider credentials file, honoring the config
// override.
func (c *Config) CredentialsPath() (string, error) {
	if c.Credentials != "" {
		return c.Credentials, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, credentialsFile), nil
}

// TokenPath returns the OAuth token file, honoring the config override.
func (c *Config) TokenPath() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, tokenFile), nil
}

// EnsureDir creates the configuration directory if it doesn't exist.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, configDirPermMode)
	}
	return nil
}
