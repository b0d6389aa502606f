package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

const (
	EnvServerURL = "STEMX_SERVER_URL"
	EnvAPIToken  = "STEMX_API_TOKEN"
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Upload    UploadConfig    `toml:"upload"`
	Tasks     TasksConfig     `toml:"tasks"`
	Downloads DownloadsConfig `toml:"downloads"`
	Database  DatabaseConfig  `toml:"database"`
}

// ServerConfig contains backend connection settings.
type ServerConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	APIToken       string `toml:"api_token"`
}

// UploadConfig contains the client-side pre-filter for uploads.
type UploadConfig struct {
	MaxSizeMB         int      `toml:"max_size_mb"`
	AllowedExtensions []string `toml:"allowed_extensions"`
}

// TasksConfig contains task tracking settings.
type TasksConfig struct {
	PollIntervalMS int `toml:"poll_interval_ms"`
}

// DownloadsConfig contains stem download settings.
type DownloadsConfig struct {
	OutputDir string  `toml:"output_dir"`
	Workers   int     `toml:"workers"`
	RateLimit float64 `toml:"rate_limit"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// Timeout returns the per-request HTTP timeout.
func (c ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MaxBytes returns the upload size limit in bytes.
func (c UploadConfig) MaxBytes() int64 {
	return int64(c.MaxSizeMB) * 1024 * 1024
}

// PollInterval returns the task polling interval.
func (c TasksConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	switch {
	case c.Server.BaseURL == "":
		return fmt.Errorf("%w: server.base_url is required", ErrInvalidConfig)
	case !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://"):
		return fmt.Errorf("%w: server.base_url must be an http(s) URL, got %q", ErrInvalidConfig, c.Server.BaseURL)
	case c.Server.TimeoutSeconds < 0:
		return fmt.Errorf("%w: server.timeout_seconds must not be negative", ErrInvalidConfig)
	case c.Upload.MaxSizeMB <= 0:
		return fmt.Errorf("%w: upload.max_size_mb must be positive", ErrInvalidConfig)
	case c.Tasks.PollIntervalMS <= 0:
		return fmt.Errorf("%w: tasks.poll_interval_ms must be positive", ErrInvalidConfig)
	case c.Downloads.Workers < 0:
		return fmt.Errorf("%w: downloads.workers must not be negative", ErrInvalidConfig)
	case c.Downloads.RateLimit < 0:
		return fmt.Errorf("%w: downloads.rate_limit must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ApplyEnv overrides the server settings from STEMX_SERVER_URL and STEMX_API_TOKEN when set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvServerURL); v != "" {
		c.Server.BaseURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		c.Server.APIToken = v
	}
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
