// Package config provides configuration loading and management for the
// sync server and agent.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/classboard/observesync/internal/telemetry"
)

const (
	// EnvPrefix is the prefix for environment variables read by the binary
	EnvPrefix = "OBSYNC"

	// DefaultServerAddress is the default listen address for the
	// reconciliation server
	DefaultServerAddress = ":8080"

	// DefaultFlushInterval is the default periodic flush cadence for the
	// agent
	DefaultFlushInterval = 30 * time.Second

	// passwordEnvVar carries the database password when no password file
	// is configured
	passwordEnvVar = "OBSYNC_DATABASE_PASSWORD"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Server    *ServerConfig     `yaml:"server,omitempty"`
	Agent     *AgentConfig      `yaml:"agent,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// ServerConfig defines the reconciliation server settings
type ServerConfig struct {
	// Address is the listen address, defaults to ":8080"
	Address string `yaml:"address,omitempty"`

	// InMemory runs the server on in-memory stores. Intended for demos
	// and development; all state is lost on restart.
	InMemory bool `yaml:"inMemory,omitempty"`

	// Database configures the Postgres backend. Required unless InMemory
	// is set.
	Database *DatabaseConfig `yaml:"database,omitempty"`
}

// GetAddress returns the listen address, using the default if not specified
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return DefaultServerAddress
	}
	return s.Address
}

// AgentConfig defines the client-side sync agent settings
type AgentConfig struct {
	// DataDir is the directory holding the durable queue and last-sync
	// state
	DataDir string `yaml:"dataDir"`

	// ServerURL is the base URL of the reconciliation server
	ServerURL string `yaml:"serverUrl"`

	// UserID identifies the teacher whose mutations this agent syncs
	UserID string `yaml:"userId"`

	// FlushInterval is the periodic flush cadence (e.g. "30s", "1m").
	// Defaults to 30s.
	FlushInterval string `yaml:"flushInterval,omitempty"`
}

// GetFlushInterval returns the parsed flush interval, using the default
// if not specified. Validation guarantees the value parses.
func (a *AgentConfig) GetFlushInterval() time.Duration {
	if a.FlushInterval == "" {
		return DefaultFlushInterval
	}
	d, err := time.ParseDuration(a.FlushInterval)
	if err != nil {
		return DefaultFlushInterval
	}
	return d
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// Recommended for production; the file should contain only the
	// password with optional trailing whitespace.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require,
	// verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxConns is the maximum number of pooled connections
	MaxConns int32 `yaml:"maxConns,omitempty"`

	// ConnMaxLifetime is the maximum lifetime of a connection (e.g. "1h")
	ConnMaxLifetime string `yaml:"connMaxLifetime,omitempty"`
}

// GetPassword returns the database password, preferring PasswordFile over
// the OBSYNC_DATABASE_PASSWORD environment variable.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(passwordEnvVar); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable",
		passwordEnvVar,
	)
}

// GetConnectionString builds a PostgreSQL connection string. The password
// is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		url.QueryEscape(password),
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if c.Server == nil && c.Agent == nil {
		return fmt.Errorf("at least one of server or agent must be configured")
	}

	if c.Server != nil {
		if err := c.Server.validate(); err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	if c.Agent != nil {
		if err := c.Agent.validate(); err != nil {
			return fmt.Errorf("agent: %w", err)
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

func (s *ServerConfig) validate() error {
	if s.InMemory {
		if s.Database != nil {
			return fmt.Errorf("inMemory and database are mutually exclusive")
		}
		return nil
	}

	if s.Database == nil {
		return fmt.Errorf("database configuration is required unless inMemory is set")
	}

	if s.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if s.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if s.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if s.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}

	if s.Database.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(s.Database.ConnMaxLifetime); err != nil {
			return fmt.Errorf("database.connMaxLifetime must be a valid duration: %w", err)
		}
	}

	return nil
}

func (a *AgentConfig) validate() error {
	if a.DataDir == "" {
		return fmt.Errorf("dataDir is required")
	}
	if a.ServerURL == "" {
		return fmt.Errorf("serverUrl is required")
	}
	if _, err := url.Parse(a.ServerURL); err != nil {
		return fmt.Errorf("serverUrl must be a valid URL: %w", err)
	}
	if a.UserID == "" {
		return fmt.Errorf("userId is required")
	}

	if a.FlushInterval != "" {
		if _, err := time.ParseDuration(a.FlushInterval); err != nil {
			return fmt.Errorf("flushInterval must be a valid duration (e.g. '30s', '1m'): %w", err)
		}
	}

	return nil
}
