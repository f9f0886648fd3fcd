// Package config provides configuration parsing and validation for Flingr.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/postalsys/flingr/internal/transfer"
)

// Config represents the complete client configuration.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Lookup   LookupConfig   `yaml:"lookup"`
	Transfer TransferConfig `yaml:"transfer"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// AgentConfig contains local state and logging settings.
type AgentConfig struct {
	DataDir   string `yaml:"data_dir"`   // Directory for history database and key
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// LookupConfig describes the activation-code lookup service.
type LookupConfig struct {
	BaseURL        string        `yaml:"base_url"` // scheme, host and stage prefix
	Path           string        `yaml:"path"`
	Region         string        `yaml:"region"`
	Service        string        `yaml:"service"`
	AccessKey      string        `yaml:"access_key"`
	SecretKey      string        `yaml:"secret_key"`
	TableName      string        `yaml:"table_name"`
	Timeout        time.Duration `yaml:"timeout"`       // total resolve budget
	PollInterval   time.Duration `yaml:"poll_interval"` // wait between lookups
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// TransferConfig defines upload behavior.
type TransferConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RemoteName     string        `yaml:"remote_name"` // empty: local file name
	ChunkSize      string        `yaml:"chunk_size"`  // e.g. "32KiB"
	RateLimit      string        `yaml:"rate_limit"`  // bytes per second, empty for unlimited
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			DataDir:   defaultDataDir(),
			LogLevel:  "warn",
			LogFormat: "text",
		},
		Lookup: LookupConfig{
			BaseURL:        "https://20d3ektd5h.execute-api.us-east-1.amazonaws.com/test",
			Path:           "/FlingrRegistration",
			Region:         "us-east-1",
			Service:        "execute-api",
			TableName:      "flingrMap",
			Timeout:        10 * time.Second,
			PollInterval:   500 * time.Millisecond,
			RequestTimeout: 5 * time.Second,
		},
		Transfer: TransferConfig{
			ConnectTimeout: 5 * time.Second,
			ChunkSize:      "32KiB",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9464",
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "flingr")
	}
	return "./data"
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes on top of the defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
// ${VAR:-default} falls back to default; unknown references are kept.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Agent.DataDir == "" {
		errs = append(errs, "agent.data_dir is required")
	}
	if !isValidLogLevel(c.Agent.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.Agent.LogLevel))
	}
	if !isValidLogFormat(c.Agent.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.Agent.LogFormat))
	}

	if err := validateBaseURL(c.Lookup.BaseURL); err != nil {
		errs = append(errs, fmt.Sprintf("lookup.base_url: %v", err))
	}
	if c.Lookup.Region == "" {
		errs = append(errs, "lookup.region is required")
	}
	if c.Lookup.Service == "" {
		errs = append(errs, "lookup.service is required")
	}
	if c.Lookup.Timeout < 0 {
		errs = append(errs, "lookup.timeout must not be negative")
	}
	if c.Lookup.PollInterval <= 0 {
		errs = append(errs, "lookup.poll_interval must be positive")
	}
	if c.Lookup.RequestTimeout <= 0 {
		errs = append(errs, "lookup.request_timeout must be positive")
	}

	if c.Transfer.ConnectTimeout <= 0 {
		errs = append(errs, "transfer.connect_timeout must be positive")
	}
	if strings.ContainsAny(c.Transfer.RemoteName, "/\\") {
		errs = append(errs, "transfer.remote_name must be a bare file name")
	}
	if _, err := c.ChunkSizeBytes(); err != nil {
		errs = append(errs, fmt.Sprintf("transfer.chunk_size: %v", err))
	}
	if _, err := c.RateLimitBytes(); err != nil {
		errs = append(errs, fmt.Sprintf("transfer.rate_limit: %v", err))
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
			errs = append(errs, fmt.Sprintf("metrics.address: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ChunkSizeBytes returns the parsed transfer chunk size. Empty means the
// engine default.
func (c *Config) ChunkSizeBytes() (int, error) {
	if strings.TrimSpace(c.Transfer.ChunkSize) == "" {
		return transfer.DefaultChunkSize, nil
	}
	n, err := transfer.ParseSize(c.Transfer.ChunkSize)
	if err != nil {
		return 0, err
	}
	if n < 1024 || n > 16*1024*1024 {
		return 0, fmt.Errorf("must be between 1KiB and 16MiB, got %s", transfer.FormatSize(n))
	}
	return int(n), nil
}

// RateLimitBytes returns the upload cap in bytes per second, 0 for none.
func (c *Config) RateLimitBytes() (int64, error) {
	if strings.TrimSpace(c.Transfer.RateLimit) == "" {
		return 0, nil
	}
	return transfer.ParseSize(c.Transfer.RateLimit)
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// String returns the config as YAML with secrets redacted.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config that is safe to log.
func (c *Config) Redacted() *Config {
	redacted := *c
	if redacted.Lookup.AccessKey != "" {
		redacted.Lookup.AccessKey = redactedValue
	}
	if redacted.Lookup.SecretKey != "" {
		redacted.Lookup.SecretKey = redactedValue
	}
	return &redacted
}

// HasSensitiveData reports whether the config carries lookup credentials.
func (c *Config) HasSensitiveData() bool {
	return c.Lookup.AccessKey != "" || c.Lookup.SecretKey != ""
}
