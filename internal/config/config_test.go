package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Agent.LogLevel != "warn" {
		t.Errorf("Agent.LogLevel = %s, want warn", cfg.Agent.LogLevel)
	}
	if cfg.Lookup.Region != "us-east-1" {
		t.Errorf("Lookup.Region = %s, want us-east-1", cfg.Lookup.Region)
	}
	if cfg.Lookup.Service != "execute-api" {
		t.Errorf("Lookup.Service = %s, want execute-api", cfg.Lookup.Service)
	}
	if cfg.Lookup.Timeout != 10*time.Second {
		t.Errorf("Lookup.Timeout = %v, want 10s", cfg.Lookup.Timeout)
	}
	if cfg.Lookup.PollInterval != 500*time.Millisecond {
		t.Errorf("Lookup.PollInterval = %v, want 500ms", cfg.Lookup.PollInterval)
	}
	if cfg.Transfer.ConnectTimeout != 5*time.Second {
		t.Errorf("Transfer.ConnectTimeout = %v, want 5s", cfg.Transfer.ConnectTimeout)
	}
	if cfg.Agent.DataDir == "" {
		t.Error("Agent.DataDir is empty")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
agent:
  data_dir: "/var/lib/flingr"
  log_level: "debug"
  log_format: "json"

lookup:
  base_url: "https://lookup.example.com/prod"
  access_key: "AKIDEXAMPLE"
  secret_key: "s3cret"
  timeout: 20s
  poll_interval: 1s

transfer:
  connect_timeout: 3s
  remote_name: "inbox.bin"
  chunk_size: "64KiB"
  rate_limit: "1MiB"

metrics:
  enabled: true
  address: "127.0.0.1:9100"
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Agent.DataDir != "/var/lib/flingr" {
		t.Errorf("Agent.DataDir = %s, want /var/lib/flingr", cfg.Agent.DataDir)
	}
	if cfg.Agent.LogFormat != "json" {
		t.Errorf("Agent.LogFormat = %s, want json", cfg.Agent.LogFormat)
	}
	if cfg.Lookup.BaseURL != "https://lookup.example.com/prod" {
		t.Errorf("Lookup.BaseURL = %s", cfg.Lookup.BaseURL)
	}
	if cfg.Lookup.Path != "/FlingrRegistration" {
		t.Errorf("Lookup.Path = %s, want default /FlingrRegistration", cfg.Lookup.Path)
	}
	if cfg.Lookup.Timeout != 20*time.Second {
		t.Errorf("Lookup.Timeout = %v, want 20s", cfg.Lookup.Timeout)
	}
	if cfg.Transfer.RemoteName != "inbox.bin" {
		t.Errorf("Transfer.RemoteName = %s, want inbox.bin", cfg.Transfer.RemoteName)
	}
	if n, _ := cfg.ChunkSizeBytes(); n != 64*1024 {
		t.Errorf("ChunkSizeBytes() = %d, want %d", n, 64*1024)
	}
	if n, _ := cfg.RateLimitBytes(); n != 1024*1024 {
		t.Errorf("RateLimitBytes() = %d, want %d", n, 1024*1024)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Address != "127.0.0.1:9100" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("agent: [unclosed")); err == nil {
		t.Error("Parse() should fail on invalid YAML")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"empty data dir", func(c *Config) { c.Agent.DataDir = "" }, "agent.data_dir is required"},
		{"bad log level", func(c *Config) { c.Agent.LogLevel = "trace" }, "invalid log_level"},
		{"bad log format", func(c *Config) { c.Agent.LogFormat = "xml" }, "invalid log_format"},
		{"no base url", func(c *Config) { c.Lookup.BaseURL = "" }, "lookup.base_url"},
		{"ftp base url", func(c *Config) { c.Lookup.BaseURL = "ftp://x/y" }, "scheme must be http or https"},
		{"no region", func(c *Config) { c.Lookup.Region = "" }, "lookup.region is required"},
		{"no service", func(c *Config) { c.Lookup.Service = "" }, "lookup.service is required"},
		{"negative timeout", func(c *Config) { c.Lookup.Timeout = -time.Second }, "lookup.timeout"},
		{"zero poll", func(c *Config) { c.Lookup.PollInterval = 0 }, "lookup.poll_interval"},
		{"zero request timeout", func(c *Config) { c.Lookup.RequestTimeout = 0 }, "lookup.request_timeout"},
		{"zero connect timeout", func(c *Config) { c.Transfer.ConnectTimeout = 0 }, "transfer.connect_timeout"},
		{"remote path", func(c *Config) { c.Transfer.RemoteName = "../etc/passwd" }, "bare file name"},
		{"tiny chunk", func(c *Config) { c.Transfer.ChunkSize = "10" }, "transfer.chunk_size"},
		{"bad rate", func(c *Config) { c.Transfer.RateLimit = "fast" }, "transfer.rate_limit"},
		{"bad metrics address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Address = "nope" }, "metrics.address"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Agent.LogLevel = "loud"
	cfg.Lookup.Region = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if !strings.Contains(err.Error(), "log_level") || !strings.Contains(err.Error(), "lookup.region") {
		t.Errorf("Validate() = %v, want both problems listed", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FLINGR_TEST_SECRET", "from-env")

	tests := []struct {
		in   string
		want string
	}{
		{"secret_key: ${FLINGR_TEST_SECRET}", "secret_key: from-env"},
		{"secret_key: $FLINGR_TEST_SECRET", "secret_key: from-env"},
		{"region: ${FLINGR_TEST_UNSET:-eu-west-1}", "region: eu-west-1"},
		{"secret_key: ${FLINGR_TEST_SECRET:-fallback}", "secret_key: from-env"},
		{"x: ${FLINGR_TEST_UNSET}", "x: ${FLINGR_TEST_UNSET}"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("FLINGR_TEST_ACCESS", "AKIDFROMENV")

	path := filepath.Join(t.TempDir(), "flingr.yaml")
	content := "lookup:\n  access_key: \"${FLINGR_TEST_ACCESS}\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Lookup.AccessKey != "AKIDFROMENV" {
		t.Errorf("Lookup.AccessKey = %s, want AKIDFROMENV", cfg.Lookup.AccessKey)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.Lookup.AccessKey = "AKIDEXAMPLE"
	cfg.Lookup.SecretKey = "s3cret"

	if !cfg.HasSensitiveData() {
		t.Error("HasSensitiveData() = false with keys set")
	}

	r := cfg.Redacted()
	if r.Lookup.SecretKey != redactedValue || r.Lookup.AccessKey != redactedValue {
		t.Errorf("Redacted() lookup = %+v", r.Lookup)
	}
	if cfg.Lookup.SecretKey != "s3cret" {
		t.Error("Redacted() modified the original")
	}

	s := cfg.String()
	if strings.Contains(s, "s3cret") || strings.Contains(s, "AKIDEXAMPLE") {
		t.Errorf("String() leaks credentials:\n%s", s)
	}
	if !strings.Contains(s, redactedValue) {
		t.Errorf("String() missing placeholder:\n%s", s)
	}
}

func TestRateLimitBytes_EmptyIsUnlimited(t *testing.T) {
	cfg := Default()
	n, err := cfg.RateLimitBytes()
	if err != nil || n != 0 {
		t.Errorf("RateLimitBytes() = %d, %v; want 0, nil", n, err)
	}
}
