// Package config holds the run configuration. It is built once at process
// start and passed down; nothing else reads the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names.
const (
	EnvSkipDownloads  = "SKIP_DOWNLOADS"
	EnvToken          = "HF_TOKEN"
	EnvStorageRoot    = "ASSETDOCK_STORAGE_ROOT"
	EnvStateDir       = "ASSETDOCK_STATE_DIR"
	EnvConcurrency    = "ASSETDOCK_CONCURRENCY"
	EnvRetries        = "ASSETDOCK_RETRIES"
	EnvTimeout        = "ASSETDOCK_TIMEOUT"
	EnvStallTimeout   = "ASSETDOCK_STALL_TIMEOUT"
	EnvResolveTimeout = "ASSETDOCK_RESOLVE_TIMEOUT"
	EnvMaxRate        = "ASSETDOCK_MAX_RATE"
	EnvVerify         = "ASSETDOCK_VERIFY"
	EnvOwner          = "ASSETDOCK_OWNER"
	EnvLogFormat      = "LOG_FORMAT"
	EnvLogLevel       = "LOG_LEVEL"
	EnvS3Endpoint     = "S3_ENDPOINT_URL"
	EnvS3Region       = "S3_REGION"
	EnvS3AccessKey    = "S3_ACCESS_KEY_ID"
	EnvS3SecretKey    = "S3_SECRET_ACCESS_KEY"
)

// S3 configures object store sources. Empty fields fall back to the AWS
// default credential and region chain.
type S3 struct {
	Endpoint        string `yaml:"endpoint,omitempty"`
	Region          string `yaml:"region,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
}

// Config is the full run configuration.
type Config struct {
	StorageRoot string `yaml:"storage_root"`
	StateDir    string `yaml:"state_dir"`

	// SkipDownloads short-circuits every asset download of a layer.
	SkipDownloads bool `yaml:"skip_downloads"`
	// Token is the bearer token for token-gated hosts.
	Token string `yaml:"-"`

	Concurrency    int           `yaml:"concurrency"`
	Retries        int           `yaml:"retries"`
	Timeout        time.Duration `yaml:"timeout"`
	StallTimeout   time.Duration `yaml:"stall_timeout"`
	// ResolveTimeout bounds each marketplace filename probe.
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
	MaxBytesPerSec int64         `yaml:"max_bytes_per_sec"`
	BufferSize     int           `yaml:"buffer_size"`
	Verify         bool          `yaml:"verify"`
	UserAgent      string        `yaml:"user_agent"`

	MarketplaceHosts []string `yaml:"marketplace_hosts"`
	TokenGatedHosts  []string `yaml:"token_gated_hosts"`

	// FailOnMissingAssets turns any asset failure into a build-fatal error.
	FailOnMissingAssets bool   `yaml:"fail_on_missing_assets"`
	Owner               string `yaml:"owner"`
	MetricsFile         string `yaml:"metrics_file"`

	LogFormat string `yaml:"log_format"`
	LogLevel  string `yaml:"log_level"`

	S3 S3 `yaml:"s3"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		StorageRoot:      "/opt/storage/models",
		StateDir:         "/var/lib/assetdock",
		Concurrency:      4,
		Retries:          3,
		Timeout:          6 * time.Hour,
		StallTimeout:     2 * time.Minute,
		ResolveTimeout:   30 * time.Second,
		BufferSize:       1 * 1024 * 1024,
		UserAgent:        "assetdock/1.0",
		MarketplaceHosts: []string{"civitai.com"},
		TokenGatedHosts:  []string{"huggingface.co"},
		LogFormat:        "console",
		LogLevel:         "info",
	}
}

// LoadFile overlays a YAML file onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment values onto c. Unset variables leave the
// current value in place.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup(EnvSkipDownloads); ok {
		c.SkipDownloads = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	if v, ok := lookup(EnvToken); ok {
		c.Token = strings.TrimSpace(v)
	}
	str(EnvStorageRoot, &c.StorageRoot)
	str(EnvStateDir, &c.StateDir)
	str(EnvOwner, &c.Owner)
	str(EnvLogFormat, &c.LogFormat)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvS3Endpoint, &c.S3.Endpoint)
	str(EnvS3Region, &c.S3.Region)
	str(EnvS3AccessKey, &c.S3.AccessKeyID)
	str(EnvS3SecretKey, &c.S3.SecretAccessKey)

	var errs []error
	if v, ok := lookup(EnvConcurrency); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvConcurrency, err))
		}
		c.Concurrency = n
	}
	if v, ok := lookup(EnvRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvRetries, err))
		}
		c.Retries = n
	}
	if v, ok := lookup(EnvMaxRate); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvMaxRate, err))
		}
		c.MaxBytesPerSec = n
	}
	if v, ok := lookup(EnvTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvTimeout, err))
		}
		c.Timeout = d
	}
	if v, ok := lookup(EnvStallTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvStallTimeout, err))
		}
		c.StallTimeout = d
	}
	if v, ok := lookup(EnvResolveTimeout); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvResolveTimeout, err))
		}
		c.ResolveTimeout = d
	}
	if v, ok := lookup(EnvVerify); ok {
		c.Verify = strings.EqualFold(strings.TrimSpace(v), "true")
	}
	return errors.Join(errs...)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if !filepath.IsAbs(c.StorageRoot) {
		errs = append(errs, fmt.Errorf("storage root %q must be absolute", c.StorageRoot))
	}
	if c.StateDir == "" {
		errs = append(errs, errors.New("state dir must be set"))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must not be negative, got %d", c.Retries))
	}
	if c.Timeout < 0 || c.StallTimeout < 0 || c.ResolveTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MaxBytesPerSec < 0 {
		errs = append(errs, fmt.Errorf("max rate must not be negative, got %d", c.MaxBytesPerSec))
	}
	return errors.Join(errs...)
}

// StatePath is the bbolt database location.
func (c *Config) StatePath() string {
	return filepath.Join(c.StateDir, "state.db")
}
