package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Venueflow VenueflowConfig `yaml:"venueflow"`
	Venues    VenuesConfig    `yaml:"venues"`
	Stream    StreamConfig    `yaml:"stream"`
	Execution ExecutionConfig `yaml:"execution"`
	Sync      SyncConfig      `yaml:"sync"`
	Storage   StorageConfig   `yaml:"storage"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type VenueflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type VenuesConfig struct {
	Binance        VenueConfig `yaml:"binance"`
	BinanceFutures VenueConfig `yaml:"binancefutures"`
	Bybit          VenueConfig `yaml:"bybit"`
	Kucoin         VenueConfig `yaml:"kucoin"`
}

// VenueConfig holds per-venue endpoints and limits. Empty URLs fall back
// to the venue defaults compiled into the adapter.
type VenueConfig struct {
	Enabled        bool            `yaml:"enabled"`
	RestURL        string          `yaml:"rest_url"`
	WsURL          string          `yaml:"ws_url"`
	SandboxRestURL string          `yaml:"sandbox_rest_url"`
	SandboxWsURL   string          `yaml:"sandbox_ws_url"`
	RecvWindowMs   int             `yaml:"recv_window_ms"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Credentials    CredentialRef   `yaml:"credentials"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

// CredentialRef points at encrypted credential material. Values are
// AES-GCM ciphertexts decrypted with the process encryption key, or env
// var references resolved at load time via ${VAR} expansion.
type CredentialRef struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Passphrase string `yaml:"passphrase"`
	Sandbox    bool   `yaml:"sandbox"`
}

type StreamConfig struct {
	PingInterval    time.Duration `yaml:"ping_interval"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	SilenceTimeout  time.Duration `yaml:"silence_timeout"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	MaxReconnects   int           `yaml:"max_reconnects"`
	EventBufferSize int           `yaml:"event_buffer_size"`
}

type ExecutionConfig struct {
	SandboxFallback bool          `yaml:"sandbox_fallback"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type SyncConfig struct {
	PollingInterval   time.Duration `yaml:"polling_interval"`
	EnablePersistence bool          `yaml:"enable_persistence"`
	Exchanges         []string      `yaml:"exchanges"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	Prefix          string        `yaml:"prefix"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
}

type SecurityConfig struct {
	// EncryptionKeyEnv names the environment variable that holds the
	// process-wide credential encryption key (hex, 32 bytes).
	EncryptionKeyEnv string `yaml:"encryption_key_env"`
}

type LoggingConfig struct {
	Level               string `yaml:"level"`
	Format              string `yaml:"format"`
	Output              string `yaml:"output"`
	MaxAge              int    `yaml:"max_age"`
	CloudwatchRegion    string `yaml:"cloudwatch_region"`
	CloudwatchNamespace string `yaml:"cloudwatch_namespace"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnv(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envVarPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Stream: StreamConfig{
			PingInterval:    20 * time.Second,
			WriteTimeout:    10 * time.Second,
			SilenceTimeout:  60 * time.Second,
			BackoffBase:     time.Second,
			BackoffMax:      30 * time.Second,
			EventBufferSize: 1024,
		},
		Execution: ExecutionConfig{
			SandboxFallback: true,
			RequestTimeout:  15 * time.Second,
		},
		Sync: SyncConfig{
			PollingInterval: time.Minute,
			RetryAttempts:   3,
			RetryDelay:      2 * time.Second,
		},
		Security: SecurityConfig{
			EncryptionKeyEnv: "VENUEFLOW_ENCRYPTION_KEY",
		},
	}
	if err := yaml.Unmarshal(expandEnv(data), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// EnabledVenues lists the venue names switched on in the configuration.
func (c *Config) EnabledVenues() []string {
	var names []string
	for name, vc := range map[string]VenueConfig{
		"binance":        c.Venues.Binance,
		"binancefutures": c.Venues.BinanceFutures,
		"bybit":          c.Venues.Bybit,
		"kucoin":         c.Venues.Kucoin,
	} {
		if vc.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// Venue returns the section for a venue name.
func (c *Config) Venue(name string) (VenueConfig, bool) {
	switch name {
	case "binance":
		return c.Venues.Binance, true
	case "binancefutures":
		return c.Venues.BinanceFutures, true
	case "bybit":
		return c.Venues.Bybit, true
	case "kucoin":
		return c.Venues.Kucoin, true
	}
	return VenueConfig{}, false
}

func validateConfig(cfg *Config) error {
	if cfg.Venueflow.Name == "" {
		return fmt.Errorf("venueflow.name is required")
	}
	if cfg.Venueflow.Version == "" {
		return fmt.Errorf("venueflow.version is required")
	}

	// Missing required security material is fatal at startup, not
	// deferred to first use.
	enabled := cfg.EnabledVenues()
	if len(enabled) > 0 {
		if cfg.Security.EncryptionKeyEnv == "" {
			return fmt.Errorf("security.encryption_key_env is required when venues are enabled")
		}
		if os.Getenv(cfg.Security.EncryptionKeyEnv) == "" {
			return fmt.Errorf("encryption key env %s is not set", cfg.Security.EncryptionKeyEnv)
		}
	}
	for _, name := range enabled {
		vc, _ := cfg.Venue(name)
		if vc.Credentials.APIKey == "" || vc.Credentials.APISecret == "" {
			return fmt.Errorf("venues.%s.credentials are required when the venue is enabled", name)
		}
		if name == "kucoin" && vc.Credentials.Passphrase == "" {
			return fmt.Errorf("venues.kucoin.credentials.passphrase is required")
		}
	}

	for _, name := range cfg.Sync.Exchanges {
		if _, ok := cfg.Venue(name); !ok {
			return fmt.Errorf("sync.exchanges contains unknown venue %q", name)
		}
	}
	if cfg.Sync.PollingInterval <= 0 {
		return fmt.Errorf("sync.polling_interval must be greater than 0")
	}
	if cfg.Sync.RetryAttempts < 0 {
		return fmt.Errorf("sync.retry_attempts must not be negative")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
