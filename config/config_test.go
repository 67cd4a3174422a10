package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

const minimalConfig = `
venueflow:
  name: venueflow
  version: "1.0.0"
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Stream.PingInterval != 20*time.Second {
		t.Errorf("stream.ping_interval default = %v", cfg.Stream.PingInterval)
	}
	if !cfg.Execution.SandboxFallback {
		t.Error("execution.sandbox_fallback must default to true")
	}
	if cfg.Sync.PollingInterval != time.Minute {
		t.Errorf("sync.polling_interval default = %v", cfg.Sync.PollingInterval)
	}
	if cfg.Security.EncryptionKeyEnv != "VENUEFLOW_ENCRYPTION_KEY" {
		t.Errorf("security.encryption_key_env default = %q", cfg.Security.EncryptionKeyEnv)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("VENUEFLOW_ENCRYPTION_KEY", "abc123")
	t.Setenv("TEST_BINANCE_KEY", "key-from-env")
	t.Setenv("TEST_BINANCE_SECRET", "secret-from-env")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig+`
venues:
  binance:
    enabled: true
    credentials:
      api_key: ${TEST_BINANCE_KEY}
      api_secret: ${TEST_BINANCE_SECRET}
`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Venues.Binance.Credentials.APIKey != "key-from-env" {
		t.Errorf("api_key = %q, want expansion from env", cfg.Venues.Binance.Credentials.APIKey)
	}
	if got := cfg.EnabledVenues(); len(got) != 1 || got[0] != "binance" {
		t.Errorf("EnabledVenues = %v", got)
	}
}

func TestLoadConfigRequiresCredentialsForEnabledVenues(t *testing.T) {
	t.Setenv("VENUEFLOW_ENCRYPTION_KEY", "abc123")

	_, err := LoadConfig(writeConfig(t, minimalConfig+`
venues:
  bybit:
    enabled: true
`))
	if err == nil {
		t.Fatal("enabled venue without credentials must fail validation")
	}
}

func TestLoadConfigRequiresEncryptionKey(t *testing.T) {
	t.Setenv("VENUEFLOW_ENCRYPTION_KEY", "")

	_, err := LoadConfig(writeConfig(t, minimalConfig+`
venues:
  binance:
    enabled: true
    credentials:
      api_key: k
      api_secret: s
`))
	if err == nil {
		t.Fatal("enabled venues without the encryption key must fail at startup")
	}
}

func TestLoadConfigKucoinNeedsPassphrase(t *testing.T) {
	t.Setenv("VENUEFLOW_ENCRYPTION_KEY", "abc123")

	_, err := LoadConfig(writeConfig(t, minimalConfig+`
venues:
  kucoin:
    enabled: true
    credentials:
      api_key: k
      api_secret: s
`))
	if err == nil {
		t.Fatal("kucoin without a passphrase must fail validation")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing name", `
venueflow:
  version: "1.0.0"
`},
		{"unknown sync venue", minimalConfig + `
sync:
  exchanges: [binance, hyperliquid]
`},
		{"zero polling interval", minimalConfig + `
sync:
  polling_interval: 0s
`},
		{"s3 without bucket", minimalConfig + `
storage:
  s3:
    enabled: true
    region: us-east-1
`},
		{"invalid bucket name", minimalConfig + `
storage:
  s3:
    enabled: true
    region: us-east-1
    bucket: "Bad_Bucket"
`},
	}
	for _, tt := range tests {
		if _, err := LoadConfig(writeConfig(t, tt.yaml)); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestIsValidS3Bucket(t *testing.T) {
	valid := []string{"my-bucket", "data.lake.01", "abc"}
	for _, b := range valid {
		if !isValidS3Bucket(b) {
			t.Errorf("%q should be valid", b)
		}
	}
	invalid := []string{"ab", "UPPER", "has_underscore", ".leading", "trailing.", "double..dot"}
	for _, b := range invalid {
		if isValidS3Bucket(b) {
			t.Errorf("%q should be invalid", b)
		}
	}
}
