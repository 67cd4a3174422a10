// Package execution orders the venue adapters behind a single
// submission surface: request validation, balance prechecks, fund
// routing, sandbox credential fallback and order persistence.
package execution

import (
	"fmt"

	appconfig "venueflow/config"
	"venueflow/logger"
	"venueflow/models"
	"venueflow/secrets"
	"venueflow/venues"
	"venueflow/venues/binance"
	"venueflow/venues/binancefutures"
	"venueflow/venues/bybit"
	"venueflow/venues/kucoin"
)

// NewAdapter constructs the adapter for a venue from configuration. The
// venue set is closed; an unknown name fails at setup, not at trade time.
func NewAdapter(name venues.Name, cfg *appconfig.Config, log *logger.Log) (venues.Adapter, error) {
	vcfg, err := VenueConfigFor(cfg, name)
	if err != nil {
		return nil, err
	}
	switch name {
	case venues.Binance:
		return binance.New(vcfg, cfg.Stream, log), nil
	case venues.BinanceFutures:
		return binancefutures.New(vcfg, cfg.Stream, log), nil
	case venues.Bybit:
		return bybit.New(vcfg, cfg.Stream, log), nil
	case venues.Kucoin:
		return kucoin.New(vcfg, cfg.Stream, log), nil
	}
	return nil, fmt.Errorf("no adapter for venue %q", name)
}

// VenueConfigFor selects the per-venue configuration block.
func VenueConfigFor(cfg *appconfig.Config, name venues.Name) (appconfig.VenueConfig, error) {
	switch name {
	case venues.Binance:
		return cfg.Venues.Binance, nil
	case venues.BinanceFutures:
		return cfg.Venues.BinanceFutures, nil
	case venues.Bybit:
		return cfg.Venues.Bybit, nil
	case venues.Kucoin:
		return cfg.Venues.Kucoin, nil
	}
	return appconfig.VenueConfig{}, fmt.Errorf("no configuration for venue %q", name)
}

// CredentialSource produces decrypted credentials for a venue on demand.
// The orchestrator uses it for the one-shot sandbox fallback; plaintext
// is handed straight to Connect and never retained.
type CredentialSource interface {
	Credentials(name venues.Name, sandbox bool) (models.Credentials, error)
}

// KeyringCredentials decrypts the configured credential references with
// the process keyring.
type KeyringCredentials struct {
	cfg     *appconfig.Config
	keyring *secrets.Keyring
}

func NewKeyringCredentials(cfg *appconfig.Config, keyring *secrets.Keyring) *KeyringCredentials {
	return &KeyringCredentials{cfg: cfg, keyring: keyring}
}

func (s *KeyringCredentials) Credentials(name venues.Name, sandbox bool) (models.Credentials, error) {
	vcfg, err := VenueConfigFor(s.cfg, name)
	if err != nil {
		return models.Credentials{}, err
	}
	creds, err := s.keyring.DecryptCredentials(secrets.EncryptedCredentials{
		APIKey:     vcfg.Credentials.APIKey,
		APISecret:  vcfg.Credentials.APISecret,
		Passphrase: vcfg.Credentials.Passphrase,
		Sandbox:    vcfg.Credentials.Sandbox,
	})
	if err != nil {
		return models.Credentials{}, fmt.Errorf("decrypt %s credentials: %w", name, err)
	}
	if sandbox {
		creds.Sandbox = true
	}
	return creds, nil
}
