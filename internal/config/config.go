// Package config loads the server's typed configuration from a TOML file,
// with environment variables overriding the secret-bearing fields (spec.md
// §6).
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// NostrConfig configures this server's own Nostr identity and relay set.
type NostrConfig struct {
	PrivateKey  string   `toml:"private_key"`
	Relays      []string `toml:"relays"`
	SubkeyProof string   `toml:"subkey_proof,omitempty"`
}

// AuthConfig configures the static token clients must present first
// (spec.md §4.7).
type AuthConfig struct {
	AuthToken string `toml:"auth_token"`
}

// WalletConfig selects and configures the wallet backend (spec.md §4.6).
type WalletConfig struct {
	Kind       string            `toml:"kind"` // "none" | "file" | "nwc"
	FilePath   string            `toml:"file_path,omitempty"`
	ServiceKey string            `toml:"service_key,omitempty"` // nwc
	Extra      map[string]string `toml:"extra,omitempty"`
}

// MintConfig configures the default Cashu mint. When DefaultMintURL is set,
// the server uses an HTTP mint adapter (which sends Burn to this URL) instead
// of the unconfigured one; Mint calls and RequestCashu do not fall back to it.
type MintConfig struct {
	DefaultMintURL string `toml:"default_mint_url,omitempty"`
}

// TelemetryConfig configures the optional OTLP metrics exporter.
type TelemetryConfig struct {
	OTLPEndpoint string `toml:"otlp_endpoint,omitempty"`
}

// Config is this server's complete configuration (spec.md §6). The exact
// TOML shape is not a stable external contract (the spec calls this out as
// a non-goal); only the fact that a typed loader exists is load-bearing.
type Config struct {
	Listen    string          `toml:"listen"`
	Nostr     NostrConfig     `toml:"nostr"`
	Auth      AuthConfig      `toml:"auth"`
	Wallet    WalletConfig    `toml:"wallet"`
	Mint      MintConfig      `toml:"mint"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// envPrivateKey and envAuthToken let an operator keep secrets out of the
// TOML file entirely, overriding whatever the file contains.
const (
	envPrivateKey = "PORTAL_NOSTR_PRIVATE_KEY"
	envAuthToken  = "PORTAL_AUTH_TOKEN"
)

// Load reads and parses the TOML config file at path, then applies
// environment variable overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if v := os.Getenv(envPrivateKey); v != "" {
		cfg.Nostr.PrivateKey = v
	}
	if v := os.Getenv(envAuthToken); v != "" {
		cfg.Auth.AuthToken = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.Nostr.PrivateKey == "" {
		return fmt.Errorf("config: nostr private key is required (set nostr.private_key or %s)", envPrivateKey)
	}
	if len(c.Nostr.Relays) == 0 {
		return fmt.Errorf("config: at least one relay is required")
	}
	if c.Auth.AuthToken == "" {
		return fmt.Errorf("config: auth token is required (set auth.auth_token or %s)", envAuthToken)
	}
	switch c.Wallet.Kind {
	case "", "none", "file", "nwc":
	default:
		return fmt.Errorf("config: unknown wallet kind %q", c.Wallet.Kind)
	}
	return nil
}
