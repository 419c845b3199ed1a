package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/native/escrow"
)

const (
	// EnvEnvironment overrides Config.Environment.
	EnvEnvironment = "FLYBLOX_ENV"
	// EnvJWTSecret overrides RPC.JWTSecret so the secret can stay out of the file.
	EnvJWTSecret = "FLYBLOX_RPC_JWT_SECRET"
	// EnvWebhookSecret overrides Webhooks.Secret.
	EnvWebhookSecret = "FLYBLOX_WEBHOOK_SECRET"
)

type Config struct {
	ListenAddress string    `toml:"ListenAddress"`
	DataDir       string    `toml:"DataDir"`
	Environment   string    `toml:"Environment"`
	GenesisFile   string    `toml:"GenesisFile"`
	Escrow        Escrow    `toml:"Escrow"`
	RPC           RPC       `toml:"RPC"`
	Storage       Storage   `toml:"Storage"`
	Indexer       Indexer   `toml:"Indexer"`
	Logging       Logging   `toml:"Logging"`
	Telemetry     Telemetry `toml:"Telemetry"`
	Webhooks      Webhooks  `toml:"Webhooks"`
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		ListenAddress: ":8545",
		DataDir:       "./flyblox-data",
		Environment:   "dev",
		Escrow: Escrow{
			RequireExtensionConsent: true,
			MaxHoldingPeriodSeconds: escrow.DefaultMaxHoldingPeriod,
			SolvencyCheckInterval:   "5m",
		},
		RPC: RPC{
			JWTIssuer:         "flyblox",
			JWTAudience:       "flyblox-rpc",
			RequestsPerMinute: 600,
			Burst:             60,
			ReadTimeoutSecs:   15,
			WriteTimeoutSecs:  15,
		},
		Storage: Storage{Backend: "leveldb"},
		Indexer: Indexer{Driver: "sqlite", DSN: "indexer.db"},
		Logging: Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30},
		Telemetry: Telemetry{
			Endpoint: "localhost:4318",
			Insecure: true,
		},
	}
}

// Load loads the configuration from the given path, writing the defaults
// there first if the file does not exist. Unknown keys are rejected and
// environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err := createDefault(path)
		if err != nil {
			return nil, err
		}
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if env := strings.TrimSpace(os.Getenv(EnvEnvironment)); env != "" {
		c.Environment = env
	}
	if secret := os.Getenv(EnvJWTSecret); secret != "" {
		c.RPC.JWTSecret = secret
	}
	if secret := os.Getenv(EnvWebhookSecret); secret != "" {
		c.Webhooks.Secret = secret
	}
}

// ResolvePath interprets p relative to DataDir unless it is absolute.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// EscrowConfig converts the [Escrow] section into the engine policy.
func (c *Config) EscrowConfig() escrow.Config {
	return escrow.Config{
		RequireExtensionConsent: c.Escrow.RequireExtensionConsent,
		MaxHoldingPeriod:        c.Escrow.MaxHoldingPeriodSeconds,
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
