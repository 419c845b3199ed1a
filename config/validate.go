package config

import (
	"fmt"
	"strings"

	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/crypto"
	"github.com/HigherAndHigher/Flyblox-Ecommerce-SmartContract/storage"
)

// MinJWTSecretLength is enforced outside the dev environment.
var MinJWTSecretLength = 32

// Validate checks the configuration for values the node cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress must be set")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	if c.Escrow.MaxHoldingPeriodSeconds < 0 {
		return fmt.Errorf("escrow: MaxHoldingPeriodSeconds must not be negative")
	}
	if c.Escrow.Arbiter != "" {
		if _, err := crypto.ParseAddress(c.Escrow.Arbiter); err != nil {
			return fmt.Errorf("escrow: Arbiter: %w", err)
		}
	}
	interval, err := c.Escrow.SolvencyInterval()
	if err != nil {
		return fmt.Errorf("escrow: SolvencyCheckInterval: %w", err)
	}
	if interval < 0 {
		return fmt.Errorf("escrow: SolvencyCheckInterval must not be negative")
	}
	if c.RPC.RequestsPerMinute < 0 || c.RPC.Burst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	if c.RPC.RequestsPerMinute > 0 && c.RPC.Burst == 0 {
		return fmt.Errorf("rpc: Burst must be positive when RequestsPerMinute is set")
	}
	if c.Environment != "dev" && len(c.RPC.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("rpc: JWTSecret must be at least %d bytes outside dev (set %s)", MinJWTSecretLength, EnvJWTSecret)
	}
	switch c.Storage.Backend {
	case "", storage.BackendLevelDB, storage.BackendBolt, storage.BackendMemory:
	default:
		return fmt.Errorf("storage: unknown Backend %q", c.Storage.Backend)
	}
	switch c.Indexer.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("indexer: unknown Driver %q", c.Indexer.Driver)
	}
	if strings.TrimSpace(c.Indexer.DSN) == "" {
		return fmt.Errorf("indexer: DSN must be set")
	}
	if c.Webhooks.Endpoint != "" && c.Webhooks.Secret == "" {
		return fmt.Errorf("webhooks: Secret required when Endpoint is set (or set %s)", EnvWebhookSecret)
	}
	return nil
}
