package config

import "time"

// Escrow captures the lifecycle policy enforced by the escrow engine.
type Escrow struct {
	// RequireExtensionConsent selects the two-step holding extension.
	RequireExtensionConsent bool `toml:"RequireExtensionConsent"`
	// MaxHoldingPeriodSeconds caps holding periods. Zero disables the cap.
	MaxHoldingPeriodSeconds int64 `toml:"MaxHoldingPeriodSeconds"`
	// Arbiter resolves disputes. Empty falls back to the registry owner.
	Arbiter string `toml:"Arbiter"`
	// SolvencyCheckInterval is a Go duration string, e.g. "5m". Empty or "0"
	// disables the periodic audit.
	SolvencyCheckInterval string `toml:"SolvencyCheckInterval"`
}

// SolvencyInterval parses SolvencyCheckInterval.
func (e Escrow) SolvencyInterval() (time.Duration, error) {
	if e.SolvencyCheckInterval == "" {
		return 0, nil
	}
	return time.ParseDuration(e.SolvencyCheckInterval)
}

// RPC controls the JSON-RPC listener and its authentication.
type RPC struct {
	JWTSecret         string   `toml:"JWTSecret"`
	JWTIssuer         string   `toml:"JWTIssuer"`
	JWTAudience       string   `toml:"JWTAudience"`
	RequestsPerMinute int      `toml:"RequestsPerMinute"`
	Burst             int      `toml:"Burst"`
	AllowedOrigins    []string `toml:"AllowedOrigins"`
	ReadTimeoutSecs   int      `toml:"ReadTimeoutSecs"`
	WriteTimeoutSecs  int      `toml:"WriteTimeoutSecs"`
}

// Storage selects the state database backend.
type Storage struct {
	// Backend is leveldb, bolt or memory.
	Backend string `toml:"Backend"`
}

// Indexer configures the event and idempotency store.
type Indexer struct {
	// Driver is sqlite or postgres.
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

// Logging mirrors logging.Options.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Webhooks configures merchant event delivery. An empty Endpoint disables it.
type Webhooks struct {
	Endpoint      string   `toml:"Endpoint"`
	Secret        string   `toml:"Secret"`
	EventPrefixes []string `toml:"EventPrefixes"`
}
