// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() initializer to build a Config with defaults.
// - Layer file and environment overrides on top via Load.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// PostgresDSN selects the durable store. Empty keeps the in-memory store.
	PostgresDSN string `koanf:"postgres_dsn"`

	// AuditQueueSize bounds the in-memory audit event queue.
	AuditQueueSize int `koanf:"audit_queue_size"`

	// AuditWorkerCount sets the number of audit drain workers.
	AuditWorkerCount int `koanf:"audit_worker_count"`

	// BaseScore is the default starting score for computations that do not
	// supply one.
	BaseScore float64 `koanf:"base_score"`

	// ScoreMin and ScoreMax bound the final computed score.
	ScoreMin float64 `koanf:"score_min"`
	ScoreMax float64 `koanf:"score_max"`

	// MaxHistoryLimit caps list endpoints' limit parameter.
	MaxHistoryLimit int `koanf:"max_history_limit"`

	// GasSpikeMultiplier flags gas usage above multiplier * window average.
	GasSpikeMultiplier float64 `koanf:"gas_spike_multiplier"`

	// GasSpikeMinGas is the absolute floor below which usage is never flagged.
	GasSpikeMinGas float64 `koanf:"gas_spike_min_gas"`

	// GasLookbackDays is the default analysis window.
	GasLookbackDays int `koanf:"gas_lookback_days"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		Addr:               ":8080",
		AuditQueueSize:     100_000,
		AuditWorkerCount:   runtime.NumCPU() * 2,
		BaseScore:          0.5,
		ScoreMin:           0.0,
		ScoreMax:           1.0,
		MaxHistoryLimit:    100,
		GasSpikeMultiplier: 4.0,
		GasSpikeMinGas:     100_000,
		GasLookbackDays:    30,
	}
}
