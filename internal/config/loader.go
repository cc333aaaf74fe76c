package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):.
//  1. defaults (New())
//  2. file (YAML) if FOUNDLAB_CONFIG is set
//  3. env (prefix FOUNDLAB_)
func Load() (*Config, error) {
	// Start with defaults
	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("FOUNDLAB_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: FOUNDLAB_ADDR, FOUNDLAB_AUDIT_QUEUE_SIZE, ...
	// Map env keys like FOUNDLAB_AUDIT_QUEUE_SIZE -> audit_queue_size
	// (flat keys). Preserve underscores to match koanf tags on the struct.
	envProvider := env.Provider("FOUNDLAB_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "foundlab_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects configurations the service cannot run with.
func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.ScoreMin >= c.ScoreMax:
		return fmt.Errorf("%w: score_min must be below score_max", ErrInvalidConfig)
	case c.BaseScore < c.ScoreMin || c.BaseScore > c.ScoreMax:
		return fmt.Errorf("%w: base_score must lie within the score bounds", ErrInvalidConfig)
	case c.GasSpikeMultiplier <= 1:
		return fmt.Errorf("%w: gas_spike_multiplier must exceed 1", ErrInvalidConfig)
	case c.GasLookbackDays <= 0:
		return fmt.Errorf("%w: gas_lookback_days must be positive", ErrInvalidConfig)
	}
	return nil
}
