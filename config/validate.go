package config

import (
	"fmt"
	"strings"

	"solbox/storage"
)

var knownBackends = map[string]struct{}{
	storage.BackendMemory:  {},
	storage.BackendLevelDB: {},
	storage.BackendBolt:    {},
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config must not be nil")
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("RPCAddress must be set")
	}
	if _, ok := knownBackends[strings.ToLower(strings.TrimSpace(c.Storage.Backend))]; !ok {
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if len(strings.TrimSpace(c.Auth.HMACSecret)) < 16 {
		return fmt.Errorf("auth: HMACSecret must be at least 16 characters")
	}
	if c.Auth.ClockSkew.Duration < 0 {
		return fmt.Errorf("auth: ClockSkew must not be negative")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit: values must not be negative")
	}
	if _, err := c.Genesis(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}
