package giftcard

import (
	"errors"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestNormalize(t *testing.T) {
	cfg := Config{ValidAmounts: []uint64{30, 10, 30, 20}}
	norm := cfg.Normalize()
	want := []uint64{10, 20, 30}
	if len(norm.ValidAmounts) != len(want) {
		t.Fatalf("normalized %v", norm.ValidAmounts)
	}
	for i := range want {
		if norm.ValidAmounts[i] != want[i] {
			t.Fatalf("normalized %v", norm.ValidAmounts)
		}
	}
	if cfg.ValidAmounts[0] != 30 {
		t.Fatalf("normalize mutated the receiver")
	}
	if !norm.Accepts(20) || norm.Accepts(25) {
		t.Fatalf("accepts mismatch")
	}
}

func TestValidate(t *testing.T) {
	base := DefaultConfig()
	mutate := map[string]func(*Config){
		"limit":      func(c *Config) { c.ReferralLimit = 0 },
		"commission": func(c *Config) { c.CommissionPercentage = 101 },
		"bonus":      func(c *Config) { c.BonusPercentage = 101 },
		"sum":        func(c *Config) { c.CommissionPercentage, c.BonusPercentage = 60, 41 },
		"catalogue":  func(c *Config) { c.ValidAmounts = nil },
		"zero":       func(c *Config) { c.ValidAmounts = []uint64{0} },
	}
	for name, fn := range mutate {
		t.Run(name, func(t *testing.T) {
			cfg := base.Clone()
			fn(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
	edge := base.Clone()
	edge.CommissionPercentage, edge.BonusPercentage = 95, 5
	if err := edge.Validate(); err != nil {
		t.Fatalf("100 percent total should be valid: %v", err)
	}
}
