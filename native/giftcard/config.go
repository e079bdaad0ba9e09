package giftcard

import (
	"fmt"
	"slices"
)

const percentDenominator = 100

// DefaultValidAmounts is the catalogue shipped with new stores.
var DefaultValidAmounts = []uint64{200_000_000, 1_000_000_000, 3_000_000_000}

const (
	DefaultReferralLimit        = 3
	DefaultCommissionPercentage = 90
	DefaultBonusPercentage      = 5
)

// Config holds the tunable sale parameters of a store.
type Config struct {
	ReferralLimit        uint32
	CommissionPercentage uint8
	BonusPercentage      uint8
	ValidAmounts         []uint64
	// BonusRecipient receives the bonus share. When zero the bonus is never
	// debited from the buyer.
	BonusRecipient [20]byte
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		ReferralLimit:        DefaultReferralLimit,
		CommissionPercentage: DefaultCommissionPercentage,
		BonusPercentage:      DefaultBonusPercentage,
		ValidAmounts:         append([]uint64(nil), DefaultValidAmounts...),
	}
}

// Clone returns a deep copy of the config.
func (c Config) Clone() Config {
	clone := c
	clone.ValidAmounts = append([]uint64(nil), c.ValidAmounts...)
	return clone
}

// Normalize returns a copy with the catalogue sorted and deduplicated.
func (c Config) Normalize() Config {
	clone := c.Clone()
	slices.Sort(clone.ValidAmounts)
	clone.ValidAmounts = slices.Compact(clone.ValidAmounts)
	return clone
}

// Validate rejects degenerate configurations.
func (c Config) Validate() error {
	if c.ReferralLimit == 0 {
		return fmt.Errorf("%w: referral limit must be positive", ErrInvalidConfig)
	}
	if c.CommissionPercentage > percentDenominator {
		return fmt.Errorf("%w: commission percentage %d exceeds 100", ErrInvalidConfig, c.CommissionPercentage)
	}
	if c.BonusPercentage > percentDenominator {
		return fmt.Errorf("%w: bonus percentage %d exceeds 100", ErrInvalidConfig, c.BonusPercentage)
	}
	if int(c.CommissionPercentage)+int(c.BonusPercentage) > percentDenominator {
		return fmt.Errorf("%w: commission and bonus exceed 100 percent", ErrInvalidConfig)
	}
	if len(c.ValidAmounts) == 0 {
		return fmt.Errorf("%w: catalogue must list at least one amount", ErrInvalidConfig)
	}
	for _, amount := range c.ValidAmounts {
		if amount == 0 {
			return fmt.Errorf("%w: catalogue amounts must be positive", ErrInvalidConfig)
		}
	}
	return nil
}

// Accepts reports whether amount is in the catalogue. The catalogue must be
// normalized.
func (c Config) Accepts(amount uint64) bool {
	_, found := slices.BinarySearch(c.ValidAmounts, amount)
	return found
}

// BonusPaidOut reports whether the bonus leaves the buyer's balance.
func (c Config) BonusPaidOut() bool {
	return !isZeroAddress(c.BonusRecipient)
}
