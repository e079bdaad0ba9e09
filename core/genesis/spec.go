package genesis

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"solbox/crypto"
	"solbox/native/giftcard"
)

// Spec is the operator-facing description of a new store. Addresses are
// bech32 strings and every field except Owner and Custody is optional.
type Spec struct {
	Owner                string            `json:"owner" toml:"Owner"`
	Custody              string            `json:"custody" toml:"Custody"`
	ReferralLimit        *uint32           `json:"referralLimit,omitempty" toml:"ReferralLimit,omitempty"`
	CommissionPercentage *uint8            `json:"commissionPercentage,omitempty" toml:"CommissionPercentage,omitempty"`
	BonusPercentage      *uint8            `json:"bonusPercentage,omitempty" toml:"BonusPercentage,omitempty"`
	BonusRecipient       string            `json:"bonusRecipient,omitempty" toml:"BonusRecipient,omitempty"`
	ValidAmounts         []uint64          `json:"validAmounts,omitempty" toml:"ValidAmounts,omitempty"`
	Alloc                map[string]uint64 `json:"alloc,omitempty" toml:"-"`
	Allocations          []AllocSpec       `json:"-" toml:"Alloc,omitempty"`
}

// AllocSpec is a TOML friendly balance seed.
type AllocSpec struct {
	Address string `toml:"Address"`
	Balance uint64 `toml:"Balance"`
}

// Allocation seeds a spendable balance at bootstrap.
type Allocation struct {
	Address [20]byte
	Balance uint64
}

// Genesis is a resolved Spec.
type Genesis struct {
	Owner   [20]byte
	Custody [20]byte
	Config  giftcard.Config
	Alloc   []Allocation
}

// Load reads a JSON genesis file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var spec Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	return &spec, nil
}

// Resolve decodes addresses, applies defaults and validates the result.
func (s *Spec) Resolve() (*Genesis, error) {
	if s == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	owner, err := crypto.ParseIdentity(strings.TrimSpace(s.Owner))
	if err != nil {
		return nil, fmt.Errorf("genesis owner: %w", err)
	}
	custody, err := crypto.ParseIdentity(strings.TrimSpace(s.Custody))
	if err != nil {
		return nil, fmt.Errorf("genesis custody: %w", err)
	}

	cfg := giftcard.DefaultConfig()
	if s.ReferralLimit != nil {
		cfg.ReferralLimit = *s.ReferralLimit
	}
	if s.CommissionPercentage != nil {
		cfg.CommissionPercentage = *s.CommissionPercentage
	}
	if s.BonusPercentage != nil {
		cfg.BonusPercentage = *s.BonusPercentage
	}
	if len(s.ValidAmounts) > 0 {
		cfg.ValidAmounts = append([]uint64(nil), s.ValidAmounts...)
	}
	if trimmed := strings.TrimSpace(s.BonusRecipient); trimmed != "" {
		if cfg.BonusRecipient, err = crypto.ParseIdentity(trimmed); err != nil {
			return nil, fmt.Errorf("genesis bonus recipient: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seeds := make(map[string]uint64, len(s.Alloc)+len(s.Allocations))
	for addr, balance := range s.Alloc {
		seeds[strings.TrimSpace(addr)] += balance
	}
	for _, a := range s.Allocations {
		seeds[strings.TrimSpace(a.Address)] += a.Balance
	}
	keys := make([]string, 0, len(seeds))
	for k := range seeds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	alloc := make([]Allocation, 0, len(keys))
	for _, k := range keys {
		addr, err := crypto.ParseIdentity(k)
		if err != nil {
			return nil, fmt.Errorf("genesis alloc %q: %w", k, err)
		}
		alloc = append(alloc, Allocation{Address: addr, Balance: seeds[k]})
	}

	return &Genesis{Owner: owner, Custody: custody, Config: cfg.Normalize(), Alloc: alloc}, nil
}
