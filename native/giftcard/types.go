package giftcard

// ModuleName identifies the gift card module for pause checks and metrics.
const ModuleName = "giftcard"

// Store is the single ledger record of a deployed gift card store. Counters
// only ever grow; Config is replaced as a whole.
type Store struct {
	Owner                      [20]byte
	Custody                    [20]byte
	Paused                     bool
	TotalSold                  uint64
	TotalCommissionDistributed uint64
	TotalBonusDistributed      uint64
	ReferralCount              uint64
	Config                     Config
	CreatedAt                  uint64
}

// IsPaused implements common.PauseView.
func (s *Store) IsPaused(module string) bool {
	return s != nil && module == ModuleName && s.Paused
}

// Clone returns a deep copy of the store.
func (s *Store) Clone() *Store {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Config = s.Config.Clone()
	return &clone
}

// Relationship is one append-only referral record. Sequence is the zero based
// insertion index and is the tie-break for spillover.
type Relationship struct {
	Sequence  uint64
	Buyer     [20]byte
	Sponsor   [20]byte
	Timestamp uint64
}

// Split is the division of a sale amount.
type Split struct {
	Amount     uint64
	Commission uint64
	Bonus      uint64
	StoreShare uint64
}

// Receipt describes a completed (or quoted) purchase.
type Receipt struct {
	ID               string
	Sequence         uint64
	Buyer            [20]byte
	RequestedSponsor [20]byte
	Sponsor          [20]byte
	Spillover        bool
	Amount           uint64
	Commission       uint64
	Bonus            uint64
	BonusRecipient   [20]byte
	StoreShare       uint64
	Timestamp        int64
}

func isZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}
