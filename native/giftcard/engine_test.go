package giftcard

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"solbox/core/events"
	"solbox/native/common"
)

type mockState struct {
	store     *Store
	rels      []Relationship
	occupancy *Occupancy
	balances  map[[20]byte]uint64
}

func newMockState() *mockState {
	return &mockState{balances: make(map[[20]byte]uint64)}
}

func (m *mockState) GiftcardStoreGet() (*Store, bool, error) {
	if m.store == nil {
		return nil, false, nil
	}
	return m.store.Clone(), true, nil
}

func (m *mockState) GiftcardStorePut(store *Store) error {
	m.store = store.Clone()
	return nil
}

func (m *mockState) GiftcardRelationshipAppend(rel *Relationship) error {
	m.rels = append(m.rels, *rel)
	return nil
}

func (m *mockState) GiftcardRelationships(offset, limit uint64) ([]Relationship, error) {
	if offset >= uint64(len(m.rels)) {
		return nil, nil
	}
	end := uint64(len(m.rels))
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]Relationship(nil), m.rels[offset:end]...), nil
}

func (m *mockState) GiftcardOccupancyGet() (*Occupancy, error) {
	return m.occupancy.Clone(), nil
}

func (m *mockState) GiftcardOccupancyPut(occ *Occupancy) error {
	m.occupancy = occ.Clone()
	return nil
}

func (m *mockState) Balance(addr [20]byte) (uint64, error) {
	return m.balances[addr], nil
}

func (m *mockState) Transfer(from, to [20]byte, amount uint64) error {
	if m.balances[from] < amount {
		return errors.New("insufficient")
	}
	m.balances[from] -= amount
	m.balances[to] += amount
	return nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	out[0] = 0xAA
	return out
}

var (
	owner   = addr(1)
	custody = addr(2)
	root    = addr(3)
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *mockState, *captureEmitter) {
	t.Helper()
	state := newMockState()
	emitter := &captureEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	if _, err := engine.Initialize(owner, custody, cfg); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return engine, state, emitter
}

func fund(state *mockState, id [20]byte, amount uint64) {
	state.balances[id] += amount
}

func TestInitializeOnce(t *testing.T) {
	engine, _, emitter := newTestEngine(t, DefaultConfig())
	if _, err := engine.Initialize(owner, custody, DefaultConfig()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	if len(emitter.events) != 1 || emitter.events[0].EventType() != events.TypeGiftcardInitialized {
		t.Fatalf("unexpected events: %+v", emitter.events)
	}
	store, err := engine.Store()
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if store.Owner != owner || store.Custody != custody || store.Paused {
		t.Fatalf("unexpected store: %+v", store)
	}
	if store.TotalSold != 0 || store.ReferralCount != 0 {
		t.Fatalf("counters not zero: %+v", store)
	}
}

func TestInitializeRejectsDegenerateConfig(t *testing.T) {
	cases := map[string]Config{
		"zero limit":   {ReferralLimit: 0, CommissionPercentage: 10, ValidAmounts: []uint64{1}},
		"over hundred": {ReferralLimit: 1, CommissionPercentage: 96, BonusPercentage: 5, ValidAmounts: []uint64{1}},
		"empty":        {ReferralLimit: 1, CommissionPercentage: 10},
		"zero amount":  {ReferralLimit: 1, ValidAmounts: []uint64{0, 5}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			engine := NewEngine()
			engine.SetState(newMockState())
			if _, err := engine.Initialize(owner, custody, cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestPurchaseBeforeInitialize(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	if _, err := engine.Purchase(addr(9), root, DefaultValidAmounts[0]); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := NewEngine().Store(); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
}

func TestPurchaseSplit(t *testing.T) {
	engine, state, emitter := newTestEngine(t, DefaultConfig())
	buyer := addr(10)
	fund(state, buyer, 1_000_000_000)

	receipt, err := engine.Purchase(buyer, root, 1_000_000_000)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.Commission != 900_000_000 || receipt.Bonus != 50_000_000 || receipt.StoreShare != 50_000_000 {
		t.Fatalf("unexpected split: %+v", receipt)
	}
	if receipt.Sponsor != root || receipt.Spillover {
		t.Fatalf("unexpected sponsor resolution: %+v", receipt)
	}
	if state.balances[root] != 900_000_000 {
		t.Fatalf("sponsor balance: %d", state.balances[root])
	}
	if state.balances[custody] != 50_000_000 {
		t.Fatalf("custody balance: %d", state.balances[custody])
	}
	if state.balances[buyer] != 50_000_000 {
		t.Fatalf("buyer retains unpaid bonus, got %d", state.balances[buyer])
	}
	if state.store.TotalSold != 1_000_000_000 || state.store.TotalCommissionDistributed != 900_000_000 ||
		state.store.TotalBonusDistributed != 50_000_000 || state.store.ReferralCount != 1 {
		t.Fatalf("unexpected counters: %+v", state.store)
	}
	if len(state.rels) != 1 || state.rels[0].Buyer != buyer || state.rels[0].Sponsor != root || state.rels[0].Sequence != 0 {
		t.Fatalf("unexpected relationships: %+v", state.rels)
	}
	last := emitter.events[len(emitter.events)-1]
	completed, ok := last.(events.GiftcardPurchaseCompleted)
	if !ok {
		t.Fatalf("expected purchase event, got %T", last)
	}
	if completed.ReceiptID != receipt.ID || completed.Commission != receipt.Commission {
		t.Fatalf("event does not match receipt: %+v", completed)
	}
}

func TestPurchaseBonusRecipient(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BonusRecipient = addr(50)
	engine, state, _ := newTestEngine(t, cfg)
	buyer := addr(10)
	fund(state, buyer, 1_000_000_000)

	if _, err := engine.Purchase(buyer, root, 1_000_000_000); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if state.balances[cfg.BonusRecipient] != 50_000_000 {
		t.Fatalf("bonus recipient balance: %d", state.balances[cfg.BonusRecipient])
	}
	if state.balances[buyer] != 0 {
		t.Fatalf("buyer balance: %d", state.balances[buyer])
	}
}

func TestPurchaseInvalidAmountLeavesState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ValidAmounts = []uint64{1_000_000_000}
	engine, state, emitter := newTestEngine(t, cfg)
	buyer := addr(10)
	fund(state, buyer, 2_000_000_000)
	before := *state.store

	if _, err := engine.Purchase(buyer, root, 1_500_000_000); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if state.store.TotalSold != before.TotalSold || state.store.ReferralCount != before.ReferralCount {
		t.Fatalf("store mutated: %+v", state.store)
	}
	if len(state.rels) != 0 || state.balances[buyer] != 2_000_000_000 || len(emitter.events) != 1 {
		t.Fatalf("state mutated after rejected purchase")
	}
}

func TestPurchaseSelfReferral(t *testing.T) {
	engine, state, _ := newTestEngine(t, DefaultConfig())
	buyer := addr(10)
	fund(state, buyer, 1_000_000_000)
	if _, err := engine.Purchase(buyer, buyer, 1_000_000_000); !errors.Is(err, ErrSelfReferral) {
		t.Fatalf("expected ErrSelfReferral, got %v", err)
	}
}

func TestPurchaseInsufficientFunds(t *testing.T) {
	engine, state, _ := newTestEngine(t, DefaultConfig())
	buyer := addr(10)
	fund(state, buyer, 949_999_999)
	if _, err := engine.Purchase(buyer, root, 1_000_000_000); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if state.store.ReferralCount != 0 || len(state.rels) != 0 {
		t.Fatalf("state mutated")
	}
}

func TestPauseGatesSales(t *testing.T) {
	engine, state, _ := newTestEngine(t, DefaultConfig())
	buyer := addr(10)
	fund(state, buyer, 1_000_000_000)

	if _, err := engine.TogglePause(addr(77)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	store, err := engine.TogglePause(owner)
	if err != nil || !store.Paused {
		t.Fatalf("pause: %v %+v", err, store)
	}
	_, err = engine.Purchase(buyer, root, 1_000_000_000)
	if !errors.Is(err, ErrContractPaused) {
		t.Fatalf("expected ErrContractPaused, got %v", err)
	}
	if !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("paused error should wrap common.ErrModulePaused")
	}
	if _, err := engine.UpdateConfig(owner, DefaultConfig()); !errors.Is(err, ErrContractPaused) {
		t.Fatalf("expected config update to be paused, got %v", err)
	}
	if store, err = engine.TogglePause(owner); err != nil || store.Paused {
		t.Fatalf("unpause: %v %+v", err, store)
	}
	if _, err := engine.Purchase(buyer, root, 1_000_000_000); err != nil {
		t.Fatalf("purchase after unpause: %v", err)
	}
}

func TestUpdateConfig(t *testing.T) {
	engine, state, emitter := newTestEngine(t, DefaultConfig())
	next := Config{ReferralLimit: 5, CommissionPercentage: 50, BonusPercentage: 10, ValidAmounts: []uint64{30, 10, 20, 10}}

	if _, err := engine.UpdateConfig(addr(77), next); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	bad := next
	bad.CommissionPercentage = 95
	if _, err := engine.UpdateConfig(owner, bad); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	store, err := engine.UpdateConfig(owner, next)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if store.Config.ReferralLimit != 5 || len(store.Config.ValidAmounts) != 3 || store.Config.ValidAmounts[0] != 10 {
		t.Fatalf("unexpected config: %+v", store.Config)
	}
	if state.store.Config.CommissionPercentage != 50 {
		t.Fatalf("config not persisted")
	}
	if emitter.events[len(emitter.events)-1].EventType() != events.TypeGiftcardConfigUpdated {
		t.Fatalf("expected config updated event")
	}
}

func TestSpilloverAtCapacity(t *testing.T) {
	engine, state, _ := newTestEngine(t, DefaultConfig())
	amount := DefaultValidAmounts[0]
	buyers := [][20]byte{addr(10), addr(11), addr(12), addr(13)}
	for _, b := range buyers {
		fund(state, b, amount)
	}

	for i, b := range buyers[:3] {
		receipt, err := engine.Purchase(b, root, amount)
		if err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
		if receipt.Sponsor != root || receipt.Spillover {
			t.Fatalf("purchase %d should stay with root: %+v", i, receipt)
		}
		if receipt.Sequence != uint64(i) {
			t.Fatalf("sequence %d, want %d", receipt.Sequence, i)
		}
	}

	receipt, err := engine.Purchase(buyers[3], root, amount)
	if err != nil {
		t.Fatalf("fourth purchase: %v", err)
	}
	if receipt.Sponsor != buyers[0] || !receipt.Spillover || receipt.RequestedSponsor != root {
		t.Fatalf("fourth buyer should spill to first purchaser: %+v", receipt)
	}
	count, err := engine.SponsorReferrals(root)
	if err != nil || count != 3 {
		t.Fatalf("root referrals %d (%v)", count, err)
	}
	if count, _ := engine.SponsorReferrals(buyers[0]); count != 1 {
		t.Fatalf("first purchaser referrals %d", count)
	}
	commission := receipt.Commission
	if state.balances[buyers[0]] != commission {
		t.Fatalf("spillover sponsor not paid: %d", state.balances[buyers[0]])
	}
}

func TestSpilloverExhausted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReferralLimit = 1
	engine, state, _ := newTestEngine(t, cfg)
	amount := DefaultValidAmounts[0]
	a, b := addr(10), addr(11)
	fund(state, a, amount)
	fund(state, b, amount)

	if _, err := engine.Purchase(a, root, amount); err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	// root is full; the only other candidate is a itself.
	if _, err := engine.Purchase(a, root, amount); !errors.Is(err, ErrNoSpilloverAvailable) {
		t.Fatalf("expected ErrNoSpilloverAvailable, got %v", err)
	}
	receipt, err := engine.Purchase(b, root, amount)
	if err != nil {
		t.Fatalf("second buyer: %v", err)
	}
	if receipt.Sponsor != a {
		t.Fatalf("expected spill to %x, got %x", a, receipt.Sponsor)
	}
}

func TestQuoteDoesNotWrite(t *testing.T) {
	engine, state, emitter := newTestEngine(t, DefaultConfig())
	buyer := addr(10)
	fund(state, buyer, 1_000_000_000)

	quote, err := engine.Quote(buyer, root, 1_000_000_000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if state.store.ReferralCount != 0 || len(state.rels) != 0 || len(emitter.events) != 1 {
		t.Fatalf("quote mutated state")
	}
	receipt, err := engine.Purchase(buyer, root, 1_000_000_000)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if quote.ID != receipt.ID || quote.Sponsor != receipt.Sponsor || quote.StoreShare != receipt.StoreShare {
		t.Fatalf("quote %+v differs from receipt %+v", quote, receipt)
	}
}

func TestConservation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BonusRecipient = addr(60)
	engine, state, _ := newTestEngine(t, cfg)
	var total uint64
	for i := 0; i < 12; i++ {
		buyer := addr(byte(100 + i))
		amount := DefaultValidAmounts[i%len(DefaultValidAmounts)]
		fund(state, buyer, amount)
		total += amount
		if _, err := engine.Purchase(buyer, root, amount); err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
	}
	var sum uint64
	for _, bal := range state.balances {
		sum += bal
	}
	if sum != total {
		t.Fatalf("balances sum %d, funded %d", sum, total)
	}
	if state.store.TotalSold != total {
		t.Fatalf("total sold %d, want %d", state.store.TotalSold, total)
	}
	if state.store.TotalCommissionDistributed+state.store.TotalBonusDistributed+state.balances[custody] != total {
		t.Fatalf("split does not add up")
	}
	rels, err := engine.Relationships(0, 0)
	if err != nil {
		t.Fatalf("relationships: %v", err)
	}
	want, wantOK := Resolve(rels, root, addr(250), uint64(cfg.ReferralLimit))
	got, gotOK := state.occupancy.Resolve(root, addr(250), uint64(cfg.ReferralLimit))
	if got != want || gotOK != wantOK {
		t.Fatalf("index and scan disagree: %x vs %x", got, want)
	}
}

type ledgerSnapshot struct {
	store     *Store
	rels      []Relationship
	occupancy *Occupancy
	balances  map[[20]byte]uint64
	events    int
}

func snapshotLedger(state *mockState, emitter *captureEmitter) ledgerSnapshot {
	balances := make(map[[20]byte]uint64, len(state.balances))
	for id, bal := range state.balances {
		balances[id] = bal
	}
	return ledgerSnapshot{
		store:     state.store.Clone(),
		rels:      append([]Relationship(nil), state.rels...),
		occupancy: state.occupancy.Clone(),
		balances:  balances,
		events:    len(emitter.events),
	}
}

func TestFailedPurchaseLeavesLedgerUntouched(t *testing.T) {
	amount := DefaultValidAmounts[0]
	buyer := addr(10)
	cases := []struct {
		name    string
		limit   uint32
		setup   func(t *testing.T, e *Engine, s *mockState)
		buyer   [20]byte
		sponsor [20]byte
		amount  uint64
		want    error
	}{
		{name: "invalid amount", buyer: buyer, sponsor: root, amount: amount + 1, want: ErrInvalidAmount},
		{name: "self referral", buyer: buyer, sponsor: buyer, amount: amount, want: ErrSelfReferral},
		{name: "zero sponsor", buyer: buyer, sponsor: [20]byte{}, amount: amount, want: ErrInvalidAddress},
		{name: "paused", buyer: buyer, sponsor: root, amount: amount, want: ErrContractPaused,
			setup: func(_ *testing.T, _ *Engine, s *mockState) { s.store.Paused = true }},
		{name: "no spillover", limit: 1, buyer: buyer, sponsor: root, amount: amount, want: ErrNoSpilloverAvailable,
			setup: func(t *testing.T, e *Engine, _ *mockState) {
				if _, err := e.Purchase(buyer, root, amount); err != nil {
					t.Fatalf("seed purchase: %v", err)
				}
			}},
		{name: "insufficient funds", buyer: addr(40), sponsor: root, amount: amount, want: ErrInsufficientFunds},
		{name: "total sold overflow", buyer: buyer, sponsor: root, amount: amount, want: ErrArithmetic,
			setup: func(_ *testing.T, _ *Engine, s *mockState) { s.store.TotalSold = math.MaxUint64 - 1 }},
		{name: "commission total overflow", buyer: buyer, sponsor: root, amount: amount, want: ErrArithmetic,
			setup: func(_ *testing.T, _ *Engine, s *mockState) { s.store.TotalCommissionDistributed = math.MaxUint64 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tc.limit > 0 {
				cfg.ReferralLimit = tc.limit
			}
			engine, state, emitter := newTestEngine(t, cfg)
			fund(state, buyer, 10*amount)
			if tc.setup != nil {
				tc.setup(t, engine, state)
			}
			before := snapshotLedger(state, emitter)

			if _, err := engine.Purchase(tc.buyer, tc.sponsor, tc.amount); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if after := snapshotLedger(state, emitter); !reflect.DeepEqual(before, after) {
				t.Fatalf("ledger changed:\nbefore %+v\nafter  %+v", before, after)
			}
		})
	}
}

// Spillover is decided by the requested sponsor's own count, not by the
// store-wide referral count.
func TestFreshSponsorAfterRootFills(t *testing.T) {
	engine, state, _ := newTestEngine(t, DefaultConfig())
	amount := DefaultValidAmounts[0]
	for i := byte(0); i < 3; i++ {
		b := addr(10 + i)
		fund(state, b, amount)
		if _, err := engine.Purchase(b, root, amount); err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
	}
	fresh, buyer := addr(50), addr(51)
	fund(state, buyer, amount)
	receipt, err := engine.Purchase(buyer, fresh, amount)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if receipt.Sponsor != fresh || receipt.Spillover {
		t.Fatalf("fresh sponsor should keep the sale: %+v", receipt)
	}
}
