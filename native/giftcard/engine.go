package giftcard

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"solbox/core/events"
	"solbox/native/common"
)

var receiptNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("solbox/giftcard/receipt"))

type engineState interface {
	GiftcardStoreGet() (*Store, bool, error)
	GiftcardStorePut(store *Store) error
	GiftcardRelationshipAppend(rel *Relationship) error
	GiftcardRelationships(offset, limit uint64) ([]Relationship, error)
	GiftcardOccupancyGet() (*Occupancy, error)
	GiftcardOccupancyPut(occ *Occupancy) error
	Balance(addr [20]byte) (uint64, error)
	Transfer(from, to [20]byte, amount uint64) error
}

// Engine wires gift card sales with persistence and event emission.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine constructs a gift card engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func unixSeconds(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func receiptID(custody [20]byte, sequence uint64) string {
	buf := make([]byte, 0, len(custody)+8)
	buf = append(buf, custody[:]...)
	buf = binary.BigEndian.AppendUint64(buf, sequence)
	return uuid.NewSHA1(receiptNamespace, buf).String()
}

func eventConfig(cfg Config) events.GiftcardConfig {
	return events.GiftcardConfig{
		ReferralLimit:        cfg.ReferralLimit,
		CommissionPercentage: cfg.CommissionPercentage,
		BonusPercentage:      cfg.BonusPercentage,
		ValidAmounts:         append([]uint64(nil), cfg.ValidAmounts...),
		BonusRecipient:       cfg.BonusRecipient,
	}
}

func (e *Engine) loadStore() (*Store, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	store, ok, err := e.state.GiftcardStoreGet()
	if err != nil {
		return nil, err
	}
	if !ok || store == nil {
		return nil, ErrNotInitialized
	}
	return store, nil
}

// Initialize creates the store. It can only succeed once.
func (e *Engine) Initialize(owner, custody [20]byte, cfg Config) (*Store, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, ok, err := e.state.GiftcardStoreGet(); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyInitialized
	}
	if isZeroAddress(owner) || isZeroAddress(custody) {
		return nil, ErrInvalidAddress
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := e.now()
	store := &Store{
		Owner:     owner,
		Custody:   custody,
		Config:    cfg.Normalize(),
		CreatedAt: unixSeconds(now),
	}
	if err := e.state.GiftcardStorePut(store); err != nil {
		return nil, err
	}
	e.emit(events.GiftcardInitialized{
		Owner:     owner,
		Custody:   custody,
		Config:    eventConfig(store.Config),
		Timestamp: now,
	})
	return store.Clone(), nil
}

// UpdateConfig replaces the store configuration as a whole. Only the owner
// may call it and only while the store is running.
func (e *Engine) UpdateConfig(caller [20]byte, cfg Config) (*Store, error) {
	store, err := e.loadStore()
	if err != nil {
		return nil, err
	}
	if err := common.Guard(store, ModuleName); err != nil {
		return nil, ErrContractPaused
	}
	if caller != store.Owner {
		return nil, ErrUnauthorized
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store.Config = cfg.Normalize()
	if err := e.state.GiftcardStorePut(store); err != nil {
		return nil, err
	}
	e.emit(events.GiftcardConfigUpdated{
		Owner:     store.Owner,
		Config:    eventConfig(store.Config),
		Timestamp: e.now(),
	})
	return store.Clone(), nil
}

// TogglePause flips the pause flag. It is reachable while paused.
func (e *Engine) TogglePause(caller [20]byte) (*Store, error) {
	store, err := e.loadStore()
	if err != nil {
		return nil, err
	}
	if caller != store.Owner {
		return nil, ErrUnauthorized
	}
	store.Paused = !store.Paused
	if err := e.state.GiftcardStorePut(store); err != nil {
		return nil, err
	}
	e.emit(events.GiftcardPauseToggled{
		Owner:     store.Owner,
		Paused:    store.Paused,
		Timestamp: e.now(),
	})
	return store.Clone(), nil
}

type purchasePlan struct {
	store     *Store
	occupancy *Occupancy
	receipt   *Receipt
	next      Store
}

// plan runs every check of a purchase and computes the post-state without
// writing anything.
func (e *Engine) plan(buyer, sponsor [20]byte, amount uint64) (*purchasePlan, error) {
	store, err := e.loadStore()
	if err != nil {
		return nil, err
	}
	if err := common.Guard(store, ModuleName); err != nil {
		return nil, ErrContractPaused
	}
	cfg := store.Config
	if !cfg.Accepts(amount) {
		return nil, ErrInvalidAmount
	}
	if buyer == sponsor {
		return nil, ErrSelfReferral
	}
	if isZeroAddress(buyer) || isZeroAddress(sponsor) {
		return nil, ErrInvalidAddress
	}
	split, err := ComputeSplit(amount, cfg)
	if err != nil {
		return nil, err
	}
	occ, err := e.state.GiftcardOccupancyGet()
	if err != nil {
		return nil, err
	}
	if occ == nil {
		occ = &Occupancy{}
	}
	final, ok := occ.Resolve(sponsor, buyer, uint64(cfg.ReferralLimit))
	if !ok {
		return nil, ErrNoSpilloverAvailable
	}

	next := *store
	if next.TotalSold, err = checkedAdd(store.TotalSold, split.Amount); err != nil {
		return nil, err
	}
	if next.TotalCommissionDistributed, err = checkedAdd(store.TotalCommissionDistributed, split.Commission); err != nil {
		return nil, err
	}
	if next.TotalBonusDistributed, err = checkedAdd(store.TotalBonusDistributed, split.Bonus); err != nil {
		return nil, err
	}
	if next.ReferralCount, err = checkedAdd(store.ReferralCount, 1); err != nil {
		return nil, err
	}

	debit, err := split.BuyerDebit(cfg.BonusPaidOut())
	if err != nil {
		return nil, err
	}
	balance, err := e.state.Balance(buyer)
	if err != nil {
		return nil, err
	}
	if balance < debit {
		return nil, ErrInsufficientFunds
	}

	receipt := &Receipt{
		ID:               receiptID(store.Custody, store.ReferralCount),
		Sequence:         store.ReferralCount,
		Buyer:            buyer,
		RequestedSponsor: sponsor,
		Sponsor:          final,
		Spillover:        final != sponsor,
		Amount:           split.Amount,
		Commission:       split.Commission,
		Bonus:            split.Bonus,
		BonusRecipient:   cfg.BonusRecipient,
		StoreShare:       split.StoreShare,
		Timestamp:        e.now(),
	}
	return &purchasePlan{store: store, occupancy: occ, receipt: receipt, next: next}, nil
}

// Quote validates a purchase and returns the receipt it would produce. Nothing
// is written.
func (e *Engine) Quote(buyer, sponsor [20]byte, amount uint64) (*Receipt, error) {
	p, err := e.plan(buyer, sponsor, amount)
	if err != nil {
		return nil, err
	}
	return p.receipt, nil
}

// Purchase sells a gift card of the given amount to buyer, paying commission
// to the resolved sponsor and the store share to custody. Every check runs
// before the first write.
func (e *Engine) Purchase(buyer, sponsor [20]byte, amount uint64) (*Receipt, error) {
	p, err := e.plan(buyer, sponsor, amount)
	if err != nil {
		return nil, err
	}
	receipt := p.receipt
	if err := e.state.GiftcardStorePut(&p.next); err != nil {
		return nil, err
	}
	rel := &Relationship{
		Sequence:  receipt.Sequence,
		Buyer:     receipt.Buyer,
		Sponsor:   receipt.Sponsor,
		Timestamp: unixSeconds(receipt.Timestamp),
	}
	if err := e.state.GiftcardRelationshipAppend(rel); err != nil {
		return nil, err
	}
	p.occupancy.Record(rel.Buyer, rel.Sponsor)
	if err := e.state.GiftcardOccupancyPut(p.occupancy); err != nil {
		return nil, err
	}

	if receipt.Commission > 0 {
		if err := e.state.Transfer(receipt.Buyer, receipt.Sponsor, receipt.Commission); err != nil {
			return nil, fmt.Errorf("giftcard: commission transfer: %w", err)
		}
	}
	if receipt.StoreShare > 0 {
		if err := e.state.Transfer(receipt.Buyer, p.store.Custody, receipt.StoreShare); err != nil {
			return nil, fmt.Errorf("giftcard: custody transfer: %w", err)
		}
	}
	if receipt.Bonus > 0 && !isZeroAddress(receipt.BonusRecipient) {
		if err := e.state.Transfer(receipt.Buyer, receipt.BonusRecipient, receipt.Bonus); err != nil {
			return nil, fmt.Errorf("giftcard: bonus transfer: %w", err)
		}
	}

	e.emit(events.GiftcardPurchaseCompleted{
		ReceiptID:        receipt.ID,
		Sequence:         receipt.Sequence,
		Buyer:            receipt.Buyer,
		RequestedSponsor: receipt.RequestedSponsor,
		Sponsor:          receipt.Sponsor,
		Spillover:        receipt.Spillover,
		Amount:           receipt.Amount,
		Commission:       receipt.Commission,
		Bonus:            receipt.Bonus,
		StoreShare:       receipt.StoreShare,
		Timestamp:        receipt.Timestamp,
	})
	return receipt, nil
}

// Store returns a snapshot of the store record.
func (e *Engine) Store() (*Store, error) {
	store, err := e.loadStore()
	if err != nil {
		return nil, err
	}
	return store.Clone(), nil
}

// Relationships returns up to limit relationships starting at offset.
func (e *Engine) Relationships(offset, limit uint64) ([]Relationship, error) {
	if _, err := e.loadStore(); err != nil {
		return nil, err
	}
	return e.state.GiftcardRelationships(offset, limit)
}

// SponsorReferrals returns the direct referral count held by sponsor.
func (e *Engine) SponsorReferrals(sponsor [20]byte) (uint64, error) {
	if _, err := e.loadStore(); err != nil {
		return 0, err
	}
	occ, err := e.state.GiftcardOccupancyGet()
	if err != nil {
		return 0, err
	}
	return occ.Referrals(sponsor), nil
}
