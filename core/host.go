package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"solbox/core/events"
	"solbox/core/genesis"
	"solbox/core/state"
	"solbox/core/types"
	"solbox/crypto"
	"solbox/native/giftcard"
	"solbox/observability"
	"solbox/storage"
)

var failureReasons = map[error]string{
	giftcard.ErrContractPaused:       "paused",
	giftcard.ErrUnauthorized:         "unauthorized",
	giftcard.ErrInvalidAmount:        "invalid_amount",
	giftcard.ErrSelfReferral:         "self_referral",
	giftcard.ErrNoSpilloverAvailable: "no_spillover",
	giftcard.ErrInsufficientFunds:    "insufficient_funds",
	giftcard.ErrArithmetic:           "arithmetic",
	giftcard.ErrInvalidConfig:        "invalid_config",
	giftcard.ErrNotInitialized:       "not_initialized",
}

// Options configures a Host.
type Options struct {
	Logger *slog.Logger
	// Sink receives events after the call that produced them commits.
	Sink events.Emitter
	Now  func() time.Time
}

// Host serialises ledger calls. Each call runs against a fresh write overlay;
// the overlay is committed in one batch and its buffered events are released
// to the sink only when the call succeeds.
type Host struct {
	mu      sync.Mutex
	db      storage.Database
	engine  *giftcard.Engine
	buffer  *events.Buffer
	sink    events.Emitter
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.GiftcardMetrics
	nowFn   func() time.Time
}

// NewHost wires a host over db.
func NewHost(db storage.Database, opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.NoopEmitter{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	h := &Host{
		db:      db,
		engine:  giftcard.NewEngine(),
		buffer:  &events.Buffer{},
		sink:    sink,
		logger:  logger.With("component", "host"),
		tracer:  otel.Tracer("solbox/core"),
		metrics: observability.Giftcard(),
		nowFn:   now,
	}
	h.engine.SetEmitter(h.buffer)
	h.engine.SetNowFunc(func() int64 { return h.nowFn().Unix() })
	return h
}

type call func(eng *giftcard.Engine, st *state.Manager) error

func (h *Host) run(ctx context.Context, op string, write bool, fn call, attrs ...attribute.KeyValue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	_, span := h.tracer.Start(ctx, "giftcard."+op, trace.WithAttributes(attrs...))
	defer span.End()

	h.mu.Lock()
	defer h.mu.Unlock()

	st := state.NewManager(h.db)
	h.engine.SetState(st)
	h.buffer.Reset()
	defer h.engine.SetState(nil)

	err := fn(h.engine, st)
	if err == nil && write {
		err = st.Commit()
	}
	if err != nil {
		st.Discard()
		h.buffer.Reset()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if write {
			h.metrics.ObserveCall(op, time.Since(start), err, failureReasons)
			h.logger.Debug("ledger call rejected", "method", op, "error", err)
		}
		return err
	}
	h.buffer.Flush(h.sink)
	span.SetStatus(codes.Ok, "")
	if write {
		h.metrics.ObserveCall(op, time.Since(start), nil, failureReasons)
	}
	return nil
}

func amountAttr(amount uint64) attribute.KeyValue {
	return attribute.String("amount", strconv.FormatUint(amount, 10))
}

func identityAttr(key string, id [20]byte) attribute.KeyValue {
	return attribute.String(key, crypto.FromRaw(id).String())
}

// Bootstrap initialises the store from gen unless it already exists, then
// seeds the genesis allocations. An existing store is left untouched.
func (h *Host) Bootstrap(ctx context.Context, gen *genesis.Genesis) (*giftcard.Store, error) {
	if gen == nil {
		return nil, fmt.Errorf("core: genesis must not be nil")
	}
	var out *giftcard.Store
	err := h.run(ctx, "bootstrap", true, func(eng *giftcard.Engine, st *state.Manager) error {
		existing, ok, err := st.GiftcardStoreGet()
		if err != nil {
			return err
		}
		if ok {
			out = existing
			occ, err := st.GiftcardOccupancyGet()
			if err != nil {
				return err
			}
			if len(occ.Slots) == 0 && existing.ReferralCount > 0 {
				h.logger.Warn("occupancy index missing, rebuilding", "relationships", existing.ReferralCount)
				_, err = st.GiftcardRebuildOccupancy()
			}
			return err
		}
		store, err := eng.Initialize(gen.Owner, gen.Custody, gen.Config)
		if err != nil {
			return err
		}
		for _, alloc := range gen.Alloc {
			if err := st.Credit(alloc.Address, alloc.Balance); err != nil {
				return fmt.Errorf("core: genesis alloc: %w", err)
			}
		}
		out = store
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.metrics.SetPause(out.Paused)
	h.metrics.SetReferralCount(out.ReferralCount)
	h.logger.Info("store ready",
		"owner", crypto.FromRaw(out.Owner).String(),
		"custody", crypto.FromRaw(out.Custody).String(),
		"relationships", out.ReferralCount)
	return out, nil
}

// Initialize creates the store.
func (h *Host) Initialize(ctx context.Context, owner, custody [20]byte, cfg giftcard.Config) (*giftcard.Store, error) {
	var out *giftcard.Store
	err := h.run(ctx, "initialize", true, func(eng *giftcard.Engine, _ *state.Manager) error {
		var err error
		out, err = eng.Initialize(owner, custody, cfg)
		return err
	}, identityAttr("owner", owner))
	return out, err
}

// Purchase executes a sale and returns its receipt.
func (h *Host) Purchase(ctx context.Context, buyer, sponsor [20]byte, amount uint64) (*giftcard.Receipt, error) {
	var (
		receipt *giftcard.Receipt
		count   uint64
	)
	err := h.run(ctx, "purchase", true, func(eng *giftcard.Engine, st *state.Manager) error {
		var err error
		if receipt, err = eng.Purchase(buyer, sponsor, amount); err != nil {
			return err
		}
		count = receipt.Sequence + 1
		return st.IncrementNonce(buyer)
	}, identityAttr("buyer", buyer), identityAttr("sponsor", sponsor), amountAttr(amount))
	if err != nil {
		return nil, err
	}
	h.metrics.RecordSale(receipt.Amount, receipt.Commission, receipt.Bonus, receipt.StoreShare, receipt.Spillover)
	h.metrics.SetReferralCount(count)
	return receipt, nil
}

// Quote dry-runs a purchase.
func (h *Host) Quote(ctx context.Context, buyer, sponsor [20]byte, amount uint64) (*giftcard.Receipt, error) {
	var receipt *giftcard.Receipt
	err := h.run(ctx, "quote", false, func(eng *giftcard.Engine, _ *state.Manager) error {
		var err error
		receipt, err = eng.Quote(buyer, sponsor, amount)
		return err
	}, identityAttr("buyer", buyer), identityAttr("sponsor", sponsor))
	return receipt, err
}

// UpdateConfig replaces the store configuration.
func (h *Host) UpdateConfig(ctx context.Context, caller [20]byte, cfg giftcard.Config) (*giftcard.Store, error) {
	var out *giftcard.Store
	err := h.run(ctx, "update_config", true, func(eng *giftcard.Engine, st *state.Manager) error {
		var err error
		if out, err = eng.UpdateConfig(caller, cfg); err != nil {
			return err
		}
		return st.IncrementNonce(caller)
	}, identityAttr("caller", caller))
	return out, err
}

// TogglePause flips the pause flag.
func (h *Host) TogglePause(ctx context.Context, caller [20]byte) (*giftcard.Store, error) {
	var out *giftcard.Store
	err := h.run(ctx, "toggle_pause", true, func(eng *giftcard.Engine, st *state.Manager) error {
		var err error
		if out, err = eng.TogglePause(caller); err != nil {
			return err
		}
		return st.IncrementNonce(caller)
	}, identityAttr("caller", caller))
	if err != nil {
		return nil, err
	}
	h.metrics.SetPause(out.Paused)
	h.logger.Info("pause toggled", "caller", crypto.FromRaw(caller).String(), "paused", out.Paused)
	return out, nil
}

// Store returns the store record.
func (h *Host) Store(ctx context.Context) (*giftcard.Store, error) {
	var out *giftcard.Store
	err := h.run(ctx, "store", false, func(eng *giftcard.Engine, _ *state.Manager) error {
		var err error
		out, err = eng.Store()
		return err
	})
	return out, err
}

// Relationships pages through the referral ledger.
func (h *Host) Relationships(ctx context.Context, offset, limit uint64) ([]giftcard.Relationship, error) {
	var out []giftcard.Relationship
	err := h.run(ctx, "relationships", false, func(eng *giftcard.Engine, _ *state.Manager) error {
		var err error
		out, err = eng.Relationships(offset, limit)
		return err
	})
	return out, err
}

// SponsorReferrals returns the direct referral count of sponsor.
func (h *Host) SponsorReferrals(ctx context.Context, sponsor [20]byte) (uint64, error) {
	var out uint64
	err := h.run(ctx, "sponsor", false, func(eng *giftcard.Engine, _ *state.Manager) error {
		var err error
		out, err = eng.SponsorReferrals(sponsor)
		return err
	})
	return out, err
}

// Account returns the balance record of addr.
func (h *Host) Account(ctx context.Context, addr [20]byte) (*types.Account, error) {
	var out *types.Account
	err := h.run(ctx, "account", false, func(_ *giftcard.Engine, st *state.Manager) error {
		var err error
		out, err = st.GetAccount(addr)
		return err
	})
	return out, err
}

// IsNotInitialized reports whether err means the store does not exist yet.
func IsNotInitialized(err error) bool {
	return errors.Is(err, giftcard.ErrNotInitialized)
}
