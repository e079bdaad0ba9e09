package events

import (
	"strconv"

	"solbox/core/types"
)

const (
	TypeGiftcardInitialized       = "giftcard.initialized"
	TypeGiftcardConfigUpdated     = "giftcard.config.updated"
	TypeGiftcardPauseToggled      = "giftcard.pause.toggled"
	TypeGiftcardPurchaseCompleted = "giftcard.purchase.completed"
)

// GiftcardConfig is the flattened configuration carried by admin events.
type GiftcardConfig struct {
	ReferralLimit        uint32
	CommissionPercentage uint8
	BonusPercentage      uint8
	ValidAmounts         []uint64
	BonusRecipient       [20]byte
}

func (c GiftcardConfig) attributes(into map[string]string) {
	into["referralLimit"] = uintToString(uint64(c.ReferralLimit))
	into["commissionPct"] = uintToString(uint64(c.CommissionPercentage))
	into["bonusPct"] = uintToString(uint64(c.BonusPercentage))
	into["validAmounts"] = joinAmounts(c.ValidAmounts)
	into["bonusRecipient"] = addressString(c.BonusRecipient)
}

type GiftcardInitialized struct {
	Owner     [20]byte
	Custody   [20]byte
	Config    GiftcardConfig
	Timestamp int64
}

func (GiftcardInitialized) EventType() string { return TypeGiftcardInitialized }

func (e GiftcardInitialized) Event() *types.Event {
	attrs := map[string]string{
		"owner":     addressString(e.Owner),
		"custody":   addressString(e.Custody),
		"timestamp": intToString(e.Timestamp),
	}
	e.Config.attributes(attrs)
	return &types.Event{Type: TypeGiftcardInitialized, Attributes: attrs}
}

type GiftcardConfigUpdated struct {
	Owner     [20]byte
	Config    GiftcardConfig
	Timestamp int64
}

func (GiftcardConfigUpdated) EventType() string { return TypeGiftcardConfigUpdated }

func (e GiftcardConfigUpdated) Event() *types.Event {
	attrs := map[string]string{
		"owner":     addressString(e.Owner),
		"timestamp": intToString(e.Timestamp),
	}
	e.Config.attributes(attrs)
	return &types.Event{Type: TypeGiftcardConfigUpdated, Attributes: attrs}
}

type GiftcardPauseToggled struct {
	Owner     [20]byte
	Paused    bool
	Timestamp int64
}

func (GiftcardPauseToggled) EventType() string { return TypeGiftcardPauseToggled }

func (e GiftcardPauseToggled) Event() *types.Event {
	return &types.Event{
		Type: TypeGiftcardPauseToggled,
		Attributes: map[string]string{
			"owner":     addressString(e.Owner),
			"paused":    strconv.FormatBool(e.Paused),
			"timestamp": intToString(e.Timestamp),
		},
	}
}

// GiftcardPurchaseCompleted is the purchase record published for observers once
// a sale commits.
type GiftcardPurchaseCompleted struct {
	ReceiptID        string
	Sequence         uint64
	Buyer            [20]byte
	RequestedSponsor [20]byte
	Sponsor          [20]byte
	Spillover        bool
	Amount           uint64
	Commission       uint64
	Bonus            uint64
	StoreShare       uint64
	Timestamp        int64
}

func (GiftcardPurchaseCompleted) EventType() string { return TypeGiftcardPurchaseCompleted }

func (e GiftcardPurchaseCompleted) Event() *types.Event {
	return &types.Event{
		Type: TypeGiftcardPurchaseCompleted,
		Attributes: map[string]string{
			"receiptId":        e.ReceiptID,
			"sequence":         uintToString(e.Sequence),
			"buyer":            addressString(e.Buyer),
			"requestedSponsor": addressString(e.RequestedSponsor),
			"sponsor":          addressString(e.Sponsor),
			"spillover":        strconv.FormatBool(e.Spillover),
			"amount":           uintToString(e.Amount),
			"commission":       uintToString(e.Commission),
			"bonus":            uintToString(e.Bonus),
			"storeShare":       uintToString(e.StoreShare),
			"timestamp":        intToString(e.Timestamp),
		},
	}
}
