package rpc

import (
	"fmt"
	"strconv"
	"strings"

	"solbox/core/types"
	"solbox/crypto"
	"solbox/native/giftcard"
)

// Amounts travel as decimal strings so clients without 64-bit integers keep
// full precision.

// ConfigPayload is the wire form of giftcard.Config.
type ConfigPayload struct {
	ReferralLimit        uint32   `json:"referralLimit"`
	CommissionPercentage uint8    `json:"commissionPercentage"`
	BonusPercentage      uint8    `json:"bonusPercentage"`
	ValidAmounts         []string `json:"validAmounts"`
	BonusRecipient       string   `json:"bonusRecipient,omitempty"`
}

// StoreResult is the wire form of giftcard.Store.
type StoreResult struct {
	Owner                      string        `json:"owner"`
	Custody                    string        `json:"custody"`
	Paused                     bool          `json:"paused"`
	TotalSold                  string        `json:"totalSold"`
	TotalCommissionDistributed string        `json:"totalCommissionDistributed"`
	TotalBonusDistributed      string        `json:"totalBonusDistributed"`
	ReferralCount              uint64        `json:"referralCount"`
	CreatedAt                  uint64        `json:"createdAt"`
	Config                     ConfigPayload `json:"config"`
}

// ReceiptResult is the wire form of giftcard.Receipt.
type ReceiptResult struct {
	ID               string `json:"id"`
	Sequence         uint64 `json:"sequence"`
	Buyer            string `json:"buyer"`
	RequestedSponsor string `json:"requestedSponsor"`
	Sponsor          string `json:"sponsor"`
	Spillover        bool   `json:"spillover"`
	Amount           string `json:"amount"`
	Commission       string `json:"commission"`
	Bonus            string `json:"bonus"`
	BonusRecipient   string `json:"bonusRecipient,omitempty"`
	StoreShare       string `json:"storeShare"`
	Timestamp        int64  `json:"timestamp"`
}

// RelationshipResult is one referral ledger row.
type RelationshipResult struct {
	Sequence  uint64 `json:"sequence"`
	Buyer     string `json:"buyer"`
	Sponsor   string `json:"sponsor"`
	Timestamp uint64 `json:"timestamp"`
}

// AccountResult is the balance record of an identity.
type AccountResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// SponsorResult reports the occupancy of a sponsor.
type SponsorResult struct {
	Address   string `json:"address"`
	Referrals uint64 `json:"referrals"`
	Capacity  uint32 `json:"capacity"`
}

// PurchaseRequest is the body of POST /v1/quote and POST /v1/purchase.
type PurchaseRequest struct {
	Sponsor string `json:"sponsor"`
	Amount  string `json:"amount"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func formatAmount(v uint64) string { return strconv.FormatUint(v, 10) }

func parseAmount(raw string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

func formatIdentity(id [20]byte) string {
	var zero [20]byte
	if id == zero {
		return ""
	}
	return crypto.FromRaw(id).String()
}

func configPayload(cfg giftcard.Config) ConfigPayload {
	amounts := make([]string, len(cfg.ValidAmounts))
	for i, a := range cfg.ValidAmounts {
		amounts[i] = formatAmount(a)
	}
	return ConfigPayload{
		ReferralLimit:        cfg.ReferralLimit,
		CommissionPercentage: cfg.CommissionPercentage,
		BonusPercentage:      cfg.BonusPercentage,
		ValidAmounts:         amounts,
		BonusRecipient:       formatIdentity(cfg.BonusRecipient),
	}
}

// Config converts the payload back into a ledger config.
func (p ConfigPayload) Config() (giftcard.Config, error) {
	cfg := giftcard.Config{
		ReferralLimit:        p.ReferralLimit,
		CommissionPercentage: p.CommissionPercentage,
		BonusPercentage:      p.BonusPercentage,
		ValidAmounts:         make([]uint64, 0, len(p.ValidAmounts)),
	}
	for _, raw := range p.ValidAmounts {
		amount, err := parseAmount(raw)
		if err != nil {
			return cfg, err
		}
		cfg.ValidAmounts = append(cfg.ValidAmounts, amount)
	}
	if trimmed := strings.TrimSpace(p.BonusRecipient); trimmed != "" {
		id, err := crypto.ParseIdentity(trimmed)
		if err != nil {
			return cfg, fmt.Errorf("bonus recipient: %w", err)
		}
		cfg.BonusRecipient = id
	}
	return cfg, nil
}

func storeResult(s *giftcard.Store) StoreResult {
	return StoreResult{
		Owner:                      formatIdentity(s.Owner),
		Custody:                    formatIdentity(s.Custody),
		Paused:                     s.Paused,
		TotalSold:                  formatAmount(s.TotalSold),
		TotalCommissionDistributed: formatAmount(s.TotalCommissionDistributed),
		TotalBonusDistributed:      formatAmount(s.TotalBonusDistributed),
		ReferralCount:              s.ReferralCount,
		CreatedAt:                  s.CreatedAt,
		Config:                     configPayload(s.Config),
	}
}

func receiptResult(r *giftcard.Receipt) ReceiptResult {
	return ReceiptResult{
		ID:               r.ID,
		Sequence:         r.Sequence,
		Buyer:            formatIdentity(r.Buyer),
		RequestedSponsor: formatIdentity(r.RequestedSponsor),
		Sponsor:          formatIdentity(r.Sponsor),
		Spillover:        r.Spillover,
		Amount:           formatAmount(r.Amount),
		Commission:       formatAmount(r.Commission),
		Bonus:            formatAmount(r.Bonus),
		BonusRecipient:   formatIdentity(r.BonusRecipient),
		StoreShare:       formatAmount(r.StoreShare),
		Timestamp:        r.Timestamp,
	}
}

func relationshipResults(rels []giftcard.Relationship) []RelationshipResult {
	out := make([]RelationshipResult, len(rels))
	for i, rel := range rels {
		out[i] = RelationshipResult{
			Sequence:  rel.Sequence,
			Buyer:     formatIdentity(rel.Buyer),
			Sponsor:   formatIdentity(rel.Sponsor),
			Timestamp: rel.Timestamp,
		}
	}
	return out
}

func accountResult(addr [20]byte, acc *types.Account) AccountResult {
	return AccountResult{Address: formatIdentity(addr), Balance: formatAmount(acc.Balance), Nonce: acc.Nonce}
}
