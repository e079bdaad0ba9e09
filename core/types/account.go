package types

// Account is the balance record the ledger keeps for an identity. Balances are
// expressed in base units.
type Account struct {
	Nonce   uint64 `json:"nonce"`
	Balance uint64 `json:"balance"`
}

// Clone returns a copy of the account, or an empty account for nil.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{}
	}
	clone := *a
	return &clone
}
