package state

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"solbox/core/types"
)

var (
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	ErrBalanceOverflow     = errors.New("state: balance overflow")
)

// GetAccount returns the account stored for addr, or an empty account.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	var account types.Account
	if _, err := m.KVGet(accountKey(addr), &account); err != nil {
		return nil, fmt.Errorf("state: load account: %w", err)
	}
	return &account, nil
}

// PutAccount overwrites the account stored for addr.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return m.KVDelete(accountKey(addr))
	}
	return m.KVPut(accountKey(addr), account)
}

// Balance returns the spendable balance of addr.
func (m *Manager) Balance(addr [20]byte) (uint64, error) {
	account, err := m.GetAccount(addr)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Credit adds amount to the balance of addr.
func (m *Manager) Credit(addr [20]byte, amount uint64) error {
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(account.Balance), uint256.NewInt(amount))
	if overflow || !sum.IsUint64() {
		return ErrBalanceOverflow
	}
	account.Balance = sum.Uint64()
	return m.PutAccount(addr, account)
}

// Transfer moves amount from one balance to another.
func (m *Manager) Transfer(from, to [20]byte, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	sender, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, sender.Balance, amount)
	}
	sender.Balance -= amount
	if err := m.PutAccount(from, sender); err != nil {
		return err
	}
	return m.Credit(to, amount)
}

// IncrementNonce bumps the call counter of addr.
func (m *Manager) IncrementNonce(addr [20]byte) error {
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	account.Nonce++
	return m.PutAccount(addr, account)
}
