package state

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrInsufficientFunds indicates a debit larger than the source balance.
	ErrInsufficientFunds = errors.New("state: insufficient funds")

	balancePrefix = []byte("grain/balance/")
)

func balanceKey(addr [20]byte) []byte {
	key := make([]byte, len(balancePrefix)+len(addr))
	copy(key, balancePrefix)
	copy(key[len(balancePrefix):], addr[:])
	return key
}

// Balance returns the token balance for the supplied address. Unknown
// addresses hold zero.
func (m *Manager) Balance(addr [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.KVGet(balanceKey(addr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

func (m *Manager) setBalance(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: balance must be non-negative")
	}
	return m.KVPut(balanceKey(addr), amount)
}

// Mint credits the supplied address, growing total supply. Used by genesis
// funding and tests; the escrow engine itself only moves existing balances.
func (m *Manager) Mint(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: mint amount must be positive")
	}
	balance, err := m.Balance(addr)
	if err != nil {
		return err
	}
	return m.setBalance(addr, new(big.Int).Add(balance, amount))
}

// Transfer debits from and credits to atomically with respect to this state
// manager. A zero amount is a no-op; negative amounts are rejected.
func (m *Manager) Transfer(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: negative transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromBalance, err := m.Balance(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toBalance, err := m.Balance(to)
	if err != nil {
		return err
	}
	if err := m.setBalance(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return m.setBalance(to, new(big.Int).Add(toBalance, amount))
}
