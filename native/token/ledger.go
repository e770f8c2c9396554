package token

import (
	"errors"
	"math/big"
	"sync"
)

var (
	errInvalidAmount       = errors.New("token ledger: amount must be positive")
	errInsufficientBalance = errors.New("token ledger: insufficient balance")
	errUnknownSymbol       = errors.New("token ledger: unknown token symbol")
)

// ErrInsufficientBalance reports a transfer or burn exceeding the holder's balance.
var ErrInsufficientBalance = errInsufficientBalance

// Ledger is the fungible-token bookkeeping collaborator. The protocol core
// only mints against surplus backing, burns on redemption and melt, and moves
// balances between module accounts; it never tracks balances itself.
type Ledger interface {
	Mint(symbol, to string, amount *big.Int) error
	Burn(symbol, from string, amount *big.Int) error
	Transfer(symbol, from, to string, amount *big.Int) error
	BalanceOf(symbol, holder string) *big.Int
	TotalSupply(symbol string) *big.Int
}

// MemLedger is an in-memory Ledger used by the daemon's local mode and by
// package tests. All methods are safe for serialized use; the mutex only
// protects against accidental cross-goroutine access from the HTTP plane.
type MemLedger struct {
	mu       sync.RWMutex
	balances map[string]map[string]*big.Int
	supply   map[string]*big.Int
}

func NewMemLedger() *MemLedger {
	return &MemLedger{
		balances: make(map[string]map[string]*big.Int),
		supply:   make(map[string]*big.Int),
	}
}

func (l *MemLedger) Mint(symbol, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(symbol, to, amount)
	supply, ok := l.supply[symbol]
	if !ok {
		supply = big.NewInt(0)
		l.supply[symbol] = supply
	}
	supply.Add(supply, amount)
	return nil
}

func (l *MemLedger) Burn(symbol, from string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(symbol, from, amount); err != nil {
		return err
	}
	supply, ok := l.supply[symbol]
	if !ok || supply.Cmp(amount) < 0 {
		return errUnknownSymbol
	}
	supply.Sub(supply, amount)
	return nil
}

func (l *MemLedger) Transfer(symbol, from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.debit(symbol, from, amount); err != nil {
		return err
	}
	l.credit(symbol, to, amount)
	return nil
}

func (l *MemLedger) BalanceOf(symbol, holder string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	holders, ok := l.balances[symbol]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := holders[holder]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

func (l *MemLedger) TotalSupply(symbol string) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	supply, ok := l.supply[symbol]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(supply)
}

func (l *MemLedger) credit(symbol, holder string, amount *big.Int) {
	holders, ok := l.balances[symbol]
	if !ok {
		holders = make(map[string]*big.Int)
		l.balances[symbol] = holders
	}
	bal, ok := holders[holder]
	if !ok {
		bal = big.NewInt(0)
		holders[holder] = bal
	}
	bal.Add(bal, amount)
}

func (l *MemLedger) debit(symbol, holder string, amount *big.Int) error {
	holders, ok := l.balances[symbol]
	if !ok {
		return errInsufficientBalance
	}
	bal, ok := holders[holder]
	if !ok || bal.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	bal.Sub(bal, amount)
	return nil
}
