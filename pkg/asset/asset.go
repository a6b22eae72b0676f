// Package asset defines the fungible-asset transfer collaborator used by the
// commitment ledger to lock and release escrowed funds.
package asset

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInsufficientFunds is returned when a transfer exceeds the holder's balance.
var ErrInsufficientFunds = errors.New("asset: insufficient funds")

// Client exposes balance checks and transfers for a fungible asset.
// Implementations decide how authorization of the `from` party is proven;
// a failed transfer leaves balances unchanged.
type Client interface {
	Balance(ctx context.Context, asset, holder string) (int64, error)
	Transfer(ctx context.Context, asset, from, to string, amount int64) error
}

// MemoryBank is an in-process Client keeping balances per (asset, holder).
type MemoryBank struct {
	mu       sync.Mutex
	balances map[string]map[string]int64 // asset -> holder -> balance
}

func NewMemoryBank() *MemoryBank {
	return &MemoryBank{balances: make(map[string]map[string]int64)}
}

// Mint credits a holder. Test and faucet use only.
func (b *MemoryBank) Mint(asset, holder string, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[asset] == nil {
		b.balances[asset] = make(map[string]int64)
	}
	b.balances[asset][holder] += amount
}

func (b *MemoryBank) Balance(_ context.Context, asset, holder string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[asset][holder], nil
}

func (b *MemoryBank) Transfer(_ context.Context, asset, from, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("asset: non-positive transfer amount %d", amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[asset][from] < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, from, b.balances[asset][from], amount)
	}
	if b.balances[asset] == nil {
		b.balances[asset] = make(map[string]int64)
	}
	b.balances[asset][from] -= amount
	b.balances[asset][to] += amount
	return nil
}
