// Package receipt defines the receipt-token collaborator. The ledger mints one
// receipt token per commitment at creation and marks it settled when the
// commitment resolves.
package receipt

import (
	"context"
	"sync"
)

// Minter issues and settles receipt tokens.
type Minter interface {
	Mint(ctx context.Context, commitmentID, owner string) (int64, error)
	MarkSettled(ctx context.Context, commitmentID string) error
}

// Noop satisfies Minter without issuing anything. Token ID 0 means "no token".
type Noop struct{}

func (Noop) Mint(context.Context, string, string) (int64, error) { return 0, nil }
func (Noop) MarkSettled(context.Context, string) error           { return nil }

// Token is a minted receipt record.
type Token struct {
	TokenID      int64
	CommitmentID string
	Owner        string
	Settled      bool
}

// MemoryMinter issues sequential token IDs and tracks settlement in memory.
type MemoryMinter struct {
	mu     sync.Mutex
	next   int64
	tokens map[string]*Token // commitmentID -> token
}

func NewMemoryMinter() *MemoryMinter {
	return &MemoryMinter{next: 1, tokens: make(map[string]*Token)}
}

func (m *MemoryMinter) Mint(_ context.Context, commitmentID, owner string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.tokens[commitmentID] = &Token{TokenID: id, CommitmentID: commitmentID, Owner: owner}
	return id, nil
}

func (m *MemoryMinter) MarkSettled(_ context.Context, commitmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[commitmentID]; ok {
		t.Settled = true
	}
	return nil
}

// Token returns the minted token for a commitment, if any.
func (m *MemoryMinter) Token(commitmentID string) (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[commitmentID]
	if !ok {
		return Token{}, false
	}
	return *t, true
}
