// Package store provides the keyed persistent record store shared by the
// commitment ledger and the attestation engine. Records are addressed by a
// (kind, id) composite key. Each component owns its own kind namespace and
// never writes into another component's.
package store

import (
	"context"
	"encoding/json"
	"sync"
)

// Key is the composite record address: a kind namespace plus a record ID.
type Key struct {
	Kind string
	ID   string
}

// KV defines the interface for persisting and retrieving keyed records.
// Values are JSON-encoded by the implementation.
type KV interface {
	// Get decodes the record at key into dest. The boolean reports whether
	// the record exists; a missing record is not an error.
	Get(ctx context.Context, key Key, dest any) (bool, error)
	Set(ctx context.Context, key Key, value any) error
	Has(ctx context.Context, key Key) (bool, error)
}

// Memory is an in-process KV for tests and single-node deployments.
type Memory struct {
	mu      sync.RWMutex
	records map[Key]json.RawMessage
}

func NewMemory() *Memory {
	return &Memory{records: make(map[Key]json.RawMessage)}
}

func (m *Memory) Get(_ context.Context, key Key, dest any) (bool, error) {
	m.mu.RLock()
	raw, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return true, err
	}
	return true, nil
}

func (m *Memory) Set(_ context.Context, key Key, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) Has(_ context.Context, key Key) (bool, error) {
	m.mu.RLock()
	_, ok := m.records[key]
	m.mu.RUnlock()
	return ok, nil
}
