// Package events provides the append-only observability log. Entries are
// hash-chained to their predecessor and never mutated or deleted. Payloads
// keep the per-topic field order fixed so external consumers can rely on
// positional decoding.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
)

// Topics published by the commitment ledger and the attestation engine.
const (
	TopicCreate    = "create"    // (owner, amount, asset)
	TopicSettle    = "settle"    // (owner, settlement_amount)
	TopicEarlyExit = "earlyexit" // (caller, remaining, penalty)
	TopicAllocate  = "allocate"  // (target_pool, amount)
	TopicValueUpd  = "valupd"    // (old_value, new_value)
	TopicViolation = "violation" // (loss_percent, max_loss_percent)
	TopicAttest    = "attest"    // (attestation_type, passed, timestamp)
	TopicFeeRec    = "feerec"    // (amount, timestamp)
	TopicDrawdown  = "drawdown"  // (current_value, drawdown_percent, timestamp)
	TopicScoreUpd  = "scoreupd"  // (score, timestamp)
)

// Event is an immutable, hash-chained log entry. Tags carry the subject
// identifiers (commitment ID first, then the actor where the topic has one);
// Payload carries the topic's ordered field tuple.
type Event struct {
	Sequence    uint64    `json:"sequence"`
	Topic       string    `json:"topic"`
	Tags        []string  `json:"tags"`
	Payload     []any     `json:"payload"`
	ContentHash string    `json:"content_hash"`
	PrevHash    string    `json:"prev_hash"`
	Timestamp   time.Time `json:"timestamp"`
}

// Log is an append-only, hash-chained event log.
type Log struct {
	mu       sync.RWMutex
	entries  []Event
	headHash string
	clock    func() time.Time
}

func NewLog() *Log {
	return &Log{headHash: "genesis", clock: time.Now}
}

// WithClock overrides clock for testing.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Publish appends an event. Returns the sequence number.
func (l *Log) Publish(topic string, tags []string, payload ...any) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1

	hashInput := struct {
		Seq     uint64   `json:"seq"`
		Topic   string   `json:"topic"`
		Tags    []string `json:"tags"`
		Payload []any    `json:"payload"`
		Prev    string   `json:"prev"`
	}{seq, topic, tags, payload, l.headHash}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return 0, fmt.Errorf("events: marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return 0, fmt.Errorf("events: canonicalize entry: %w", err)
	}
	h := sha256.Sum256(canonical)
	contentHash := "sha256:" + hex.EncodeToString(h[:])

	l.entries = append(l.entries, Event{
		Sequence:    seq,
		Topic:       topic,
		Tags:        tags,
		Payload:     payload,
		ContentHash: contentHash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock(),
	})
	l.headHash = contentHash
	return seq, nil
}

// Entries returns a copy of all events in order.
func (l *Log) Entries() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.entries))
	copy(out, l.entries)
	return out
}

// ByTag returns all events carrying the given tag, in order.
func (l *Log) ByTag(tag string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, e := range l.entries {
		for _, t := range e.Tags {
			if t == tag {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Last returns the most recent event, if any.
func (l *Log) Last() (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Event{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Verify walks the chain and reports the first broken link.
func (l *Log) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	prev := "genesis"
	for i, e := range l.entries {
		if e.PrevHash != prev {
			return fmt.Errorf("events: chain broken at sequence %d", i+1)
		}
		prev = e.ContentHash
	}
	return nil
}
