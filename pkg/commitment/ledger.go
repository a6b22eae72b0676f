package commitment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-labs/covenant/pkg/asset"
	"github.com/covenant-labs/covenant/pkg/auth"
	"github.com/covenant-labs/covenant/pkg/events"
	"github.com/covenant-labs/covenant/pkg/receipt"
	"github.com/covenant-labs/covenant/pkg/store"
)

const kindCommitment = "commitment"

const secondsPerDay = 24 * 60 * 60

// Ledger owns the canonical commitment records. Mutating operations are
// serialized by a single mutex, matching single-writer-per-transaction
// execution: invariant checks precede any write, so a failed operation
// leaves no partial state.
type Ledger struct {
	mu         sync.Mutex
	kv         store.KV
	assets     asset.Client
	authz      auth.Authorizer
	minter     receipt.Minter
	events     *events.Log
	escrow     string
	admin      string
	allocators map[string]bool
	oracles    map[string]bool
	clock      func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithEventLog sets the observability log.
func WithEventLog(l *events.Log) Option { return func(ld *Ledger) { ld.events = l } }

// WithMinter sets the receipt-token collaborator.
func WithMinter(m receipt.Minter) Option { return func(ld *Ledger) { ld.minter = m } }

// WithClock overrides clock for testing.
func WithClock(clock func() time.Time) Option { return func(ld *Ledger) { ld.clock = clock } }

// WithEscrowAccount sets the custody account holding locked funds.
func WithEscrowAccount(account string) Option { return func(ld *Ledger) { ld.escrow = account } }

// WithAdmin sets the administrator identity.
func WithAdmin(admin string) Option { return func(ld *Ledger) { ld.admin = admin } }

// WithAllocators registers the identities allowed to move escrowed liquidity.
func WithAllocators(ids ...string) Option {
	return func(ld *Ledger) {
		for _, id := range ids {
			ld.allocators[id] = true
		}
	}
}

// WithOracles registers the valuation oracles allowed to update values.
func WithOracles(ids ...string) Option {
	return func(ld *Ledger) {
		for _, id := range ids {
			ld.oracles[id] = true
		}
	}
}

func NewLedger(kv store.KV, assets asset.Client, authz auth.Authorizer, opts ...Option) *Ledger {
	l := &Ledger{
		kv:         kv,
		assets:     assets,
		authz:      authz,
		minter:     receipt.Noop{},
		events:     events.NewLog(),
		escrow:     "escrow",
		allocators: make(map[string]bool),
		oracles:    make(map[string]bool),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Events exposes the ledger's event log.
func (l *Ledger) Events() *events.Log { return l.events }

func (l *Ledger) key(id string) store.Key {
	return store.Key{Kind: kindCommitment, ID: id}
}

func (l *Ledger) read(ctx context.Context, id string) (Commitment, error) {
	var c Commitment
	ok, err := l.kv.Get(ctx, l.key(id), &c)
	if err != nil {
		return Commitment{}, err
	}
	if !ok {
		return Commitment{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// Create locks amount of the given asset from owner under the declared rules
// and persists a new active commitment. The debit is atomic with record
// creation: every precondition is checked before the transfer, and the record
// is only written after the transfer succeeds.
func (l *Ledger) Create(ctx context.Context, owner string, amount int64, assetAddr string, rules Rules) (string, error) {
	if err := l.authz.RequireAuth(ctx, owner); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if rules.DurationDays == 0 {
		return "", fmt.Errorf("%w: duration_days must be positive", ErrInvalidRules)
	}
	if rules.MaxLossPercent > 100 {
		return "", fmt.Errorf("%w: max_loss_percent %d out of range", ErrInvalidRules, rules.MaxLossPercent)
	}
	if rules.EarlyExitPenalty > 100 {
		return "", fmt.Errorf("%w: early_exit_penalty %d out of range", ErrInvalidRules, rules.EarlyExitPenalty)
	}
	if amount <= 0 {
		return "", fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, err := l.assets.Balance(ctx, assetAddr, owner)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if balance < amount {
		return "", fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientBalance, owner, balance, amount)
	}
	if err := l.assets.Transfer(ctx, assetAddr, owner, l.escrow, amount); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	now := uint64(l.clock().Unix())
	id := "cmt_" + uuid.NewString()

	tokenID, err := l.minter.Mint(ctx, id, owner)
	if err != nil {
		return "", fmt.Errorf("mint receipt token: %w", err)
	}

	c := Commitment{
		CommitmentID: id,
		Owner:        owner,
		NFTTokenID:   tokenID,
		Rules:        rules,
		Amount:       amount,
		AssetAddress: assetAddr,
		CreatedAt:    now,
		ExpiresAt:    now + uint64(rules.DurationDays)*secondsPerDay,
		CurrentValue: amount,
		Status:       StatusActive,
	}
	if err := l.kv.Set(ctx, l.key(id), c); err != nil {
		return "", err
	}

	l.publish(events.TopicCreate, []string{id}, owner, amount, assetAddr)
	return id, nil
}

// Get returns the commitment record.
func (l *Ledger) Get(ctx context.Context, id string) (Commitment, error) {
	return l.read(ctx, id)
}

// CheckViolations reports whether any rule is currently violated. Pure
// predicate: status is never mutated here. Resolved commitments are not
// re-evaluated and report false.
func (l *Ledger) CheckViolations(ctx context.Context, id string) (bool, error) {
	c, err := l.read(ctx, id)
	if err != nil {
		return false, err
	}
	if c.Status.Terminal() {
		return false, nil
	}
	lossViolated := LossPercent(c.Amount, c.CurrentValue) > int64(c.Rules.MaxLossPercent)
	return lossViolated || c.expired(l.clock()), nil
}

// ViolationDetails decomposes the violation predicate. Read-only.
func (l *Ledger) ViolationDetails(ctx context.Context, id string) (ViolationDetails, error) {
	c, err := l.read(ctx, id)
	if err != nil {
		return ViolationDetails{}, err
	}
	now := l.clock()
	d := ViolationDetails{
		LossPercent:      LossPercent(c.Amount, c.CurrentValue),
		DurationViolated: c.expired(now),
	}
	d.LossViolated = d.LossPercent > int64(c.Rules.MaxLossPercent)
	if ts := uint64(now.Unix()); ts < c.ExpiresAt {
		d.TimeRemaining = c.ExpiresAt - ts
	}
	d.HasViolations = d.LossViolated || d.DurationViolated
	return d, nil
}

// Settle releases the current value to the owner at maturity. No penalty
// applies at natural expiry.
func (l *Ledger) Settle(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.read(ctx, id)
	if err != nil {
		return err
	}
	if uint64(l.clock().Unix()) < c.ExpiresAt {
		return fmt.Errorf("%w: %s", ErrNotExpired, id)
	}
	if c.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadySettled, id, c.Status)
	}

	settlement := c.CurrentValue
	if settlement > 0 {
		if err := l.assets.Transfer(ctx, c.AssetAddress, l.escrow, c.Owner, settlement); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}

	c.Status = StatusSettled
	if err := l.kv.Set(ctx, l.key(id), c); err != nil {
		return err
	}
	if err := l.minter.MarkSettled(ctx, id); err != nil {
		return fmt.Errorf("settle receipt token: %w", err)
	}

	l.publish(events.TopicSettle, []string{id}, c.Owner, settlement)
	return nil
}

// EarlyExit terminates the commitment before maturity at the owner's request.
// The declared penalty percentage of current value stays in escrow custody;
// its further disposition is a collaborator concern.
func (l *Ledger) EarlyExit(ctx context.Context, id, caller string) error {
	if err := l.authz.RequireAuth(ctx, caller); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.read(ctx, id)
	if err != nil {
		return err
	}
	if caller != c.Owner {
		return fmt.Errorf("%w: %s is not the owner of %s", ErrUnauthorized, caller, id)
	}
	if c.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadySettled, id, c.Status)
	}

	penalty := c.CurrentValue * int64(c.Rules.EarlyExitPenalty) / 100
	remaining := c.CurrentValue - penalty
	if remaining > 0 {
		if err := l.assets.Transfer(ctx, c.AssetAddress, l.escrow, c.Owner, remaining); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}

	c.Status = StatusEarlyExit
	if err := l.kv.Set(ctx, l.key(id), c); err != nil {
		return err
	}
	if err := l.minter.MarkSettled(ctx, id); err != nil {
		return fmt.Errorf("settle receipt token: %w", err)
	}

	l.publish(events.TopicEarlyExit, []string{id}, caller, remaining, penalty)
	return nil
}

// Allocate moves escrowed liquidity to a target pool. Only identities on the
// allocator allow-list may call.
func (l *Ledger) Allocate(ctx context.Context, id, targetPool string, amount int64, caller string) error {
	if err := l.authz.RequireAuth(ctx, caller); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !l.allocators[caller] {
		return fmt.Errorf("%w: %s is not a registered allocator", ErrUnauthorized, caller)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.read(ctx, id)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadySettled, id, c.Status)
	}

	if err := l.assets.Transfer(ctx, c.AssetAddress, l.escrow, targetPool, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	l.publish(events.TopicAllocate, []string{id}, targetPool, amount)
	return nil
}

// UpdateValue sets the mark-to-market value and re-evaluates the rules. Only
// a registered valuation oracle or the admin may call. A post-update rule
// violation transitions the commitment to the terminal violated state.
func (l *Ledger) UpdateValue(ctx context.Context, id string, newValue int64, caller string) error {
	if err := l.authz.RequireAuth(ctx, caller); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !l.oracles[caller] && caller != l.admin {
		return fmt.Errorf("%w: %s is not a registered valuation oracle", ErrUnauthorized, caller)
	}
	if newValue < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, newValue)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.read(ctx, id)
	if err != nil {
		return err
	}
	if c.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrAlreadySettled, id, c.Status)
	}

	oldValue := c.CurrentValue
	c.CurrentValue = newValue

	lossPercent := LossPercent(c.Amount, c.CurrentValue)
	violated := lossPercent > int64(c.Rules.MaxLossPercent) || c.expired(l.clock())
	if violated {
		c.Status = StatusViolated
	}
	if err := l.kv.Set(ctx, l.key(id), c); err != nil {
		return err
	}

	l.publish(events.TopicValueUpd, []string{id}, oldValue, newValue)
	if violated {
		l.publish(events.TopicViolation, []string{id}, lossPercent, int64(c.Rules.MaxLossPercent))
	}
	return nil
}

func (l *Ledger) publish(topic string, tags []string, payload ...any) {
	if l.events == nil {
		return
	}
	// The log only fails on unmarshalable payloads; ours are scalars.
	_, _ = l.events.Publish(topic, tags, payload...)
}
