// Package attestation implements the compliance engine. It reads commitment
// state from the ledger and layers an append-only attestation log, fee and
// drawdown tracking, and a derived 0..100 compliance score on top, writing
// only to its own storage namespace.
package attestation

import (
	"context"
	"fmt"
	"time"

	"github.com/covenant-labs/covenant/pkg/auth"
	"github.com/covenant-labs/covenant/pkg/commitment"
	"github.com/covenant-labs/covenant/pkg/events"
	"github.com/covenant-labs/covenant/pkg/store"
)

const (
	kindAttestations = "attestations"
	kindFees         = "fees"
)

// Score weights. Drawdown at the commitment's own ceiling costs the full
// drawdown penalty; underfunded fees and active violations cost fixed amounts.
const (
	maxDrawdownPenalty = 50
	feePenalty         = 25
	violationPenalty   = 25
)

// Record is one attestation: a timestamped, evidence-bearing compliance
// check. Records are append-only and never mutated or deleted.
type Record struct {
	AttestationType string            `json:"attestation_type"`
	Data            map[string]string `json:"data"`
	VerifiedBy      string            `json:"verified_by"`
	Timestamp       uint64            `json:"timestamp"`
	Passed          bool              `json:"passed"`
}

// HealthMetrics aggregates derived health data for a commitment. Computed on
// demand, not persisted.
type HealthMetrics struct {
	CommitmentID       string `json:"commitment_id"`
	CurrentValue       int64  `json:"current_value"`
	InitialValue       int64  `json:"initial_value"`
	DrawdownPercent    int64  `json:"drawdown_percent"`
	FeesGenerated      int64  `json:"fees_generated"`
	VolatilityExposure int64  `json:"volatility_exposure"`
	LastAttestation    uint64 `json:"last_attestation"`
	ComplianceScore    uint32 `json:"compliance_score"`
}

// CommitmentSource is the read-only view of the ledger the engine depends on.
type CommitmentSource interface {
	Get(ctx context.Context, id string) (commitment.Commitment, error)
	CheckViolations(ctx context.Context, id string) (bool, error)
}

// Engine is the compliance engine. It never mutates ledger state.
type Engine struct {
	kv     store.KV
	ledger CommitmentSource
	authz  auth.Authorizer
	events *events.Log
	admin  string
	clock  func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithEventLog sets the observability log.
func WithEventLog(l *events.Log) Option { return func(e *Engine) { e.events = l } }

// WithAdmin sets the administrator allowed to record fees and drawdowns.
func WithAdmin(admin string) Option { return func(e *Engine) { e.admin = admin } }

// WithClock overrides clock for testing.
func WithClock(clock func() time.Time) Option { return func(e *Engine) { e.clock = clock } }

func NewEngine(kv store.KV, ledger CommitmentSource, authz auth.Authorizer, opts ...Option) *Engine {
	e := &Engine{
		kv:     kv,
		ledger: ledger,
		authz:  authz,
		events: events.NewLog(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Events exposes the engine's event log.
func (e *Engine) Events() *events.Log { return e.events }

// Attest reads the commitment's current violation state and appends an
// attestation record: passed is true when the ledger reports no violations.
// Any authenticated identity may attest; abuse control lives at the
// transport layer.
func (e *Engine) Attest(ctx context.Context, id, attestationType string, data map[string]string, verifiedBy string) error {
	hasViolations, err := e.ledger.CheckViolations(ctx, id)
	if err != nil {
		return err
	}

	now := uint64(e.clock().Unix())
	rec := Record{
		AttestationType: attestationType,
		Data:            data,
		VerifiedBy:      verifiedBy,
		Timestamp:       now,
		Passed:          !hasViolations,
	}

	records, err := e.attestations(ctx, id)
	if err != nil {
		return err
	}
	records = append(records, rec)
	if err := e.kv.Set(ctx, store.Key{Kind: kindAttestations, ID: id}, records); err != nil {
		return err
	}

	e.publish(events.TopicAttest, []string{id, verifiedBy}, attestationType, rec.Passed, now)
	return nil
}

// Attestations returns the ordered attestation sequence for a commitment.
// A commitment with no recorded attestations yields an empty sequence.
func (e *Engine) Attestations(ctx context.Context, id string) ([]Record, error) {
	return e.attestations(ctx, id)
}

func (e *Engine) attestations(ctx context.Context, id string) ([]Record, error) {
	records := []Record{}
	if _, err := e.kv.Get(ctx, store.Key{Kind: kindAttestations, ID: id}, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// RecordFees adds amount to the commitment's running fee accumulator.
// Administrator only; negative amounts are rejected.
func (e *Engine) RecordFees(ctx context.Context, caller, id string, amount int64) error {
	if err := e.requireAdmin(ctx, caller); err != nil {
		return err
	}
	if amount < 0 {
		return fmt.Errorf("%w: fee amount %d", commitment.ErrInvalidAmount, amount)
	}

	total, err := e.fees(ctx, id)
	if err != nil {
		return err
	}
	total += amount
	if err := e.kv.Set(ctx, store.Key{Kind: kindFees, ID: id}, total); err != nil {
		return err
	}

	now := uint64(e.clock().Unix())
	e.publish(events.TopicFeeRec, []string{id}, amount, now)
	return nil
}

// RecordDrawdown computes and publishes the drawdown of the supplied current
// value against the commitment's principal. Administrator only. History lives
// in the event log; nothing beyond the event is persisted.
func (e *Engine) RecordDrawdown(ctx context.Context, caller, id string, currentValue int64) (int64, error) {
	if err := e.requireAdmin(ctx, caller); err != nil {
		return 0, err
	}
	c, err := e.ledger.Get(ctx, id)
	if err != nil {
		return 0, err
	}

	drawdown := commitment.LossPercent(c.Amount, currentValue)
	now := uint64(e.clock().Unix())
	e.publish(events.TopicDrawdown, []string{id}, currentValue, drawdown, now)
	return drawdown, nil
}

// ComplianceScore derives the 0..100 score: start at 100, subtract a penalty
// proportional to drawdown severity relative to the commitment's own loss
// ceiling, a fixed penalty when fees are below threshold, and a fixed penalty
// when the ledger reports active violations. Always clamped to [0,100].
func (e *Engine) ComplianceScore(ctx context.Context, id string) (uint32, error) {
	c, err := e.ledger.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	hasViolations, err := e.ledger.CheckViolations(ctx, id)
	if err != nil {
		return 0, err
	}
	fees, err := e.fees(ctx, id)
	if err != nil {
		return 0, err
	}

	score := int64(100)

	drawdown := commitment.LossPercent(c.Amount, c.CurrentValue)
	if drawdown > 0 {
		ceiling := int64(c.Rules.MaxLossPercent)
		if ceiling == 0 {
			ceiling = 100
		}
		penalty := drawdown * maxDrawdownPenalty / ceiling
		if penalty > maxDrawdownPenalty {
			penalty = maxDrawdownPenalty
		}
		score -= penalty
	}
	if fees < c.Rules.MinFeeThreshold {
		score -= feePenalty
	}
	if hasViolations {
		score -= violationPenalty
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	now := uint64(e.clock().Unix())
	e.publish(events.TopicScoreUpd, []string{id}, score, now)
	return uint32(score), nil
}

// VerifyCompliance is the strict composite predicate: drawdown within the
// ceiling, not expired (skipped when DurationDays==0), accumulated fees at or
// above threshold, and no active violations on the ledger. Stricter than the
// score: a commitment can hold a nonzero score and still fail here.
func (e *Engine) VerifyCompliance(ctx context.Context, id string) (bool, error) {
	c, err := e.ledger.Get(ctx, id)
	if err != nil {
		return false, err
	}

	if commitment.LossPercent(c.Amount, c.CurrentValue) > int64(c.Rules.MaxLossPercent) {
		return false, nil
	}
	if c.Rules.DurationDays > 0 && uint64(e.clock().Unix()) >= c.ExpiresAt {
		return false, nil
	}
	fees, err := e.fees(ctx, id)
	if err != nil {
		return false, err
	}
	if fees < c.Rules.MinFeeThreshold {
		return false, nil
	}
	hasViolations, err := e.ledger.CheckViolations(ctx, id)
	if err != nil {
		return false, err
	}
	return !hasViolations, nil
}

// Metrics aggregates current health data for a commitment. The embedded
// score equals a direct ComplianceScore call for the same state.
func (e *Engine) Metrics(ctx context.Context, id string) (HealthMetrics, error) {
	c, err := e.ledger.Get(ctx, id)
	if err != nil {
		return HealthMetrics{}, err
	}
	fees, err := e.fees(ctx, id)
	if err != nil {
		return HealthMetrics{}, err
	}
	records, err := e.attestations(ctx, id)
	if err != nil {
		return HealthMetrics{}, err
	}
	score, err := e.ComplianceScore(ctx, id)
	if err != nil {
		return HealthMetrics{}, err
	}

	m := HealthMetrics{
		CommitmentID:    id,
		CurrentValue:    c.CurrentValue,
		InitialValue:    c.Amount,
		DrawdownPercent: commitment.LossPercent(c.Amount, c.CurrentValue),
		FeesGenerated:   fees,
		// VolatilityExposure stays 0 until a realized-variance feed exists.
		VolatilityExposure: 0,
		ComplianceScore:    score,
	}
	if len(records) > 0 {
		m.LastAttestation = records[len(records)-1].Timestamp
	}
	return m, nil
}

func (e *Engine) fees(ctx context.Context, id string) (int64, error) {
	var total int64
	if _, err := e.kv.Get(ctx, store.Key{Kind: kindFees, ID: id}, &total); err != nil {
		return 0, err
	}
	return total, nil
}

func (e *Engine) requireAdmin(ctx context.Context, caller string) error {
	if err := e.authz.RequireAuth(ctx, caller); err != nil {
		return fmt.Errorf("%w: %v", commitment.ErrUnauthorized, err)
	}
	if caller != e.admin {
		return fmt.Errorf("%w: %s is not the administrator", commitment.ErrUnauthorized, caller)
	}
	return nil
}

func (e *Engine) publish(topic string, tags []string, payload ...any) {
	if e.events == nil {
		return
	}
	_, _ = e.events.Publish(topic, tags, payload...)
}
