// Package commitment implements the commitment ledger: the system of record
// for escrowed principal locked under declared rules, its mark-to-market
// value, and its lifecycle state machine.
package commitment

import "time"

// Status is the commitment lifecycle state. Transitions are forward-only:
// active -> settled, active -> early_exit, active -> violated (the last only
// through a value update that trips a rule).
type Status string

const (
	StatusActive    Status = "active"
	StatusSettled   Status = "settled"
	StatusViolated  Status = "violated"
	StatusEarlyExit Status = "early_exit"
)

// Terminal reports whether no further mutation is permitted.
func (s Status) Terminal() bool { return s != StatusActive }

// Rules are the declared terms of a commitment. Immutable once attached.
type Rules struct {
	// DurationDays is the commitment lifetime in days. 0 is a sentinel
	// meaning "no duration check" and is rejected at creation; it can only
	// appear on records seeded by external systems.
	DurationDays uint32 `json:"duration_days"`
	// MaxLossPercent is the drawdown ceiling, 0..100.
	MaxLossPercent uint32 `json:"max_loss_percent"`
	// CommitmentType is an informational label: "safe", "balanced", "aggressive".
	CommitmentType string `json:"commitment_type"`
	// EarlyExitPenalty is the percent of current value forfeited on early exit, 0..100.
	EarlyExitPenalty uint32 `json:"early_exit_penalty"`
	// MinFeeThreshold is the minimum cumulative fees for compliance.
	MinFeeThreshold int64 `json:"min_fee_threshold"`
}

// Commitment is the canonical escrow record.
type Commitment struct {
	CommitmentID string `json:"commitment_id"`
	Owner        string `json:"owner"`
	NFTTokenID   int64  `json:"nft_token_id"`
	Rules        Rules  `json:"rules"`
	// Amount is the principal locked at creation. Immutable, always > 0 for
	// ledger-created records.
	Amount       int64  `json:"amount"`
	AssetAddress string `json:"asset_address"`
	CreatedAt    uint64 `json:"created_at"`
	ExpiresAt    uint64 `json:"expires_at"`
	// CurrentValue is the caller-supplied mark-to-market value.
	CurrentValue int64  `json:"current_value"`
	Status       Status `json:"status"`
}

// ViolationDetails decomposes the violation predicate for a commitment.
type ViolationDetails struct {
	HasViolations    bool   `json:"has_violations"`
	LossViolated     bool   `json:"loss_violated"`
	DurationViolated bool   `json:"duration_violated"`
	LossPercent      int64  `json:"loss_percent"`
	TimeRemaining    uint64 `json:"time_remaining"`
}

// LossPercent computes the floor drawdown percentage of current against
// amount. Defensive 0 when amount is not positive, so seeded zero-amount
// records never cause a division fault.
func LossPercent(amount, current int64) int64 {
	if amount <= 0 {
		return 0
	}
	return (amount - current) * 100 / amount
}

// expired applies the duration check, honoring the DurationDays==0 sentinel.
func (c Commitment) expired(now time.Time) bool {
	return c.Rules.DurationDays > 0 && uint64(now.Unix()) >= c.ExpiresAt
}
