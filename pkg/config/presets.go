package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/covenant-labs/covenant/pkg/commitment"
)

// RulePreset is a named default rule set for a commitment type.
type RulePreset struct {
	CommitmentType   string `yaml:"commitment_type" json:"commitment_type"`
	DurationDays     uint32 `yaml:"duration_days" json:"duration_days"`
	MaxLossPercent   uint32 `yaml:"max_loss_percent" json:"max_loss_percent"`
	EarlyExitPenalty uint32 `yaml:"early_exit_penalty" json:"early_exit_penalty"`
	MinFeeThreshold  int64  `yaml:"min_fee_threshold" json:"min_fee_threshold"`
}

type presetFile struct {
	Presets []RulePreset `yaml:"presets"`
}

// Rules converts the preset into ledger rules.
func (p RulePreset) Rules() commitment.Rules {
	return commitment.Rules{
		DurationDays:     p.DurationDays,
		MaxLossPercent:   p.MaxLossPercent,
		CommitmentType:   p.CommitmentType,
		EarlyExitPenalty: p.EarlyExitPenalty,
		MinFeeThreshold:  p.MinFeeThreshold,
	}
}

// DefaultPresets returns the built-in safe/balanced/aggressive presets.
func DefaultPresets() map[string]RulePreset {
	return map[string]RulePreset{
		"safe":       {CommitmentType: "safe", DurationDays: 30, MaxLossPercent: 5, EarlyExitPenalty: 5, MinFeeThreshold: 0},
		"balanced":   {CommitmentType: "balanced", DurationDays: 90, MaxLossPercent: 20, EarlyExitPenalty: 10, MinFeeThreshold: 100},
		"aggressive": {CommitmentType: "aggressive", DurationDays: 180, MaxLossPercent: 50, EarlyExitPenalty: 15, MinFeeThreshold: 500},
	}
}

// LoadPresets reads rule presets from a YAML profile, keyed by commitment
// type. An empty path yields the built-in defaults.
func LoadPresets(path string) (map[string]RulePreset, error) {
	if path == "" {
		return DefaultPresets(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read presets %s: %w", path, err)
	}
	var pf presetFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("config: parse presets %s: %w", path, err)
	}
	out := make(map[string]RulePreset, len(pf.Presets))
	for _, p := range pf.Presets {
		if p.CommitmentType == "" {
			return nil, fmt.Errorf("config: preset missing commitment_type in %s", path)
		}
		if p.MaxLossPercent > 100 || p.EarlyExitPenalty > 100 {
			return nil, fmt.Errorf("config: preset %q has out-of-range percent", p.CommitmentType)
		}
		out[p.CommitmentType] = p
	}
	return out, nil
}
