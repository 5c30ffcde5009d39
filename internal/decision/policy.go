package decision

import (
	"fmt"

	"coffee-location-dedup/internal/constants"
	"coffee-location-dedup/internal/models"
)

// Verdicts for a scored pair.
const (
	VerdictMatch   = "match"    // duplicate edge; cluster resolution merges it
	VerdictFlag    = "flag"     // inside the review band, needs an operator
	VerdictNoMatch = "no_match" // distinct records
)

// Config holds the two matching thresholds plus the review band width.
type Config struct {
	TextThreshold      float64 // minimum composite text similarity, inclusive
	DistanceThresholdM float64 // maximum separation in meters, inclusive
	FlagMargin         float64 // review band width directly below TextThreshold; 0 disables flagging
}

// DefaultConfig returns the standard 0.85 / 50m / 0.05 policy.
func DefaultConfig() Config {
	return Config{
		TextThreshold:      constants.DefaultTextThreshold,
		DistanceThresholdM: constants.DefaultDistanceThresholdM,
		FlagMargin:         constants.DefaultFlagMargin,
	}
}

// Outcome is the decision for one scored pair.
type Outcome struct {
	Verdict        string `json:"verdict"`
	Reason         string `json:"reason"`
	RequiresReview bool   `json:"requires_review"`
}

// Policy applies the two-signal match rule: text similarity and proximity
// must BOTH qualify. Similar names across town never match; unrelated
// neighbors never match. A Policy is immutable; build a new one to change
// thresholds.
type Policy struct {
	cfg Config
}

func NewPolicy(cfg Config) *Policy {
	if cfg.TextThreshold <= 0 {
		cfg.TextThreshold = constants.DefaultTextThreshold
	}
	if cfg.DistanceThresholdM <= 0 {
		cfg.DistanceThresholdM = constants.DefaultDistanceThresholdM
	}
	if cfg.FlagMargin < 0 {
		cfg.FlagMargin = 0
	}
	return &Policy{cfg: cfg}
}

func NewDefault() *Policy { return NewPolicy(DefaultConfig()) }

// Config returns the thresholds the policy was built with.
func (p *Policy) Config() Config { return p.cfg }

// Evaluate decides one pair. Values exactly at TextThreshold or at
// DistanceThresholdM qualify; anything past either bound does not.
func (p *Policy) Evaluate(ps models.PairScore) Outcome {
	distOK := ps.DistanceMeters <= p.cfg.DistanceThresholdM

	switch {
	case distOK && ps.TextSimilarity >= p.cfg.TextThreshold:
		return Outcome{
			Verdict: VerdictMatch,
			Reason: fmt.Sprintf("similarity %.3f >= %.2f and %.1fm within %.0fm",
				ps.TextSimilarity, p.cfg.TextThreshold, ps.DistanceMeters, p.cfg.DistanceThresholdM),
		}

	case distOK && p.cfg.FlagMargin > 0 && ps.TextSimilarity >= p.cfg.TextThreshold-p.cfg.FlagMargin:
		return Outcome{
			Verdict:        VerdictFlag,
			RequiresReview: true,
			Reason: fmt.Sprintf("similarity %.3f within %.2f of threshold %.2f at %.1fm",
				ps.TextSimilarity, p.cfg.FlagMargin, p.cfg.TextThreshold, ps.DistanceMeters),
		}

	case !distOK && ps.TextSimilarity >= p.cfg.TextThreshold:
		return Outcome{
			Verdict: VerdictNoMatch,
			Reason: fmt.Sprintf("similar text (%.3f) but %.1fm apart exceeds %.0fm",
				ps.TextSimilarity, ps.DistanceMeters, p.cfg.DistanceThresholdM),
		}

	default:
		return Outcome{
			Verdict: VerdictNoMatch,
			Reason: fmt.Sprintf("similarity %.3f below %.2f",
				ps.TextSimilarity, p.cfg.TextThreshold),
		}
	}
}
