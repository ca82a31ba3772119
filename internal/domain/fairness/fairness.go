// Package fairness aggregates per-side asset values into a signed value delta,
// a fairness tier and a 0-100 fairness score.
package fairness

import (
	"errors"
	"math"
)

// Tier labels. The suffix names who the trade favours: _YOU is the proposer
// (side A, receiving side B), _THEM is the counterparty.
const (
	TierFair        = "FAIR"
	TierSlightYou   = "SLIGHT_YOU"
	TierSlightThem  = "SLIGHT_THEM"
	TierLeanYou     = "LEAN_YOU"
	TierLeanThem    = "LEAN_THEM"
	TierFleeceYou   = "FLEECE_YOU"
	TierFleeceThem  = "FLEECE_THEM"
	maxFairness     = 100
	defaultFairSpan = 0.5
)

// Basis selects the denominator of the value delta.
type Basis string

// Delta bases.
const (
	// BasisSideA divides by the side-A total.
	BasisSideA Basis = "side_a"
	// BasisMidpoint divides by the mean of both totals and is antisymmetric.
	BasisMidpoint Basis = "midpoint"
)

// ErrEmptySide is returned when either side has no assets.
var ErrEmptySide = errors.New("both trade sides must contain at least one asset")

// Thresholds are the upper bounds of |delta| for each tier.
type Thresholds struct {
	Fair   float64
	Slight float64
	Lean   float64
}

// DefaultThresholds returns the 6% / 12% / 20% tier boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{Fair: 0.06, Slight: 0.12, Lean: 0.20}
}

// Result is the fairness verdict of one trade.
type Result struct {
	SumA          float64 `json:"sum_a"`
	SumB          float64 `json:"sum_b"`
	ValueDeltaPct float64 `json:"value_delta_pct"`
	Tier          string  `json:"tier"`
	FairnessScore float64 `json:"fairness_score"`
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithThresholds sets the tier boundaries. Non-increasing bounds are ignored.
func WithThresholds(t Thresholds) Option {
	return func(s *Scorer) {
		if t.Fair > 0 && t.Slight > t.Fair && t.Lean > t.Slight {
			s.thresholds = t
		}
	}
}

// WithBasis sets the delta denominator.
func WithBasis(b Basis) Option {
	return func(s *Scorer) {
		if b == BasisSideA || b == BasisMidpoint {
			s.basis = b
		}
	}
}

// WithFairSpan sets the |delta| at which the fairness score reaches 0.
func WithFairSpan(span float64) Option {
	return func(s *Scorer) {
		if span > 0 {
			s.span = span
		}
	}
}

// Scorer is pure: identical inputs always produce identical output.
type Scorer struct {
	thresholds Thresholds
	basis      Basis
	span       float64
}

// NewScorer creates a scorer with default thresholds and the side-A basis.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		thresholds: DefaultThresholds(),
		basis:      BasisSideA,
		span:       defaultFairSpan,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score evaluates the values of side A (given by the proposer) against side B
// (received by the proposer).
func (s *Scorer) Score(sideA, sideB []float64) (Result, error) {
	if len(sideA) == 0 || len(sideB) == 0 {
		return Result{}, ErrEmptySide
	}
	a, b := sum(sideA), sum(sideB)
	delta := s.Delta(a, b)
	return Result{
		SumA:          a,
		SumB:          b,
		ValueDeltaPct: delta,
		Tier:          s.Tier(delta),
		FairnessScore: maxFairness * (1 - math.Min(1, math.Abs(delta)/s.span)),
	}, nil
}

// Delta computes the signed value delta of totals a and b.
func (s *Scorer) Delta(a, b float64) float64 {
	denom := a
	if s.basis == BasisMidpoint {
		denom = (a + b) / 2
	}
	return (b - a) / math.Max(1, denom)
}

// Tier buckets a delta. A delta of exactly 0 is always FAIR.
func (s *Scorer) Tier(delta float64) string {
	mag := math.Abs(delta)
	if delta == 0 || mag <= s.thresholds.Fair {
		return TierFair
	}
	you := delta > 0
	switch {
	case mag <= s.thresholds.Slight:
		return pick(you, TierSlightYou, TierSlightThem)
	case mag <= s.thresholds.Lean:
		return pick(you, TierLeanYou, TierLeanThem)
	default:
		return pick(you, TierFleeceYou, TierFleeceThem)
	}
}

// Thresholds returns the configured tier boundaries.
func (s *Scorer) Thresholds() Thresholds { return s.thresholds }

func pick(you bool, a, b string) string {
	if you {
		return a
	}
	return b
}

func sum(xs []float64) float64 {
	var t float64
	for _, x := range xs {
		if x > 0 && !math.IsInf(x, 1) {
			t += x
		}
	}
	return t
}
