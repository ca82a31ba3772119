// Package learning fits segment weights from resolved outcomes with clamped,
// held-out-gated updates, and replays history week by week for backtests.
package learning

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/tradevalue/internal/domain/model"
	"github.com/okian/tradevalue/internal/domain/predict"
)

const (
	nParams = 5 // b0 + four feature weights
	epsProb = 1e-12
)

// Sample is one resolved prediction used for training.
type Sample struct {
	Features   model.Features
	Accepted   bool
	ObservedAt time.Time
}

// SamplesFromRecords keeps the resolved records, in observation order.
func SamplesFromRecords(records []model.PredictionRecord) []Sample {
	out := make([]Sample, 0, len(records))
	for _, r := range records {
		if !r.Resolved() {
			continue
		}
		out = append(out, Sample{Features: r.Features, Accepted: r.Outcome.Accepted, ObservedAt: r.Outcome.ObservedAt})
	}
	sortSamples(out)
	return out
}

// Params tunes the fit.
type Params struct {
	// MaxDelta bounds the per-cycle change of every coefficient, b0 included.
	MaxDelta        float64
	HoldoutFraction float64
	LearningRate    float64
	Iterations      int
	L2              float64
	// WeightCap bounds the L1 norm of the proposed feature weights; larger
	// proposals are rescaled together with b0.
	WeightCap      float64
	MinSamples     int
	MinImprovement float64
	BacktestGate   bool
}

// DefaultParams returns the production learning parameters.
func DefaultParams() Params {
	return Params{
		MaxDelta:        0.03,
		HoldoutFraction: 0.25,
		LearningRate:    0.5,
		Iterations:      400,
		L2:              0.01,
		WeightCap:       12,
		MinSamples:      30,
	}
}

// Candidate is the pure result of a fit. Nothing is persisted until Commit.
type Candidate struct {
	Segment       string               `json:"segment"`
	Current       model.SegmentWeights `json:"current"`
	Learned       model.SegmentWeights `json:"learned"`
	BaselineScore float64              `json:"baseline_score"`
	LearnedScore  float64              `json:"learned_score"`
	Improved      bool                 `json:"improved"`
	TrainSize     int                  `json:"train_size"`
	HoldoutSize   int                  `json:"holdout_size"`
}

// Fit proposes new weights for current.Segment. Samples are split
// chronologically; the newest HoldoutFraction is held out for scoring. Scores
// are mean log-loss, lower is better.
func Fit(samples []Sample, current model.SegmentWeights, p Params) (Candidate, error) {
	p = p.normalized()
	if len(samples) < p.MinSamples {
		return Candidate{}, fmt.Errorf("%w: %d samples, need %d", ErrInsufficientData, len(samples), p.MinSamples)
	}
	ordered := make([]Sample, len(samples))
	copy(ordered, samples)
	sortSamples(ordered)

	h := int(math.Round(float64(len(ordered)) * p.HoldoutFraction))
	if h < 1 {
		h = 1
	}
	if h >= len(ordered) {
		return Candidate{}, fmt.Errorf("%w: no training samples after holdout", ErrInsufficientData)
	}
	train, holdout := ordered[:len(ordered)-h], ordered[len(ordered)-h:]

	current.Weights = predict.ConstrainWeights(current.Weights)
	start := toVector(current)
	proposal := descend(train, start, p)
	if !finiteVec(proposal) {
		return Candidate{}, ErrNumericalInstability
	}
	proposal = capL1(proposal, p.WeightCap)
	next := clampVec(start, proposal, p.MaxDelta)
	if !finiteVec(next) {
		return Candidate{}, ErrNumericalInstability
	}

	learned := fromVector(next, current)
	learned.SampleSize = len(ordered)
	learned.TrainedThrough = ordered[len(ordered)-1].ObservedAt

	base := LogLoss(holdout, current)
	got := LogLoss(holdout, learned)
	if math.IsNaN(base) || math.IsNaN(got) || math.IsInf(got, 0) {
		return Candidate{}, ErrNumericalInstability
	}
	return Candidate{
		Segment:       current.Segment,
		Current:       current,
		Learned:       learned,
		BaselineScore: base,
		LearnedScore:  got,
		Improved:      got < base-p.MinImprovement,
		TrainSize:     len(train),
		HoldoutSize:   len(holdout),
	}, nil
}

// LogLoss is the mean negative log-likelihood of w over samples.
func LogLoss(samples []Sample, w model.SegmentWeights) float64 {
	if len(samples) == 0 {
		return 0
	}
	var total float64
	for _, s := range samples {
		prob := predict.Predict(s.Features, w, "").Probability
		prob = math.Min(1-epsProb, math.Max(epsProb, prob))
		if s.Accepted {
			total -= math.Log(prob)
		} else {
			total -= math.Log(1 - prob)
		}
	}
	return total / float64(len(samples))
}

// descend runs batch gradient descent on L2-regularised mean NLL. The
// value-delta weight is projected back to >= 0 after every step.
func descend(train []Sample, theta [nParams]float64, p Params) [nParams]float64 {
	n := float64(len(train))
	for it := 0; it < p.Iterations; it++ {
		var grad [nParams]float64
		for _, s := range train {
			x := s.Features.Vector()
			z := theta[0]
			for j := 0; j < 4; j++ {
				z += theta[j+1] * x[j]
			}
			y := 0.0
			if s.Accepted {
				y = 1
			}
			r := predict.Sigmoid(z) - y
			grad[0] += r
			for j := 0; j < 4; j++ {
				grad[j+1] += r * x[j]
			}
		}
		for j := range grad {
			grad[j] /= n
			if j > 0 {
				grad[j] += p.L2 * theta[j]
			}
			theta[j] -= p.LearningRate * grad[j]
		}
		if theta[1] < 0 {
			theta[1] = 0
		}
		if !finiteVec(theta) {
			return theta
		}
	}
	return theta
}

func capL1(v [nParams]float64, limit float64) [nParams]float64 {
	if limit <= 0 {
		return v
	}
	var l1 float64
	for j := 1; j < nParams; j++ {
		l1 += math.Abs(v[j])
	}
	if l1 <= limit {
		return v
	}
	scale := limit / l1
	for j := range v {
		v[j] *= scale
	}
	return v
}

// clampVec moves each coefficient from old toward proposed by at most maxDelta.
func clampVec(old, proposed [nParams]float64, maxDelta float64) [nParams]float64 {
	var out [nParams]float64
	for j := range old {
		d := proposed[j] - old[j]
		out[j] = old[j] + math.Max(-maxDelta, math.Min(maxDelta, d))
	}
	return out
}

func toVector(w model.SegmentWeights) [nParams]float64 {
	f := w.Weights.Vector()
	return [nParams]float64{w.B0, f[0], f[1], f[2], f[3]}
}

func fromVector(v [nParams]float64, base model.SegmentWeights) model.SegmentWeights {
	out := base
	out.SchemaVersion = model.SchemaVersion
	out.B0 = v[0]
	out.Weights = model.WeightsFromVector([4]float64{v[1], v[2], v[3], v[4]})
	return out
}

func finiteVec(v [nParams]float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func sortSamples(s []Sample) {
	sort.SliceStable(s, func(i, j int) bool { return s[i].ObservedAt.Before(s[j].ObservedAt) })
}

func (p Params) normalized() Params {
	d := DefaultParams()
	if p.MaxDelta <= 0 {
		p.MaxDelta = d.MaxDelta
	}
	if p.HoldoutFraction <= 0 || p.HoldoutFraction >= 1 {
		p.HoldoutFraction = d.HoldoutFraction
	}
	if p.LearningRate <= 0 {
		p.LearningRate = d.LearningRate
	}
	if p.Iterations <= 0 {
		p.Iterations = d.Iterations
	}
	if p.L2 < 0 {
		p.L2 = 0
	}
	if p.MinSamples < 2 {
		p.MinSamples = 2
	}
	return p
}
