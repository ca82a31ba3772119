// Package pricing converts players and draft picks into scalar market values
// for a given league context.
package pricing

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/okian/tradevalue/internal/domain/model"
)

// Valuation reasons.
const (
	ReasonFeed          = "feed"
	ReasonMarketValue   = "market_value"
	ReasonRoundTable    = "round_table"
	ReasonUnresolved    = "unresolved"
	ReasonPastDraft     = "past_draft"
	ReasonRedraftFuture = "redraft_future_pick"
)

// Params holds the valuation curve constants.
type Params struct {
	SuperflexQBMultiplier float64
	OneQBQBMultiplier     float64

	AgeSlopePerYear float64
	AgeFactorMin    float64
	AgeFactorMax    float64
	PeakAge         map[string]float64

	RoundValues        []float64
	SlotFactors        map[string]float64
	PickYearDiscount   float64
	RedraftPickFactor  float64
	SuperflexFirstBump float64
}

// DefaultParams returns the production valuation constants.
func DefaultParams() Params {
	return Params{
		SuperflexQBMultiplier: 1.30,
		OneQBQBMultiplier:     0.85,
		AgeSlopePerYear:       0.04,
		AgeFactorMin:          0.60,
		AgeFactorMax:          1.25,
		PeakAge: map[string]float64{
			"QB": 28,
			"RB": 24,
			"WR": 26,
			"TE": 27,
		},
		RoundValues: []float64{60, 28, 14, 7, 3},
		SlotFactors: map[string]float64{
			model.SlotEarly: 1.15,
			model.SlotMid:   1.0,
			model.SlotLate:  0.85,
		},
		PickYearDiscount:   0.85,
		RedraftPickFactor:  0.25,
		SuperflexFirstBump: 1.10,
	}
}

const defaultPeakAge = 26

// Option applies a configuration option to the Pricer.
type Option func(*Pricer)

// WithParams replaces the valuation constants.
func WithParams(p Params) Option {
	return func(pr *Pricer) {
		pr.params = p
	}
}

// WithValueBook installs an initial value book.
func WithValueBook(b *ValueBook) Option {
	return func(pr *Pricer) {
		if b != nil {
			pr.book.Store(b)
		}
	}
}

// WithClock sets the clock used when a context carries no as-of date.
func WithClock(now func() time.Time) Option {
	return func(pr *Pricer) {
		if now != nil {
			pr.now = now
		}
	}
}

// Pricer values assets. It is safe for concurrent use; the value book is
// swapped atomically and never locked on the read path.
type Pricer struct {
	params Params
	book   atomic.Pointer[ValueBook]
	now    func() time.Time
}

// NewPricer creates a pricer with an empty value book.
func NewPricer(opts ...Option) *Pricer {
	p := &Pricer{params: DefaultParams(), now: time.Now}
	p.book.Store(NewValueBook(nil))
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SwapBook replaces the active value book.
func (p *Pricer) SwapBook(b *ValueBook) {
	if b == nil {
		return
	}
	p.book.Store(b)
}

// Book returns the active value book.
func (p *Pricer) Book() *ValueBook {
	return p.book.Load()
}

// Price values a single asset. It never fails: an asset that cannot be
// resolved is worth 0 with low confidence.
func (p *Pricer) Price(a model.Asset, lc model.LeagueContext) model.Valuation {
	if lc.AsOf.IsZero() {
		lc.AsOf = p.now()
	}
	v := model.Valuation{AssetID: a.ID}
	if !a.Identified() {
		v.Confidence = model.ConfidenceLow
		v.Reason = ReasonUnresolved
		return v
	}
	if a.Kind == model.KindPick {
		return p.pricePick(a, lc, v)
	}
	return p.pricePlayer(a, lc, v)
}

// PriceSide values every asset of one trade side and returns the per-asset
// valuations and their values in the same order.
func (p *Pricer) PriceSide(assets []model.Asset, lc model.LeagueContext) ([]model.Valuation, []float64) {
	vals := make([]model.Valuation, len(assets))
	nums := make([]float64, len(assets))
	for i, a := range assets {
		vals[i] = p.Price(a, lc)
		nums[i] = vals[i].Value
	}
	return vals, nums
}

func (p *Pricer) raw(a model.Asset, asOf time.Time) (float64, string, bool) {
	if a.ID != "" {
		if v, ok := p.book.Load().Lookup(a.ID, asOf); ok {
			return v, ReasonFeed, true
		}
	}
	if a.MarketValue > 0 {
		return a.MarketValue, ReasonMarketValue, true
	}
	return 0, "", false
}

func (p *Pricer) pricePlayer(a model.Asset, lc model.LeagueContext, v model.Valuation) model.Valuation {
	raw, reason, ok := p.raw(a, lc.AsOf)
	if !ok {
		v.Confidence = model.ConfidenceLow
		v.Reason = ReasonUnresolved
		return v
	}
	value := raw * p.formatMultiplier(a, lc)
	if lc.Dynasty {
		value *= p.ageFactor(a)
	}
	v.Value = finite(value)
	v.Confidence = model.ConfidenceHigh
	v.Reason = reason
	return v
}

func (p *Pricer) formatMultiplier(a model.Asset, lc model.LeagueContext) float64 {
	if a.NormalizedPosition() != "QB" {
		return 1
	}
	if lc.Format == model.FormatSuperflex {
		return p.params.SuperflexQBMultiplier
	}
	return p.params.OneQBQBMultiplier
}

// ageFactor is 1 at the position's peak age and moves linearly by the slope
// per year away from it, bounded. Unknown age is neutral.
func (p *Pricer) ageFactor(a model.Asset) float64 {
	if a.Age <= 0 {
		return 1
	}
	peak, ok := p.params.PeakAge[a.NormalizedPosition()]
	if !ok {
		peak = defaultPeakAge
	}
	f := 1 - p.params.AgeSlopePerYear*(a.Age-peak)
	return math.Max(p.params.AgeFactorMin, math.Min(p.params.AgeFactorMax, f))
}

func (p *Pricer) pricePick(a model.Asset, lc model.LeagueContext, v model.Valuation) model.Valuation {
	season := lc.AsOf.Year()
	if a.PickYear > 0 && a.PickYear < season {
		v.Confidence = model.ConfidenceHigh
		v.Reason = ReasonPastDraft
		return v
	}

	raw, reason, ok := p.raw(a, lc.AsOf)
	if !ok {
		raw, ok = p.roundValue(a)
		reason = ReasonRoundTable
	}
	if !ok {
		v.Confidence = model.ConfidenceLow
		v.Reason = ReasonUnresolved
		return v
	}

	years := 0
	if a.PickYear > 0 {
		years = a.PickYear - season
	}
	value := raw
	if lc.Dynasty {
		value *= math.Pow(p.params.PickYearDiscount, float64(years))
	} else {
		if years > 0 {
			v.Confidence = model.ConfidenceHigh
			v.Reason = ReasonRedraftFuture
			return v
		}
		value *= p.params.RedraftPickFactor
	}
	if lc.Format == model.FormatSuperflex && a.PickRound == 1 {
		value *= p.params.SuperflexFirstBump
	}
	v.Value = finite(value)
	v.Confidence = model.ConfidenceHigh
	v.Reason = reason
	return v
}

func (p *Pricer) roundValue(a model.Asset) (float64, bool) {
	if a.PickRound <= 0 || a.PickYear <= 0 {
		return 0, false
	}
	base := 0.0
	if a.PickRound <= len(p.params.RoundValues) {
		base = p.params.RoundValues[a.PickRound-1]
	} else if n := len(p.params.RoundValues); n > 0 {
		base = p.params.RoundValues[n-1] / 2
	}
	slot, ok := p.params.SlotFactors[a.PickSlot]
	if !ok {
		slot = 1
	}
	return base * slot, true
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
