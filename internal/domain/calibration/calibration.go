// Package calibration groups persisted predictions into probability buckets
// and compares predicted with observed acceptance.
package calibration

import (
	"math"
	"time"

	"github.com/okian/tradevalue/internal/domain/model"
)

// Filters narrows the records a dashboard covers. Empty fields match all.
type Filters struct {
	Segment    string `json:"segment,omitempty"`
	Mode       string `json:"mode,omitempty"`
	DrillKey   string `json:"drill_key,omitempty"`
	DrillValue string `json:"drill_value,omitempty"`
}

// Match reports whether r passes the filters.
func (f Filters) Match(r model.PredictionRecord) bool {
	if f.Segment != "" && r.Segment != f.Segment {
		return false
	}
	if f.Mode != "" && r.Mode != f.Mode {
		return false
	}
	if f.DrillKey != "" {
		v, ok := r.Tags[f.DrillKey]
		if !ok {
			return false
		}
		if f.DrillValue != "" && v != f.DrillValue {
			return false
		}
	}
	return true
}

// Params tunes bucketing.
type Params struct {
	Buckets          int
	MinBucketSamples int
}

// DefaultParams returns deciles with a five-sample confidence floor.
func DefaultParams() Params {
	return Params{Buckets: 10, MinBucketSamples: 5}
}

// Bucket is one probability band.
type Bucket struct {
	Index         int     `json:"index"`
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	Offers        int     `json:"offers"`
	Resolved      int     `json:"resolved"`
	MeanPredicted float64 `json:"mean_predicted"`
	ObservedRate  float64 `json:"observed_rate"`
	Gap           float64 `json:"gap"`
	LowConfidence bool    `json:"low_confidence"`
}

// Summary holds the headline cards.
type Summary struct {
	Offers            int            `json:"offers"`
	Resolved          int            `json:"resolved"`
	MeanPredicted     float64        `json:"mean_predicted"`
	MeanPredictedAll  float64        `json:"mean_predicted_all"`
	MeanObserved      float64        `json:"mean_observed"`
	CalibrationGap    float64        `json:"calibration_gap"`
	Brier             float64        `json:"brier"`
	DefaultSourceRate float64        `json:"default_source_rate"`
	BySource          map[string]int `json:"by_source"`
}

// Dashboard is a calibration snapshot.
type Dashboard struct {
	WindowDays  int       `json:"window_days"`
	From        time.Time `json:"from"`
	To          time.Time `json:"to"`
	Filters     Filters   `json:"filters"`
	Buckets     []Bucket  `json:"buckets"`
	Summary     Summary   `json:"summary"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Compute builds the dashboard for predictions created in the trailing
// windowDays before now. Every bucket is returned; sparse ones are flagged.
func Compute(records []model.PredictionRecord, now time.Time, windowDays int, f Filters, p Params) Dashboard {
	if p.Buckets <= 0 {
		p.Buckets = DefaultParams().Buckets
	}
	if p.MinBucketSamples <= 0 {
		p.MinBucketSamples = DefaultParams().MinBucketSamples
	}
	from := now.AddDate(0, 0, -windowDays)
	d := Dashboard{
		WindowDays:  windowDays,
		From:        from,
		To:          now,
		Filters:     f,
		Buckets:     make([]Bucket, p.Buckets),
		GeneratedAt: now,
		Summary:     Summary{BySource: map[string]int{}},
	}
	width := 1 / float64(p.Buckets)
	for i := range d.Buckets {
		d.Buckets[i] = Bucket{Index: i, Lower: float64(i) * width, Upper: float64(i+1) * width}
	}

	predSum := make([]float64, p.Buckets)
	obsSum := make([]float64, p.Buckets)
	var allPred, resPred, resObs, brier float64
	s := &d.Summary
	for _, r := range records {
		if windowDays > 0 && (r.CreatedAt.Before(from) || r.CreatedAt.After(now)) {
			continue
		}
		if !f.Match(r) {
			continue
		}
		prob := math.Max(0, math.Min(1, r.Probability))
		s.Offers++
		s.BySource[r.Source]++
		allPred += prob
		b := BucketIndex(prob, p.Buckets)
		d.Buckets[b].Offers++
		if !r.Resolved() {
			continue
		}
		y := r.Label()
		s.Resolved++
		resPred += prob
		resObs += y
		brier += (prob - y) * (prob - y)
		d.Buckets[b].Resolved++
		predSum[b] += prob
		obsSum[b] += y
	}

	for i := range d.Buckets {
		b := &d.Buckets[i]
		if b.Resolved > 0 {
			b.MeanPredicted = predSum[i] / float64(b.Resolved)
			b.ObservedRate = obsSum[i] / float64(b.Resolved)
			b.Gap = math.Abs(b.MeanPredicted - b.ObservedRate)
		}
		b.LowConfidence = b.Resolved < p.MinBucketSamples
	}
	if s.Offers > 0 {
		s.MeanPredictedAll = allPred / float64(s.Offers)
		s.DefaultSourceRate = float64(s.BySource[model.SourceDefault]) / float64(s.Offers)
	}
	if s.Resolved > 0 {
		n := float64(s.Resolved)
		s.MeanPredicted = resPred / n
		s.MeanObserved = resObs / n
		s.CalibrationGap = math.Abs(s.MeanPredicted - s.MeanObserved)
		s.Brier = brier / n
	}
	return d
}

// BucketIndex maps a probability to its band; 1.0 falls in the top band.
func BucketIndex(p float64, buckets int) int {
	i := int(p * float64(buckets))
	if i >= buckets {
		i = buckets - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}
