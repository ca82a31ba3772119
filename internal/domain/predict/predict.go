// Package predict implements the logistic acceptance model and the single
// place that decides between learned and default segment weights.
package predict

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/tradevalue/internal/domain/model"
)

// Defaults are the cold-start parameters used when a segment has no learned row.
type Defaults struct {
	B0     float64
	Weight float64
}

// DefaultDefaults returns intercept -0.4 and equal weights of 1.0.
func DefaultDefaults() Defaults {
	return Defaults{B0: -0.4, Weight: 1.0}
}

// Weights builds the default row for a segment.
func (d Defaults) Weights(segment string) model.SegmentWeights {
	return model.SegmentWeights{
		SchemaVersion: model.SchemaVersion,
		Segment:       segment,
		B0:            d.B0,
		Weights:       model.EqualWeights(d.Weight),
	}
}

// Prediction is the model output for one feature vector.
type Prediction struct {
	Probability   float64              `json:"probability"`
	Logit         float64              `json:"logit"`
	Source        string               `json:"source"`
	Contributions []model.Contribution `json:"contributions"`
}

// WeightsReader reads the active weights row of a segment.
type WeightsReader interface {
	// ActiveWeights returns found=false when the segment has no row.
	ActiveWeights(ctx context.Context, segment string) (model.SegmentWeights, bool, error)
}

// ResolveWeights returns the learned row for segment when one exists and is
// valid for the current schema, otherwise the defaults. A read failure still
// yields usable default weights together with the error.
func ResolveWeights(ctx context.Context, reader WeightsReader, segment string, d Defaults) (model.SegmentWeights, string, error) {
	if reader == nil {
		return d.Weights(segment), model.SourceDefault, nil
	}
	w, ok, err := reader.ActiveWeights(ctx, segment)
	if err != nil {
		return d.Weights(segment), model.SourceDefault, fmt.Errorf("resolve weights for %q: %w", segment, err)
	}
	if !ok || !w.Valid() {
		return d.Weights(segment), model.SourceDefault, nil
	}
	return w, model.SourceLearned, nil
}

// Predict computes p = sigmoid(b0 + sum(w_i * x_i)). The value-delta weight
// is floored at zero so probability never falls as the counterparty's gain
// rises.
func Predict(f model.Features, w model.SegmentWeights, source string) Prediction {
	wv := ConstrainWeights(w.Weights).Vector()
	xv := f.Vector()
	logit := w.B0
	contribs := make([]model.Contribution, len(model.FeatureNames))
	for i, name := range model.FeatureNames {
		c := wv[i] * xv[i]
		logit += c
		contribs[i] = model.Contribution{Feature: name, Value: xv[i], Weight: wv[i], Contribution: c}
	}
	sort.SliceStable(contribs, func(i, j int) bool {
		return math.Abs(contribs[i].Contribution) > math.Abs(contribs[j].Contribution)
	})
	return Prediction{
		Probability:   Sigmoid(logit),
		Logit:         logit,
		Source:        source,
		Contributions: contribs,
	}
}

// ConstrainWeights applies the monotonicity constraint to w.
func ConstrainWeights(w model.FeatureWeights) model.FeatureWeights {
	if w.ValueDelta < 0 || math.IsNaN(w.ValueDelta) {
		w.ValueDelta = 0
	}
	return w
}

// Sigmoid is the numerically stable logistic function.
func Sigmoid(z float64) float64 {
	if math.IsNaN(z) {
		return 0.5
	}
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// Record builds the persisted form of a prediction.
func Record(offer model.TradeOffer, f model.Features, p Prediction, at time.Time) model.PredictionRecord {
	tags := make(map[string]string, len(offer.Tags))
	for k, v := range offer.Tags {
		tags[k] = v
	}
	return model.PredictionRecord{
		OfferID:     offer.ID,
		Segment:     offer.SegmentKey(),
		Mode:        offer.Context.Mode(),
		Probability: p.Probability,
		Source:      p.Source,
		Features:    f,
		Tags:        tags,
		CreatedAt:   at,
	}
}
