package model

import "math"

// SchemaVersion is bumped whenever a feature is added or removed so that
// persisted weight rows from an older schema are never read as current.
const SchemaVersion = 1

// Feature names, in canonical order.
const (
	FeatureValueDelta   = "value_delta"
	FeatureLiquidity    = "liquidity"
	FeatureArchetypeFit = "archetype_fit"
	FeatureScarcity     = "scarcity"
)

// FeatureNames lists every feature in canonical order.
var FeatureNames = []string{FeatureValueDelta, FeatureLiquidity, FeatureArchetypeFit, FeatureScarcity}

// Features is the input vector of the acceptance model.
type Features struct {
	// ValueDelta is the counterparty's value gain as a fraction, in [-1,1].
	ValueDelta   float64 `json:"value_delta"`
	Liquidity    float64 `json:"liquidity"`
	ArchetypeFit float64 `json:"archetype_fit"`
	Scarcity     float64 `json:"scarcity"`
}

// Vector returns the features in canonical order.
func (f Features) Vector() [4]float64 {
	return [4]float64{f.ValueDelta, f.Liquidity, f.ArchetypeFit, f.Scarcity}
}

// Get returns the named feature value.
func (f Features) Get(name string) (float64, bool) {
	switch name {
	case FeatureValueDelta:
		return f.ValueDelta, true
	case FeatureLiquidity:
		return f.Liquidity, true
	case FeatureArchetypeFit:
		return f.ArchetypeFit, true
	case FeatureScarcity:
		return f.Scarcity, true
	}
	return 0, false
}

// FeatureWeights holds one coefficient per feature.
type FeatureWeights struct {
	ValueDelta   float64 `json:"value_delta"`
	Liquidity    float64 `json:"liquidity"`
	ArchetypeFit float64 `json:"archetype_fit"`
	Scarcity     float64 `json:"scarcity"`
}

// EqualWeights returns weights with every coefficient set to w.
func EqualWeights(w float64) FeatureWeights {
	return FeatureWeights{ValueDelta: w, Liquidity: w, ArchetypeFit: w, Scarcity: w}
}

// Vector returns the weights in canonical order.
func (w FeatureWeights) Vector() [4]float64 {
	return [4]float64{w.ValueDelta, w.Liquidity, w.ArchetypeFit, w.Scarcity}
}

// WeightsFromVector builds weights from a canonical-order vector.
func WeightsFromVector(v [4]float64) FeatureWeights {
	return FeatureWeights{ValueDelta: v[0], Liquidity: v[1], ArchetypeFit: v[2], Scarcity: v[3]}
}

// Finite reports whether every coefficient is a finite number.
func (w FeatureWeights) Finite() bool {
	for _, x := range w.Vector() {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
