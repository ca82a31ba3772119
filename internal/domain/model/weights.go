package model

import (
	"math"
	"time"
)

// Weight sources reported alongside every prediction.
const (
	SourceDefault = "default"
	SourceLearned = "learned"
)

// SegmentWeights is the active model for one segment. It is replaced as a
// whole; readers never observe a partial update.
type SegmentWeights struct {
	SchemaVersion int            `json:"schema_version" db:"schema_version"`
	Segment       string         `json:"segment" db:"segment"`
	B0            float64        `json:"b0" db:"b0"`
	Weights       FeatureWeights `json:"weights" db:"-"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
	SampleSize    int            `json:"sample_size" db:"sample_size"`
	// TrainedThrough is the newest outcome observation used for training.
	TrainedThrough time.Time `json:"trained_through" db:"trained_through"`
}

// Valid reports whether the row matches the current schema and is finite.
func (w SegmentWeights) Valid() bool {
	if w.SchemaVersion != SchemaVersion {
		return false
	}
	if math.IsNaN(w.B0) || math.IsInf(w.B0, 0) {
		return false
	}
	return w.Weights.Finite()
}
