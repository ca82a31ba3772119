package model

import "time"

// Severity tiers, ordered.
type Severity string

// Severities.
const (
	SeverityOK       Severity = "ok"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Rank returns the ordinal of s; unknown values rank as ok.
func (s Severity) Rank() int {
	switch s {
	case SeverityWarn:
		return 1
	case SeverityCritical:
		return 2
	}
	return 0
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	if a == "" {
		return SeverityOK
	}
	return a
}

// Report and segment statuses.
const (
	StatusOK               = "ok"
	StatusInsufficientData = "insufficient_data"
)

// CalibrationDrift compares mean predicted and observed acceptance.
type CalibrationDrift struct {
	PredictedMean float64  `json:"predicted_mean"`
	ObservedMean  float64  `json:"observed_mean"`
	AbsoluteGap   float64  `json:"absolute_gap"`
	Samples       int      `json:"samples"`
	Severity      Severity `json:"severity"`
}

// RankOrderDrift carries Spearman's rho between predictions and outcomes.
type RankOrderDrift struct {
	SpearmanRho float64  `json:"spearman_rho"`
	Samples     int      `json:"samples"`
	Severity    Severity `json:"severity"`
}

// SegmentDrift compares a segment's current window against its own baseline.
type SegmentDrift struct {
	Segment          string   `json:"segment"`
	Status           string   `json:"status"`
	Samples          int      `json:"samples"`
	BaselineSamples  int      `json:"baseline_samples"`
	CurrentGap       float64  `json:"current_gap"`
	BaselineGap      float64  `json:"baseline_gap"`
	GapDelta         float64  `json:"gap_delta"`
	ObservedRateDiff float64  `json:"observed_rate_diff"`
	Severity         Severity `json:"severity"`
}

// FeatureShift is a population-stability comparison of one feature.
type FeatureShift struct {
	Feature  string   `json:"feature"`
	PSI      float64  `json:"psi"`
	Severity Severity `json:"severity"`
}

// InputDrift groups per-feature distribution shifts.
type InputDrift struct {
	CurrentSamples   int            `json:"current_samples"`
	ReferenceSamples int            `json:"reference_samples"`
	Shifts           []FeatureShift `json:"shifts"`
}

// Alert is a human-readable finding.
type Alert struct {
	Severity Severity `json:"severity"`
	Source   string   `json:"source"`
	Message  string   `json:"message"`
}

// DriftPoint summarises an earlier report for trend display.
type DriftPoint struct {
	Timestamp       time.Time `json:"timestamp"`
	OverallSeverity Severity  `json:"overall_severity"`
	AbsoluteGap     float64   `json:"absolute_gap"`
	SpearmanRho     float64   `json:"spearman_rho"`
}

// DriftReport is one append-only drift detection run.
type DriftReport struct {
	ID              string           `json:"id"`
	Segment         string           `json:"segment,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
	Status          string           `json:"status"`
	OverallSeverity Severity         `json:"overall_severity"`
	Calibration     CalibrationDrift `json:"calibration"`
	RankOrder       RankOrderDrift   `json:"rank_order"`
	Segments        []SegmentDrift   `json:"segments"`
	Input           InputDrift       `json:"input"`
	Alerts          []Alert          `json:"alerts"`
	History         []DriftPoint     `json:"history"`
}

// Point returns the trend summary of r.
func (r DriftReport) Point() DriftPoint {
	return DriftPoint{
		Timestamp:       r.Timestamp,
		OverallSeverity: r.OverallSeverity,
		AbsoluteGap:     r.Calibration.AbsoluteGap,
		SpearmanRho:     r.RankOrder.SpearmanRho,
	}
}
