// Package drift compares recent model behaviour with a reference period and
// produces a severity-tagged report.
package drift

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/tradevalue/internal/domain/model"
)

// Thresholds holds every severity boundary and sample floor.
type Thresholds struct {
	GapWarn     float64
	GapCritical float64

	// Spearman rho below these is flagged.
	RhoWarn     float64
	RhoCritical float64

	// Segment gap growth versus its own baseline.
	SegmentGapWarn     float64
	SegmentGapCritical float64
	// Segment observed-rate shift versus its own baseline.
	RateShiftWarn     float64
	RateShiftCritical float64

	PSIWarn     float64
	PSICritical float64
	PSIBins     int

	MinSamples        int
	MinSegmentSamples int
	MinInputSamples   int

	Window    time.Duration
	Reference time.Duration
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		GapWarn:            0.05,
		GapCritical:        0.15,
		RhoWarn:            0.10,
		RhoCritical:        0.0,
		SegmentGapWarn:     0.05,
		SegmentGapCritical: 0.15,
		RateShiftWarn:      0.10,
		RateShiftCritical:  0.20,
		PSIWarn:            0.10,
		PSICritical:        0.25,
		PSIBins:            10,
		MinSamples:         30,
		MinSegmentSamples:  20,
		MinInputSamples:    20,
		Window:             28 * 24 * time.Hour,
		Reference:          90 * 24 * time.Hour,
	}
}

// Input is everything a detection run looks at.
type Input struct {
	// Segment restricts the run to one segment; empty covers all.
	Segment string
	Now     time.Time
	Records []model.PredictionRecord
	// History holds earlier runs, newest first.
	History []model.DriftPoint
}

// GapSeverity tiers a calibration gap. Larger gaps never rank lower.
func (t Thresholds) GapSeverity(gap float64) model.Severity {
	switch {
	case gap > t.GapCritical:
		return model.SeverityCritical
	case gap > t.GapWarn:
		return model.SeverityWarn
	}
	return model.SeverityOK
}

// RhoSeverity tiers a Spearman coefficient.
func (t Thresholds) RhoSeverity(rho float64) model.Severity {
	switch {
	case rho < t.RhoCritical:
		return model.SeverityCritical
	case rho < t.RhoWarn:
		return model.SeverityWarn
	}
	return model.SeverityOK
}

// PSISeverity tiers a population stability index.
func (t Thresholds) PSISeverity(psi float64) model.Severity {
	switch {
	case psi > t.PSICritical:
		return model.SeverityCritical
	case psi > t.PSIWarn:
		return model.SeverityWarn
	}
	return model.SeverityOK
}

func tier(v, warn, critical float64) model.Severity {
	switch {
	case v > critical:
		return model.SeverityCritical
	case v > warn:
		return model.SeverityWarn
	}
	return model.SeverityOK
}

// Detect runs every drift check. Missing data never fails: components with
// too few samples are reported as insufficient_data.
func Detect(in Input, t Thresholds) model.DriftReport {
	d := DefaultThresholds()
	if t.Window <= 0 {
		t.Window = d.Window
	}
	if t.Reference <= 0 {
		t.Reference = d.Reference
	}
	if t.PSIBins <= 0 {
		t.PSIBins = d.PSIBins
	}
	if in.Now.IsZero() {
		in.Now = time.Now()
	}

	windowStart := in.Now.Add(-t.Window)
	refStart := windowStart.Add(-t.Reference)
	var current, reference []model.PredictionRecord
	for _, r := range in.Records {
		if in.Segment != "" && r.Segment != in.Segment {
			continue
		}
		switch {
		case r.CreatedAt.After(in.Now):
		case r.CreatedAt.After(windowStart):
			current = append(current, r)
		case r.CreatedAt.After(refStart):
			reference = append(reference, r)
		}
	}

	rep := model.DriftReport{
		Segment:         in.Segment,
		Timestamp:       in.Now,
		Status:          model.StatusOK,
		OverallSeverity: model.SeverityOK,
		Segments:        []model.SegmentDrift{},
		Alerts:          []model.Alert{},
		History:         append([]model.DriftPoint{}, in.History...),
	}

	resolved := resolvedOnly(current)
	rep.Calibration.Samples = len(resolved)
	rep.RankOrder.Samples = len(resolved)
	rep.Calibration.Severity = model.SeverityOK
	rep.RankOrder.Severity = model.SeverityOK
	if len(resolved) < t.MinSamples {
		rep.Status = model.StatusInsufficientData
	} else {
		pm, om := means(resolved)
		rep.Calibration.PredictedMean = pm
		rep.Calibration.ObservedMean = om
		rep.Calibration.AbsoluteGap = math.Abs(pm - om)
		rep.Calibration.Severity = t.GapSeverity(rep.Calibration.AbsoluteGap)
		raise(&rep, rep.Calibration.Severity, "calibration",
			fmt.Sprintf("calibration gap %.3f (predicted %.3f, observed %.3f)", rep.Calibration.AbsoluteGap, pm, om))

		if rho, ok := rankOrder(resolved); ok {
			rep.RankOrder.SpearmanRho = rho
			rep.RankOrder.Severity = t.RhoSeverity(rho)
			raise(&rep, rep.RankOrder.Severity, "rank_order", fmt.Sprintf("spearman rho %.3f", rho))
		}
	}

	rep.Segments = segmentDrift(resolved, resolvedOnly(reference), t)
	if in.Segment != "" && len(rep.Segments) == 0 {
		rep.Segments = append(rep.Segments, model.SegmentDrift{
			Segment:  in.Segment,
			Status:   model.StatusInsufficientData,
			Severity: model.SeverityOK,
		})
	}
	for _, s := range rep.Segments {
		raise(&rep, s.Severity, "segment:"+s.Segment,
			fmt.Sprintf("segment %s gap %.3f vs baseline %.3f, observed rate shift %.3f", s.Segment, s.CurrentGap, s.BaselineGap, s.ObservedRateDiff))
	}

	rep.Input = inputDrift(current, reference, t)
	for _, sh := range rep.Input.Shifts {
		raise(&rep, sh.Severity, "input:"+sh.Feature, fmt.Sprintf("feature %s PSI %.3f", sh.Feature, sh.PSI))
	}

	return rep
}

// raise records a finding and lifts the overall severity. OK findings are
// not alerts.
func raise(r *model.DriftReport, sev model.Severity, source, msg string) {
	r.OverallSeverity = model.MaxSeverity(r.OverallSeverity, sev)
	if sev == model.SeverityOK {
		return
	}
	r.Alerts = append(r.Alerts, model.Alert{Severity: sev, Source: source, Message: msg})
}

func resolvedOnly(rs []model.PredictionRecord) []model.PredictionRecord {
	out := make([]model.PredictionRecord, 0, len(rs))
	for _, r := range rs {
		if r.Resolved() {
			out = append(out, r)
		}
	}
	return out
}

func means(rs []model.PredictionRecord) (pred, obs float64) {
	if len(rs) == 0 {
		return 0, 0
	}
	for _, r := range rs {
		pred += r.Probability
		obs += r.Label()
	}
	n := float64(len(rs))
	return pred / n, obs / n
}

func rankOrder(rs []model.PredictionRecord) (float64, bool) {
	xs := make([]float64, len(rs))
	ys := make([]float64, len(rs))
	for i, r := range rs {
		xs[i] = r.Probability
		ys[i] = r.Label()
	}
	return Spearman(xs, ys)
}

func segmentDrift(current, reference []model.PredictionRecord, t Thresholds) []model.SegmentDrift {
	cur := groupBySegment(current)
	ref := groupBySegment(reference)
	names := make([]string, 0, len(cur)+len(ref))
	for k := range cur {
		names = append(names, k)
	}
	for k := range ref {
		if _, ok := cur[k]; !ok {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	out := make([]model.SegmentDrift, 0, len(names))
	for _, name := range names {
		c, r := cur[name], ref[name]
		sd := model.SegmentDrift{
			Segment:         name,
			Status:          model.StatusOK,
			Samples:         len(c),
			BaselineSamples: len(r),
			Severity:        model.SeverityOK,
		}
		if len(c) < t.MinSegmentSamples {
			sd.Status = model.StatusInsufficientData
			out = append(out, sd)
			continue
		}
		cp, co := means(c)
		sd.CurrentGap = math.Abs(cp - co)
		if len(r) >= t.MinSegmentSamples {
			rp, ro := means(r)
			sd.BaselineGap = math.Abs(rp - ro)
			sd.ObservedRateDiff = co - ro
		}
		sd.GapDelta = sd.CurrentGap - sd.BaselineGap
		sd.Severity = model.MaxSeverity(
			tier(sd.GapDelta, t.SegmentGapWarn, t.SegmentGapCritical),
			tier(math.Abs(sd.ObservedRateDiff), t.RateShiftWarn, t.RateShiftCritical),
		)
		out = append(out, sd)
	}
	return out
}

func groupBySegment(rs []model.PredictionRecord) map[string][]model.PredictionRecord {
	out := make(map[string][]model.PredictionRecord)
	for _, r := range rs {
		out[r.Segment] = append(out[r.Segment], r)
	}
	return out
}

func inputDrift(current, reference []model.PredictionRecord, t Thresholds) model.InputDrift {
	in := model.InputDrift{
		CurrentSamples:   len(current),
		ReferenceSamples: len(reference),
		Shifts:           []model.FeatureShift{},
	}
	if len(current) < t.MinInputSamples || len(reference) < t.MinInputSamples {
		return in
	}
	for _, name := range model.FeatureNames {
		cur := featureValues(current, name)
		ref := featureValues(reference, name)
		psi := PSI(ref, cur, t.PSIBins)
		in.Shifts = append(in.Shifts, model.FeatureShift{Feature: name, PSI: psi, Severity: t.PSISeverity(psi)})
	}
	return in
}

func featureValues(rs []model.PredictionRecord, name string) []float64 {
	out := make([]float64, 0, len(rs))
	for _, r := range rs {
		if v, ok := r.Features.Get(name); ok {
			out = append(out, v)
		}
	}
	return out
}
