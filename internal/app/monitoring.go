package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/okian/tradevalue/internal/adapters/repository"
	"github.com/okian/tradevalue/internal/domain/calibration"
	"github.com/okian/tradevalue/internal/domain/drift"
	"github.com/okian/tradevalue/internal/domain/model"
	"github.com/okian/tradevalue/pkg/logger"
	"github.com/okian/tradevalue/pkg/metrics"
)

const maxWindowDays = 3650

// GetDashboard computes the calibration dashboard over the trailing
// windowDays.
func (s *Service) GetDashboard(ctx context.Context, windowDays int, f calibration.Filters) (calibration.Dashboard, error) {
	if windowDays <= 0 || windowDays > maxWindowDays {
		return calibration.Dashboard{}, fmt.Errorf("%w: window_days must be in [1, %d]", ErrInvalidWindow, maxWindowDays)
	}
	now := s.now()
	records, err := s.store.Predictions(ctx, repository.PredictionQuery{
		Segment: f.Segment,
		Since:   now.AddDate(0, 0, -windowDays),
		Until:   now,
	})
	if err != nil {
		return calibration.Dashboard{}, fmt.Errorf("load predictions: %w", err)
	}
	d := calibration.Compute(records, now, windowDays, f, s.calParams)
	if d.Summary.Resolved > 0 {
		metrics.UpdateCalibrationGap(scopeLabel(f.Segment), d.Summary.CalibrationGap)
	}
	return d, nil
}

// RunDriftDetection runs the detector for segment ("" covers every segment)
// and appends the report. With re-learning enabled, every segment found in
// critical drift is re-learned right away; a critical report whose segments
// are all below critical re-learns its whole scope.
func (s *Service) RunDriftDetection(ctx context.Context, segment string) (model.DriftReport, error) {
	now := s.now()
	t := s.driftThresholds
	records, err := s.store.Predictions(ctx, repository.PredictionQuery{
		Segment: segment,
		Since:   now.Add(-t.Window - t.Reference),
		Until:   now,
	})
	if err != nil {
		return model.DriftReport{}, fmt.Errorf("load predictions: %w", err)
	}
	previous, err := s.store.DriftHistory(ctx, segment, s.driftHistory)
	if err != nil {
		return model.DriftReport{}, fmt.Errorf("load drift history: %w", err)
	}
	points := make([]model.DriftPoint, len(previous))
	for i, r := range previous {
		points[i] = r.Point()
	}

	rep := drift.Detect(drift.Input{Segment: segment, Now: now, Records: records, History: points}, t)
	rep.ID = uuid.NewString()
	if err := s.store.AppendDriftReport(ctx, rep); err != nil {
		return rep, fmt.Errorf("append drift report: %w", err)
	}

	metrics.RecordDriftRun(string(rep.OverallSeverity))
	metrics.UpdateDriftSeverity(scopeLabel(segment), rep.OverallSeverity.Rank())
	if rep.Calibration.Samples > 0 {
		metrics.UpdateCalibrationGap(scopeLabel(segment), rep.Calibration.AbsoluteGap)
	}
	for _, sh := range rep.Input.Shifts {
		metrics.UpdateFeaturePSI(sh.Feature, sh.PSI)
	}
	s.logger.Info(ctx, "drift detection finished",
		logger.String("segment", scopeLabel(segment)),
		logger.String("status", rep.Status),
		logger.String("severity", string(rep.OverallSeverity)),
		logger.Int("alerts", len(rep.Alerts)))

	if !s.relearnOnCritical {
		return rep, nil
	}
	var errs []error
	for _, seg := range criticalSegments(rep) {
		s.logger.Warn(ctx, "critical drift, re-learning segment", logger.String("segment", seg))
		if _, err := s.RunWeeklyLearning(ctx, LearningRequest{Segment: seg}); err != nil {
			errs = append(errs, err)
		}
	}
	return rep, errors.Join(errs...)
}

func criticalSegments(rep model.DriftReport) []string {
	var out []string
	seen := make(map[string]bool)
	for _, sd := range rep.Segments {
		if sd.Severity == model.SeverityCritical && !seen[sd.Segment] {
			seen[sd.Segment] = true
			out = append(out, sd.Segment)
		}
	}
	if rep.OverallSeverity != model.SeverityCritical || seen[rep.Segment] {
		return out
	}
	// A critical all-segment report with no critical segment of its own
	// re-learns every segment.
	if rep.Segment != "" || len(out) == 0 {
		out = append(out, rep.Segment)
	}
	return out
}

// GetDriftReport returns the latest report for segment, or nil when none
// has been produced.
func (s *Service) GetDriftReport(ctx context.Context, segment string) (*model.DriftReport, error) {
	reports, err := s.store.DriftHistory(ctx, segment, 1)
	if err != nil {
		return nil, fmt.Errorf("load drift history: %w", err)
	}
	if len(reports) == 0 {
		return nil, nil
	}
	return &reports[0], nil
}

// DriftHistory returns up to limit reports for segment, newest first.
func (s *Service) DriftHistory(ctx context.Context, segment string, limit int) ([]model.DriftReport, error) {
	reports, err := s.store.DriftHistory(ctx, segment, limit)
	if err != nil {
		return nil, err
	}
	return reports, nil
}
