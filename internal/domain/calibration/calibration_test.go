package calibration_test

import (
	"testing"
	"time"

	"github.com/okian/tradevalue/internal/domain/calibration"
	"github.com/okian/tradevalue/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var now = time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)

func rec(seg string, prob float64, accepted *bool, age time.Duration, tags map[string]string) model.PredictionRecord {
	r := model.PredictionRecord{
		OfferID:     "o",
		Segment:     seg,
		Mode:        model.ModeDynasty,
		Probability: prob,
		Source:      model.SourceLearned,
		Tags:        tags,
		CreatedAt:   now.Add(-age),
	}
	if accepted != nil {
		r.Outcome = &model.Outcome{Accepted: *accepted, ObservedAt: r.CreatedAt.Add(time.Hour)}
	}
	return r
}

func yes() *bool { b := true; return &b }
func no() *bool  { b := false; return &b }

func TestCompute(t *testing.T) {
	Convey("Given predictions across buckets and segments", t, func() {
		var records []model.PredictionRecord
		for i := 0; i < 6; i++ {
			a := no()
			if i < 4 {
				a = yes()
			}
			records = append(records, rec("dynasty-superflex", 0.75, a, 24*time.Hour, map[string]string{"position_group": "QB"}))
		}
		records = append(records,
			rec("dynasty-superflex", 0.15, no(), 48*time.Hour, map[string]string{"position_group": "RB"}),
			rec("dynasty-superflex", 1.0, yes(), 48*time.Hour, nil),
			rec("redraft-one_qb", 0.35, nil, 24*time.Hour, nil),
			rec("dynasty-superflex", 0.55, yes(), 90*24*time.Hour, nil),
		)

		Convey("When computing a 30-day dashboard", func() {
			d := calibration.Compute(records, now, 30, calibration.Filters{}, calibration.DefaultParams())

			Convey("Then all ten buckets are present and sparse ones are flagged", func() {
				So(len(d.Buckets), ShouldEqual, 10)
				So(d.Buckets[7].Resolved, ShouldEqual, 6)
				So(d.Buckets[7].ObservedRate, ShouldAlmostEqual, 4.0/6.0, 1e-12)
				So(d.Buckets[7].LowConfidence, ShouldBeFalse)
				So(d.Buckets[1].Resolved, ShouldEqual, 1)
				So(d.Buckets[1].LowConfidence, ShouldBeTrue)
				So(d.Buckets[9].Resolved, ShouldEqual, 1)
				So(d.Buckets[3].Offers, ShouldEqual, 1)
				So(d.Buckets[3].Resolved, ShouldEqual, 0)
				So(d.Buckets[5].Offers, ShouldEqual, 0)
				So(d.Buckets[5].LowConfidence, ShouldBeTrue)
			})

			Convey("And the summary cards cover the window only", func() {
				So(d.Summary.Offers, ShouldEqual, 9)
				So(d.Summary.Resolved, ShouldEqual, 8)
				So(d.Summary.MeanObserved, ShouldAlmostEqual, 5.0/8.0, 1e-12)
				So(d.Summary.MeanPredicted, ShouldAlmostEqual, (0.75*6+0.15+1.0)/8, 1e-12)
				So(d.Summary.CalibrationGap, ShouldAlmostEqual, (0.75*6+0.15+1.0)/8-5.0/8.0, 1e-12)
				So(d.Summary.Brier, ShouldBeGreaterThan, 0)
				So(d.Summary.BySource[model.SourceLearned], ShouldEqual, 9)
			})
		})

		Convey("When filtering by segment", func() {
			d := calibration.Compute(records, now, 30, calibration.Filters{Segment: "redraft-one_qb"}, calibration.DefaultParams())
			So(d.Summary.Offers, ShouldEqual, 1)
			So(d.Summary.Resolved, ShouldEqual, 0)
			So(d.Summary.CalibrationGap, ShouldEqual, 0)
		})

		Convey("When filtering by mode", func() {
			d := calibration.Compute(records, now, 30, calibration.Filters{Mode: model.ModeRedraft}, calibration.DefaultParams())
			So(d.Summary.Offers, ShouldEqual, 0)
		})

		Convey("When drilling down by position group", func() {
			d := calibration.Compute(records, now, 30, calibration.Filters{DrillKey: "position_group", DrillValue: "QB"}, calibration.DefaultParams())
			So(d.Summary.Offers, ShouldEqual, 6)

			keyed := calibration.Compute(records, now, 30, calibration.Filters{DrillKey: "position_group"}, calibration.DefaultParams())
			So(keyed.Summary.Offers, ShouldEqual, 7)
		})

		Convey("When the window is widened", func() {
			d := calibration.Compute(records, now, 120, calibration.Filters{}, calibration.DefaultParams())
			So(d.Summary.Offers, ShouldEqual, 10)
		})
	})

	Convey("Given no records", t, func() {
		d := calibration.Compute(nil, now, 7, calibration.Filters{}, calibration.Params{})
		So(len(d.Buckets), ShouldEqual, 10)
		So(d.Summary.Offers, ShouldEqual, 0)
		for _, b := range d.Buckets {
			So(b.LowConfidence, ShouldBeTrue)
		}
	})

	Convey("Given boundary probabilities", t, func() {
		So(calibration.BucketIndex(0, 10), ShouldEqual, 0)
		So(calibration.BucketIndex(0.1, 10), ShouldEqual, 1)
		So(calibration.BucketIndex(1, 10), ShouldEqual, 9)
		So(calibration.BucketIndex(-0.2, 10), ShouldEqual, 0)
	})
}
