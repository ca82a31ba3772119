package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/okian/tradevalue/internal/adapters/repository"
	"github.com/okian/tradevalue/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

func prediction(id, segment string, at time.Time) model.PredictionRecord {
	return model.PredictionRecord{
		OfferID:     id,
		Segment:     segment,
		Mode:        model.ModeDynasty,
		Probability: 0.4,
		Source:      model.SourceDefault,
		Features:    model.Features{ValueDelta: -0.1, Liquidity: 0.5},
		Tags:        map[string]string{"position_group": "WR"},
		CreatedAt:   at,
	}
}

func weights(segment string, b0 float64) model.SegmentWeights {
	return model.SegmentWeights{
		SchemaVersion: model.SchemaVersion,
		Segment:       segment,
		B0:            b0,
		Weights:       model.EqualWeights(1),
		UpdatedAt:     t0,
		SampleSize:    40,
	}
}

func TestMemoryStorePredictions(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty memory store", t, func() {
		s := repository.NewMemoryStore()

		Convey("When saving a prediction twice", func() {
			So(s.SavePrediction(ctx, prediction("o1", "dynasty-superflex", t0)), ShouldBeNil)
			err := s.SavePrediction(ctx, prediction("o1", "dynasty-superflex", t0))

			Convey("Then the second save is a duplicate", func() {
				So(errors.Is(err, repository.ErrDuplicate), ShouldBeTrue)
			})
		})

		Convey("When saving a prediction without an offer id", func() {
			err := s.SavePrediction(ctx, prediction("", "dynasty-superflex", t0))
			So(errors.Is(err, repository.ErrInvalidRecord), ShouldBeTrue)
		})

		Convey("When recording an outcome for an unknown offer", func() {
			err := s.RecordOutcome(ctx, model.Outcome{TradeOfferID: "missing", Accepted: true, ObservedAt: t0})
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("When recording an outcome twice", func() {
			So(s.SavePrediction(ctx, prediction("o1", "dynasty-superflex", t0)), ShouldBeNil)
			So(s.RecordOutcome(ctx, model.Outcome{TradeOfferID: "o1", Accepted: true, ObservedAt: t0.Add(time.Hour)}), ShouldBeNil)
			err := s.RecordOutcome(ctx, model.Outcome{TradeOfferID: "o1", Accepted: false, ObservedAt: t0.Add(2 * time.Hour)})

			Convey("Then the first outcome is immutable", func() {
				So(errors.Is(err, repository.ErrDuplicate), ShouldBeTrue)
				r, err := s.Prediction(ctx, "o1")
				So(err, ShouldBeNil)
				So(r.Outcome.Accepted, ShouldBeTrue)
			})
		})

		Convey("When a caller mutates a returned record", func() {
			So(s.SavePrediction(ctx, prediction("o1", "dynasty-superflex", t0)), ShouldBeNil)
			r, _ := s.Prediction(ctx, "o1")
			r.Tags["position_group"] = "QB"

			Convey("Then the stored copy is unchanged", func() {
				again, _ := s.Prediction(ctx, "o1")
				So(again.Tags["position_group"], ShouldEqual, "WR")
			})
		})

		Convey("When querying across segments and times", func() {
			So(s.SavePrediction(ctx, prediction("late", "dynasty-superflex", t0.Add(48*time.Hour))), ShouldBeNil)
			So(s.SavePrediction(ctx, prediction("early", "dynasty-superflex", t0)), ShouldBeNil)
			So(s.SavePrediction(ctx, prediction("other", "redraft-one_qb", t0.Add(time.Hour))), ShouldBeNil)
			So(s.RecordOutcome(ctx, model.Outcome{TradeOfferID: "late", Accepted: true, ObservedAt: t0.Add(50 * time.Hour)}), ShouldBeNil)
			So(s.RecordOutcome(ctx, model.Outcome{TradeOfferID: "early", ObservedAt: t0.Add(60 * time.Hour)}), ShouldBeNil)

			Convey("Then predictions come back in creation order", func() {
				all, err := s.Predictions(ctx, repository.PredictionQuery{})
				So(err, ShouldBeNil)
				So(len(all), ShouldEqual, 3)
				So(all[0].OfferID, ShouldEqual, "early")
				So(all[2].OfferID, ShouldEqual, "late")

				seg, _ := s.Predictions(ctx, repository.PredictionQuery{Segment: "redraft-one_qb"})
				So(len(seg), ShouldEqual, 1)

				windowed, _ := s.Predictions(ctx, repository.PredictionQuery{Since: t0.Add(30 * time.Minute), Until: t0.Add(24 * time.Hour)})
				So(len(windowed), ShouldEqual, 1)
				So(windowed[0].OfferID, ShouldEqual, "other")

				limited, _ := s.Predictions(ctx, repository.PredictionQuery{Limit: 1})
				So(limited[0].OfferID, ShouldEqual, "late")

				_, err = s.Predictions(ctx, repository.PredictionQuery{Limit: -1})
				So(errors.Is(err, repository.ErrInvalidLimit), ShouldBeTrue)
			})

			Convey("And segment outcomes are ordered by observation", func() {
				outs, err := s.OutcomesForSegment(ctx, "dynasty-superflex", time.Time{})
				So(err, ShouldBeNil)
				So(len(outs), ShouldEqual, 2)
				So(outs[0].OfferID, ShouldEqual, "late")
				So(outs[1].OfferID, ShouldEqual, "early")

				recent, _ := s.OutcomesForSegment(ctx, "dynasty-superflex", t0.Add(55*time.Hour))
				So(len(recent), ShouldEqual, 1)
			})

			Convey("And stats reflect the contents", func() {
				st, err := s.Stats(ctx)
				So(err, ShouldBeNil)
				So(st.Predictions, ShouldEqual, 3)
				So(st.Resolved, ShouldEqual, 2)
				So(st.Segments, ShouldEqual, 2)
			})
		})

		Convey("When the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			So(s.SavePrediction(cctx, prediction("o1", "s", t0)), ShouldEqual, context.Canceled)
		})
	})
}

func TestMemoryStoreWeights(t *testing.T) {
	ctx := context.Background()

	Convey("Given a memory store with a history limit", t, func() {
		s := repository.NewMemoryStore(repository.WithHistoryLimit(3), repository.WithMaxLimit(10))

		Convey("When a segment has no weights", func() {
			_, found, err := s.ActiveWeights(ctx, "dynasty-superflex")
			So(err, ShouldBeNil)
			So(found, ShouldBeFalse)
		})

		Convey("When weights are written repeatedly", func() {
			for i := 0; i < 5; i++ {
				So(s.PutWeights(ctx, weights("dynasty-superflex", float64(i))), ShouldBeNil)
			}

			Convey("Then the latest row is active and history is newest first", func() {
				w, found, err := s.ActiveWeights(ctx, "dynasty-superflex")
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(w.B0, ShouldEqual, 4)

				h, err := s.WeightsHistory(ctx, "dynasty-superflex", 10)
				So(err, ShouldBeNil)
				So(len(h), ShouldEqual, 3)
				So(h[0].B0, ShouldEqual, 4)
				So(h[2].B0, ShouldEqual, 2)
			})

			Convey("And out-of-range limits are rejected", func() {
				_, err := s.WeightsHistory(ctx, "dynasty-superflex", 0)
				So(errors.Is(err, repository.ErrInvalidLimit), ShouldBeTrue)
				_, err = s.WeightsHistory(ctx, "dynasty-superflex", 11)
				So(errors.Is(err, repository.ErrInvalidLimit), ShouldBeTrue)
			})
		})

		Convey("When writing a row from another schema", func() {
			w := weights("dynasty-superflex", 0)
			w.SchemaVersion = model.SchemaVersion + 1
			So(errors.Is(s.PutWeights(ctx, w), repository.ErrInvalidRecord), ShouldBeTrue)
		})

		Convey("When readers race a writer", func() {
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					w := weights("dynasty-superflex", float64(i))
					w.Weights = model.EqualWeights(float64(i))
					_ = s.PutWeights(ctx, w)
				}
			}()
			torn := 0
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					w, found, _ := s.ActiveWeights(ctx, "dynasty-superflex")
					if found && w.B0 != w.Weights.Liquidity {
						torn++
					}
				}
			}()
			wg.Wait()

			Convey("Then no reader sees a half-written row", func() {
				So(torn, ShouldEqual, 0)
			})
		})
	})
}

func TestMemoryStoreDrift(t *testing.T) {
	ctx := context.Background()

	Convey("Given drift reports for two scopes", t, func() {
		s := repository.NewMemoryStore()
		report := model.DriftReport{
			ID:              "r1",
			Timestamp:       t0,
			Status:          model.StatusOK,
			OverallSeverity: model.SeverityCritical,
			Segments:        []model.SegmentDrift{},
			Input:           model.InputDrift{Shifts: []model.FeatureShift{{Feature: model.FeatureValueDelta, PSI: 0.3, Severity: model.SeverityCritical}}},
			Alerts: []model.Alert{
				{Severity: model.SeverityCritical, Source: "calibration", Message: "gap"},
				{Severity: model.SeverityWarn, Source: "input:value_delta", Message: "psi"},
			},
			History: []model.DriftPoint{},
		}
		So(s.AppendDriftReport(ctx, report), ShouldBeNil)
		for i := 2; i <= 4; i++ {
			r := report
			r.ID = fmt.Sprintf("r%d", i)
			r.Timestamp = t0.Add(time.Duration(i) * time.Hour)
			So(s.AppendDriftReport(ctx, r), ShouldBeNil)
		}
		seg := report
		seg.ID = "s1"
		seg.Segment = "redraft-one_qb"
		So(s.AppendDriftReport(ctx, seg), ShouldBeNil)

		Convey("When reading the all-segment history", func() {
			h, err := s.DriftHistory(ctx, "", 2)
			So(err, ShouldBeNil)

			Convey("Then it is newest first and limited", func() {
				So(len(h), ShouldEqual, 2)
				So(h[0].ID, ShouldEqual, "r4")
				So(h[1].ID, ShouldEqual, "r3")
			})
		})

		Convey("When reading a report back", func() {
			h, _ := s.DriftHistory(ctx, "", 10)
			first := h[len(h)-1]

			Convey("Then it round-trips with alert order preserved", func() {
				So(first, ShouldResemble, report)
			})
		})

		Convey("When reading a segment history", func() {
			h, _ := s.DriftHistory(ctx, "redraft-one_qb", 10)
			So(len(h), ShouldEqual, 1)
		})

		Convey("When appending a report id twice", func() {
			So(errors.Is(s.AppendDriftReport(ctx, report), repository.ErrDuplicate), ShouldBeTrue)
		})

		Convey("When appending a report without an id", func() {
			r := report
			r.ID = ""
			So(errors.Is(s.AppendDriftReport(ctx, r), repository.ErrInvalidRecord), ShouldBeTrue)
		})

		Convey("When counting", func() {
			st, _ := s.Stats(ctx)
			So(st.DriftReports, ShouldEqual, 5)
		})
	})
}
