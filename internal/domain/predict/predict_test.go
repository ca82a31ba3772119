package predict_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/okian/tradevalue/internal/domain/model"
	"github.com/okian/tradevalue/internal/domain/predict"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeReader struct {
	rows map[string]model.SegmentWeights
	err  error
}

func (f fakeReader) ActiveWeights(_ context.Context, segment string) (model.SegmentWeights, bool, error) {
	if f.err != nil {
		return model.SegmentWeights{}, false, f.err
	}
	w, ok := f.rows[segment]
	return w, ok, nil
}

func TestResolveWeights(t *testing.T) {
	Convey("Given a reader with one learned segment", t, func() {
		learned := model.SegmentWeights{
			SchemaVersion: model.SchemaVersion,
			Segment:       "dynasty-superflex",
			B0:            0.2,
			Weights:       model.FeatureWeights{ValueDelta: 2, Liquidity: 0.5},
		}
		reader := fakeReader{rows: map[string]model.SegmentWeights{
			"dynasty-superflex": learned,
			"redraft-one_qb":    {SchemaVersion: 0, Segment: "redraft-one_qb"},
		}}
		ctx := context.Background()

		Convey("When resolving the learned segment", func() {
			w, src, err := predict.ResolveWeights(ctx, reader, "dynasty-superflex", predict.DefaultDefaults())
			So(err, ShouldBeNil)
			So(src, ShouldEqual, model.SourceLearned)
			So(w, ShouldResemble, learned)
		})

		Convey("When resolving a segment with no history", func() {
			w, src, err := predict.ResolveWeights(ctx, reader, "dynasty-one_qb", predict.DefaultDefaults())
			So(err, ShouldBeNil)
			So(src, ShouldEqual, model.SourceDefault)
			So(w.B0, ShouldEqual, -0.4)
			So(w.Weights, ShouldResemble, model.EqualWeights(1))
			So(w.Segment, ShouldEqual, "dynasty-one_qb")
		})

		Convey("When the stored row is from another schema version", func() {
			_, src, err := predict.ResolveWeights(ctx, reader, "redraft-one_qb", predict.DefaultDefaults())
			So(err, ShouldBeNil)
			So(src, ShouldEqual, model.SourceDefault)
		})

		Convey("When the reader fails", func() {
			boom := errors.New("db down")
			w, src, err := predict.ResolveWeights(ctx, fakeReader{err: boom}, "x", predict.DefaultDefaults())
			Convey("Then defaults are still usable and the error is surfaced", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				So(src, ShouldEqual, model.SourceDefault)
				So(w.Valid(), ShouldBeTrue)
			})
		})

		Convey("When there is no reader", func() {
			_, src, err := predict.ResolveWeights(ctx, nil, "x", predict.DefaultDefaults())
			So(err, ShouldBeNil)
			So(src, ShouldEqual, model.SourceDefault)
		})
	})
}

func TestPredict(t *testing.T) {
	Convey("Given default weights", t, func() {
		w := predict.DefaultDefaults().Weights("redraft-one_qb")

		Convey("When all features are neutral", func() {
			p := predict.Predict(model.Features{}, w, model.SourceDefault)
			Convey("Then the probability is the sigmoid of the intercept", func() {
				So(p.Probability, ShouldAlmostEqual, 1/(1+math.Exp(0.4)), 1e-12)
				So(p.Source, ShouldEqual, model.SourceDefault)
				So(len(p.Contributions), ShouldEqual, 4)
			})
		})

		Convey("When contributions differ in size", func() {
			p := predict.Predict(model.Features{ValueDelta: 0.1, Scarcity: -0.7}, w, model.SourceDefault)
			So(p.Contributions[0].Feature, ShouldEqual, model.FeatureScarcity)
			So(p.Contributions[1].Feature, ShouldEqual, model.FeatureValueDelta)
		})

		Convey("When the favourable delta increases with other features fixed", func() {
			Convey("Then probability never decreases, even for a negative learned delta weight", func() {
				for _, dw := range []float64{-3, 0, 0.5, 4} {
					ww := w
					ww.Weights.ValueDelta = dw
					prev := -1.0
					for d := -1.0; d <= 1.0; d += 0.05 {
						p := predict.Predict(model.Features{ValueDelta: d, Liquidity: 0.3, ArchetypeFit: -0.2}, ww, model.SourceLearned)
						So(p.Probability, ShouldBeGreaterThanOrEqualTo, prev)
						prev = p.Probability
					}
				}
			})
		})
	})

	Convey("Given extreme logits", t, func() {
		So(predict.Sigmoid(1000), ShouldEqual, 1)
		So(predict.Sigmoid(-1000), ShouldEqual, 0)
		So(predict.Sigmoid(math.NaN()), ShouldEqual, 0.5)
	})
}

func TestExtract(t *testing.T) {
	Convey("Given a superflex offer", t, func() {
		offer := model.TradeOffer{
			ID:    "o-1",
			SideA: []model.Asset{{Kind: model.KindPlayer, ID: "qb", Position: "QB"}, {Kind: model.KindPlayer, ID: "wr", Position: "WR"}},
			SideB: []model.Asset{{Kind: model.KindPlayer, ID: "wr2", Position: "WR"}},
			Context: model.LeagueContext{
				Format:   model.FormatSuperflex,
				Dynasty:  true,
				Activity: 1.7,
			},
			CounterpartyNeeds: map[string]float64{"QB": 1},
			Tags:              map[string]string{"position_group": "QB"},
		}

		Convey("When extracting features", func() {
			f := predict.Extract(offer, 0.3, []float64{60, 20}, []float64{104})
			Convey("Then each feature is bounded and signed correctly", func() {
				So(f.ValueDelta, ShouldAlmostEqual, -0.3, 1e-12)
				So(f.Liquidity, ShouldEqual, 1)
				So(f.ArchetypeFit, ShouldAlmostEqual, 0.5, 1e-12)
				So(f.Scarcity, ShouldAlmostEqual, 0.75, 1e-12)
			})
		})

		Convey("When the delta is extreme", func() {
			f := predict.Extract(offer, -5, []float64{1, 1}, []float64{0})
			So(f.ValueDelta, ShouldEqual, 1)
			So(f.Scarcity, ShouldAlmostEqual, 0.5, 1e-12)
		})

		Convey("When the counterparty states no needs", func() {
			offer.CounterpartyNeeds = nil
			f := predict.Extract(offer, 0, []float64{60, 20}, []float64{80})
			So(f.ArchetypeFit, ShouldEqual, 0)
		})

		Convey("When building a record", func() {
			at := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
			p := predict.Predict(model.Features{}, predict.DefaultDefaults().Weights("s"), model.SourceDefault)
			r := predict.Record(offer, model.Features{}, p, at)
			So(r.Segment, ShouldEqual, "dynasty-superflex")
			So(r.Mode, ShouldEqual, model.ModeDynasty)
			So(r.Tags["position_group"], ShouldEqual, "QB")
			So(r.Resolved(), ShouldBeFalse)
			So(r.CreatedAt, ShouldEqual, at)
		})
	})
}
