package metrics

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with a private registry", func() {
			registry := prometheus.NewRegistry()
			m := NewManager(WithPrometheusRegistry(registry))

			Convey("Then the default namespace applies", func() {
				So(m.namespace, ShouldEqual, "tradevalue")
				So(m.subsystem, ShouldEqual, "engine")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			m := NewManager(
				WithNamespace("fantasy"),
				WithSubsystem("trades"),
				WithHistogramBuckets([]float64{1, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			m.tradesAnalyzed.WithLabelValues("dynasty-superflex", "FAIR").Inc()

			Convey("Then the collectors carry them", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				var found bool
				for _, f := range families {
					if f.GetName() == "fantasy_trades_trades_analyzed_total" {
						found = true
						So(f.GetMetric()[0].GetLabel()[0].GetName(), ShouldEqual, "env")
					}
				}
				So(found, ShouldBeTrue)
				So(m.histogramBuckets, ShouldResemble, []float64{1, 10})
			})
		})

		Convey("When empty option values are passed", func() {
			registry := prometheus.NewRegistry()
			m := NewManager(WithNamespace(""), WithSubsystem(""), WithHistogramBuckets(nil), WithPrometheusRegistry(registry))

			Convey("Then the defaults are kept", func() {
				So(m.namespace, ShouldEqual, "tradevalue")
				So(m.subsystem, ShouldEqual, "engine")
				So(len(m.histogramBuckets), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording analysis metrics", func() {
			before := testutil.ToFloat64(globalManager.tradesAnalyzed.WithLabelValues("redraft-one_qb", "LEAN_YOU"))
			RecordTradeAnalyzed("redraft-one_qb", "LEAN_YOU")
			RecordTradeAnalyzed("redraft-one_qb", "LEAN_YOU")
			RecordAnalysisLatency(3.5)
			RecordAnalysisError("validation")
			RecordPredictionSource("redraft-one_qb", "default")

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(globalManager.tradesAnalyzed.WithLabelValues("redraft-one_qb", "LEAN_YOU")), ShouldEqual, before+2)
			})
		})

		Convey("When recording cache lookups", func() {
			hits := testutil.ToFloat64(globalManager.cacheLookups.WithLabelValues("hit"))
			RecordCacheHit()
			RecordCacheMiss()
			RecordCacheError()
			So(testutil.ToFloat64(globalManager.cacheLookups.WithLabelValues("hit")), ShouldEqual, hits+1)
		})

		Convey("When recording learning and drift state", func() {
			RecordLearningRun("dynasty-superflex", "committed", 120)
			UpdateSegmentWeight("dynasty-superflex", "b0", -0.35)
			RecordDriftRun("warn")
			UpdateDriftSeverity("all", 1)
			UpdateCalibrationGap("all", 0.08)
			UpdateFeaturePSI("value_delta", 0.12)

			Convey("Then the gauges hold the latest value", func() {
				So(testutil.ToFloat64(globalManager.segmentWeights.WithLabelValues("dynasty-superflex", "b0")), ShouldEqual, -0.35)
				So(testutil.ToFloat64(globalManager.driftSeverity.WithLabelValues("all")), ShouldEqual, 1)
				So(testutil.ToFloat64(globalManager.featurePSI.WithLabelValues("value_delta")), ShouldEqual, 0.12)
			})
		})

		Convey("When recording outcomes and storage", func() {
			RecordOutcomeRecorded(true)
			RecordOutcomeRecorded(false)
			RecordDuplicate()
			UpdateStoredPredictions(42)
			RecordRepositoryUpdateLatency(0.2)
			RecordRepositoryQueryLatency(0.4)
			So(testutil.ToFloat64(globalManager.storedPredictions), ShouldEqual, 42)
		})

		Convey("When recording infrastructure metrics", func() {
			So(func() {
				RecordSchedulerJob("learning", "ok")
				RecordFeedRefresh("ok")
				UpdateValueBookSize(500)
				RecordHTTPRequest("/v1/trades/analyze", "POST", "200")
				RecordHTTPRequestDuration("/v1/trades/analyze", "POST", "200", 4)
				UpdateQueueSize(3)
				UpdateQueueCapacity(100)
				UpdateQueueUtilization(3)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0.1)
				UpdateWorkerCount(4)
				UpdateWorkerActiveCount(1)
				UpdateWorkerIdleCount(3)
				RecordWorkerProcessingLatency(0.3)
				RecordWorkerError()
				RecordErrorByComponent("learning", "persistence")
				RecordErrorByEndpoint("/v1/outcomes", "POST", "not_found")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.5)
			}, ShouldNotPanic)
		})

		Convey("When reading the registry", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}

func TestMetricsConcurrency(t *testing.T) {
	Convey("Given concurrent writers", t, func() {
		before := testutil.ToFloat64(globalManager.duplicateOffers)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					RecordDuplicate()
					UpdateQueueSize(j)
				}
			}()
		}
		wg.Wait()
		So(testutil.ToFloat64(globalManager.duplicateOffers), ShouldEqual, before+1000)
	})
}
