package learning

import (
	"context"
	"time"

	"github.com/okian/tradevalue/internal/domain/model"
)

const week = 7 * 24 * time.Hour

// WeekResult scores one replayed week.
type WeekResult struct {
	WeekStart     time.Time `json:"week_start"`
	Samples       int       `json:"samples"`
	BaselineScore float64   `json:"baseline_score"`
	ReplayScore   float64   `json:"replay_score"`
	Updated       bool      `json:"updated"`
}

// BacktestReport aggregates a week-by-week replay. BaselineScore keeps the
// starting weights frozen; ReplayScore lets the learner update them online
// using only outcomes observed before each week.
type BacktestReport struct {
	From          time.Time            `json:"from"`
	To            time.Time            `json:"to"`
	Weeks         []WeekResult         `json:"weeks"`
	Samples       int                  `json:"samples"`
	BaselineScore float64              `json:"baseline_score"`
	ReplayScore   float64              `json:"replay_score"`
	Improved      bool                 `json:"improved"`
	Updates       int                  `json:"updates"`
	Final         model.SegmentWeights `json:"final"`
	Partial       bool                 `json:"partial"`
}

// Backtest replays [from, to) week by week. It stops cooperatively when ctx
// is done and returns what it has, marked Partial.
func Backtest(ctx context.Context, samples []Sample, from, to time.Time, start model.SegmentWeights, p Params) BacktestReport {
	ordered := make([]Sample, len(samples))
	copy(ordered, samples)
	sortSamples(ordered)

	rep := BacktestReport{From: from, To: to, Final: start}
	live := start
	var baseTotal, replayTotal float64
	for ws := from; ws.Before(to); ws = ws.Add(week) {
		if ctx.Err() != nil {
			rep.Partial = true
			break
		}
		we := ws.Add(week)
		if we.After(to) {
			we = to
		}
		var train, test []Sample
		for _, s := range ordered {
			switch {
			case s.ObservedAt.Before(ws):
				train = append(train, s)
			case s.ObservedAt.Before(we):
				test = append(test, s)
			}
		}
		if len(test) == 0 {
			continue
		}
		wr := WeekResult{WeekStart: ws, Samples: len(test)}
		if len(train) >= p.normalized().MinSamples {
			if c, err := Fit(train, live, p); err == nil && c.Improved {
				live = c.Learned
				wr.Updated = true
				rep.Updates++
			}
		}
		wr.BaselineScore = LogLoss(test, start)
		wr.ReplayScore = LogLoss(test, live)
		baseTotal += wr.BaselineScore * float64(len(test))
		replayTotal += wr.ReplayScore * float64(len(test))
		rep.Samples += len(test)
		rep.Weeks = append(rep.Weeks, wr)
	}
	if rep.Samples > 0 {
		rep.BaselineScore = baseTotal / float64(rep.Samples)
		rep.ReplayScore = replayTotal / float64(rep.Samples)
	}
	rep.Improved = rep.Updates > 0 && rep.ReplayScore < rep.BaselineScore
	rep.Final = live
	return rep
}
