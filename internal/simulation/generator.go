package simulation

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/okian/tradevalue/internal/domain/model"
)

var positions = []string{"QB", "RB", "WR", "TE"}

// Sample is one synthetic offer and how it resolved.
type Sample struct {
	Offer   model.TradeOffer
	Outcome model.Outcome
	// Delta is the generated value delta from the proposer's side.
	Delta float64
}

// Generator produces offers whose acceptance follows a fixed boundary on
// the value delta. It is not safe for concurrent use.
type Generator struct {
	rng      *rand.Rand
	boundary float64
	noise    float64
}

// NewGenerator returns a generator seeded from cfg.
func NewGenerator(cfg Config) *Generator {
	return &Generator{
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		boundary: cfg.Boundary,
		noise:    cfg.Noise,
	}
}

// Generate returns n samples with creation times spread over span.
func (g *Generator) Generate(n int, start time.Time, span time.Duration) []Sample {
	out := make([]Sample, n)
	step := time.Duration(0)
	if n > 0 {
		step = span / time.Duration(n)
	}
	for i := range out {
		out[i] = g.sample(start.Add(time.Duration(i) * step))
	}
	return out
}

func (g *Generator) sample(at time.Time) Sample {
	id := uuid.NewString()
	delta := math.Round((g.rng.Float64()*0.8-0.4)*1000) / 1000
	give := 20 + g.rng.Float64()*60
	get := give * (1 + delta)

	dynasty := g.rng.IntN(2) == 0
	format := model.FormatOneQB
	if g.rng.IntN(3) == 0 {
		format = model.FormatSuperflex
	}
	posA := positions[g.rng.IntN(len(positions))]
	posB := positions[g.rng.IntN(len(positions))]

	accepted := delta <= g.boundary
	if g.rng.Float64() < g.noise {
		accepted = !accepted
	}

	offer := model.TradeOffer{
		ID: id,
		SideA: []model.Asset{{
			Kind: model.KindPlayer, ID: fmt.Sprintf("%s-%s-a", posA, id[:8]),
			Position: posA, Age: 22 + float64(g.rng.IntN(10)), MarketValue: give,
		}},
		SideB: []model.Asset{{
			Kind: model.KindPlayer, ID: fmt.Sprintf("%s-%s-b", posB, id[:8]),
			Position: posB, Age: 22 + float64(g.rng.IntN(10)), MarketValue: get,
		}},
		Context: model.LeagueContext{
			Format:   format,
			Dynasty:  dynasty,
			AsOf:     at,
			Activity: g.rng.Float64(),
		},
		CounterpartyNeeds: map[string]float64{posA: g.rng.Float64()},
		Tags:              map[string]string{"position_group": posA},
		CreatedAt:         at,
	}
	return Sample{
		Offer: offer,
		Outcome: model.Outcome{
			TradeOfferID: id,
			Accepted:     accepted,
			ObservedAt:   at.Add(time.Duration(1+g.rng.IntN(72)) * time.Hour),
		},
		Delta: delta,
	}
}
