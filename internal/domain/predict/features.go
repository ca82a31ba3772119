package predict

import (
	"math"

	"github.com/okian/tradevalue/internal/domain/model"
)

// scarcePositions lists positions whose supply is thin in each format.
var scarcePositions = map[model.Format]map[string]bool{
	model.FormatOneQB:     {"RB": true, "TE": true},
	model.FormatSuperflex: {"QB": true, "RB": true, "TE": true},
}

// Extract derives the model features of an offer. valueDeltaPct is the
// proposer's delta; valuesA and valuesB are the priced sides in asset order.
//
// All features lie in [-1, 1]:
//   - value_delta: the counterparty's gain, -valueDeltaPct clipped.
//   - liquidity: league trade activity in [0, 1].
//   - archetype_fit: how well side A fills the counterparty's needs, centred at 0.
//   - scarcity: scarce value the counterparty receives minus scarce value it gives.
func Extract(offer model.TradeOffer, valueDeltaPct float64, valuesA, valuesB []float64) model.Features {
	return model.Features{
		ValueDelta:   clip(-valueDeltaPct, -1, 1),
		Liquidity:    clip(offer.Context.Activity, 0, 1),
		ArchetypeFit: archetypeFit(offer.SideA, valuesA, offer.CounterpartyNeeds),
		Scarcity:     scarcity(offer, valuesA, valuesB),
	}
}

func archetypeFit(assets []model.Asset, values []float64, needs map[string]float64) float64 {
	if len(needs) == 0 {
		return 0
	}
	var num, den float64
	for i, a := range assets {
		v := valueAt(values, i)
		if v <= 0 {
			continue
		}
		num += v * clip(needs[a.NormalizedPosition()], 0, 1)
		den += v
	}
	if den == 0 {
		return 0
	}
	return clip(2*num/den-1, -1, 1)
}

func scarcity(offer model.TradeOffer, valuesA, valuesB []float64) float64 {
	scarce := scarcePositions[offer.Context.Format]
	if scarce == nil {
		scarce = scarcePositions[model.FormatOneQB]
	}
	share := func(assets []model.Asset, values []float64) float64 {
		var s, total float64
		for i, a := range assets {
			v := valueAt(values, i)
			if v <= 0 {
				continue
			}
			total += v
			if scarce[a.NormalizedPosition()] {
				s += v
			}
		}
		if total == 0 {
			return 0
		}
		return s / total
	}
	return clip(share(offer.SideA, valuesA)-share(offer.SideB, valuesB), -1, 1)
}

func valueAt(values []float64, i int) float64 {
	if i < len(values) {
		return values[i]
	}
	return 0
}

func clip(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(lo, math.Min(hi, x))
}
