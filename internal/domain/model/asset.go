// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// AssetKind distinguishes players from draft picks.
type AssetKind string

// Asset kinds.
const (
	KindPlayer AssetKind = "PLAYER"
	KindPick   AssetKind = "PICK"
)

// Format is the starting-lineup format of a league.
type Format string

// League formats.
const (
	FormatOneQB     Format = "one_qb"
	FormatSuperflex Format = "superflex"
)

// Pick slot buckets within a round.
const (
	SlotEarly = "early"
	SlotMid   = "mid"
	SlotLate  = "late"
)

// Asset is a player or a draft pick on one side of a trade.
type Asset struct {
	Kind     AssetKind `json:"kind"`
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Position string    `json:"position,omitempty"`
	Age      float64   `json:"age,omitempty"`

	// Pick identity; zero for players.
	PickYear  int    `json:"pick_year,omitempty"`
	PickRound int    `json:"pick_round,omitempty"`
	PickSlot  string `json:"pick_slot,omitempty"`

	// MarketValue is a caller-supplied value used when the feed has no entry.
	MarketValue float64 `json:"market_value,omitempty"`
}

// Identified reports whether the asset carries any resolvable identity.
func (a Asset) Identified() bool {
	if strings.TrimSpace(a.ID) != "" || a.MarketValue > 0 {
		return true
	}
	return a.Kind == KindPick && a.PickYear > 0 && a.PickRound > 0
}

// NormalizedPosition returns the upper-cased position, "PICK" for picks.
func (a Asset) NormalizedPosition() string {
	if a.Kind == KindPick {
		return "PICK"
	}
	return strings.ToUpper(strings.TrimSpace(a.Position))
}

// LeagueContext carries everything the pricer needs besides the asset.
type LeagueContext struct {
	Format  Format    `json:"format"`
	Dynasty bool      `json:"dynasty"`
	AsOf    time.Time `json:"as_of"`
	// Activity is the league's trade-market activity in [0,1].
	Activity float64 `json:"activity"`
}

// Mode returns "dynasty" or "redraft".
func (c LeagueContext) Mode() string {
	if c.Dynasty {
		return ModeDynasty
	}
	return ModeRedraft
}

// Segment returns the league-format bucket key, e.g. "dynasty-superflex".
func (c LeagueContext) Segment() string {
	f := c.Format
	if f != FormatSuperflex {
		f = FormatOneQB
	}
	return c.Mode() + "-" + string(f)
}

// Modes.
const (
	ModeDynasty = "dynasty"
	ModeRedraft = "redraft"
)

// Valuation is the priced value of one asset.
type Valuation struct {
	AssetID    string  `json:"asset_id"`
	Value      float64 `json:"value"`
	Confidence string  `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// Confidence labels.
const (
	ConfidenceHigh = "high"
	ConfidenceLow  = "low"
)
