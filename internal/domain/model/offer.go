package model

import (
	"fmt"
	"strings"
	"time"
)

// TradeOffer is a proposed trade. SideA is what the proposer gives,
// SideB what the proposer receives from the counterparty.
type TradeOffer struct {
	ID      string        `json:"id"`
	SideA   []Asset       `json:"side_a"`
	SideB   []Asset       `json:"side_b"`
	Segment string        `json:"segment,omitempty"`
	Context LeagueContext `json:"context"`

	// CounterpartyNeeds maps a position to how badly the counterparty
	// needs it, in [0,1].
	CounterpartyNeeds map[string]float64 `json:"counterparty_needs,omitempty"`

	// Tags carry drill-down dimensions such as position_group.
	Tags map[string]string `json:"tags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the structural invariants of an offer.
func (o TradeOffer) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidOffer)
	}
	if len(o.SideA) == 0 || len(o.SideB) == 0 {
		return ErrEmptySide
	}
	return nil
}

// SegmentKey returns the explicit segment or the one derived from context.
func (o TradeOffer) SegmentKey() string {
	if s := strings.TrimSpace(o.Segment); s != "" {
		return s
	}
	return o.Context.Segment()
}

// Contribution explains one feature's share of the logit.
type Contribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// TradeAnalysis is the derived, on-demand evaluation of an offer.
type TradeAnalysis struct {
	OfferID               string         `json:"offer_id"`
	Segment               string         `json:"segment"`
	FairnessScore         float64        `json:"fairness_score"`
	ValueDeltaPct         float64        `json:"value_delta_pct"`
	Tier                  string         `json:"tier"`
	AcceptanceProbability float64        `json:"acceptance_probability"`
	Source                string         `json:"source"`
	Confidence            string         `json:"confidence"`
	Features              Features       `json:"features"`
	ContributingFeatures  []Contribution `json:"contributing_features"`
	SideA                 []Valuation    `json:"side_a"`
	SideB                 []Valuation    `json:"side_b"`
	Fingerprint           string         `json:"fingerprint"`
	Cached                bool           `json:"cached"`
}
