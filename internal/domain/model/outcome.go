package model

import "time"

// Outcome records how a real trade offer resolved. Immutable once recorded.
type Outcome struct {
	TradeOfferID string    `json:"trade_offer_id"`
	Accepted     bool      `json:"accepted"`
	ObservedAt   time.Time `json:"observed_at"`
}

// PredictionRecord is a persisted prediction, joined with its outcome once
// the offer resolves.
type PredictionRecord struct {
	OfferID     string            `json:"offer_id"`
	Segment     string            `json:"segment"`
	Mode        string            `json:"mode"`
	Probability float64           `json:"probability"`
	Source      string            `json:"source"`
	Features    Features          `json:"features"`
	Tags        map[string]string `json:"tags,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Outcome     *Outcome          `json:"outcome,omitempty"`
}

// Resolved reports whether an outcome has been recorded.
func (r PredictionRecord) Resolved() bool { return r.Outcome != nil }

// Label returns 1 for an accepted offer and 0 otherwise.
func (r PredictionRecord) Label() float64 {
	if r.Outcome != nil && r.Outcome.Accepted {
		return 1
	}
	return 0
}
