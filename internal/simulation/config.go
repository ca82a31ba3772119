// Package simulation generates synthetic trade offers with a known
// acceptance rule and replays them against a running server.
package simulation

import (
	"errors"
	"runtime"
	"time"
)

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL string        // Base URL of the service
	Offers  int           // Number of offers to generate
	Workers int           // Number of concurrent submitters
	Timeout time.Duration // HTTP request timeout

	// Span spreads offer creation times over [Start, Start+Span).
	Start time.Time
	Span  time.Duration

	// Seed makes values and outcomes reproducible. IDs are always random.
	Seed uint64

	// Boundary is the value delta above which counterparties decline;
	// Noise is the probability an outcome is flipped.
	Boundary float64
	Noise    float64

	// SkipOutcomes submits offers only.
	SkipOutcomes bool
	// Learn triggers a learning run once outcomes are submitted.
	Learn bool
}

// Default configuration values.
const (
	DefaultOffers   = 1000
	DefaultTimeout  = 30 * time.Second
	DefaultSpan     = 28 * 24 * time.Hour
	DefaultBoundary = 0.05
	DefaultNoise    = 0.1
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid simulation config")

// DefaultConfig returns a config for a local server.
func DefaultConfig() Config {
	return Config{
		BaseURL:  "http://localhost:9080",
		Offers:   DefaultOffers,
		Workers:  runtime.NumCPU() * 2,
		Timeout:  DefaultTimeout,
		Span:     DefaultSpan,
		Seed:     1,
		Boundary: DefaultBoundary,
		Noise:    DefaultNoise,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrInvalidConfig, errors.New("base url is required"))
	case c.Offers <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("offers must be positive"))
	case c.Workers <= 0:
		return errors.Join(ErrInvalidConfig, errors.New("workers must be positive"))
	case c.Noise < 0 || c.Noise >= 0.5:
		return errors.Join(ErrInvalidConfig, errors.New("noise must be in [0, 0.5)"))
	}
	return nil
}

// Stats holds run statistics.
type Stats struct {
	OffersGenerated  int           `json:"offers_generated"`
	OffersSubmitted  int           `json:"offers_submitted"`
	OffersFailed     int           `json:"offers_failed"`
	OutcomesAccepted int           `json:"outcomes_accepted"`
	OutcomesConflict int           `json:"outcomes_conflict"`
	OutcomesFailed   int           `json:"outcomes_failed"`
	AcceptRate       float64       `json:"accept_rate"`
	Duration         time.Duration `json:"duration"`
}
