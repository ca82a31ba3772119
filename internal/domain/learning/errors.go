package learning

import "errors"

// Sentinel kinds for learning failures.
var (
	ErrInsufficientData     = errors.New("insufficient data to learn")
	ErrNumericalInstability = errors.New("numerical instability in weight fit")
	ErrNotImproved          = errors.New("candidate does not improve on baseline")
)
