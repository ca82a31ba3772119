package service

import "errors"

// Sentinel kinds returned by the service. The HTTP layer maps them to status
// codes.
var (
	ErrInvalidOffer     = errors.New("invalid trade offer")
	ErrInvalidOutcome   = errors.New("invalid outcome")
	ErrUnknownOffer     = errors.New("unknown trade offer")
	ErrDuplicateOutcome = errors.New("outcome already recorded")
	ErrQueueFull        = errors.New("outcome queue is full")
	ErrInvalidWindow    = errors.New("invalid window")
	ErrNotStarted       = errors.New("service not started")
)
