package model

import "errors"

// Sentinel kinds for malformed input.
var (
	ErrInvalidOffer = errors.New("invalid trade offer")
	ErrEmptySide    = errors.New("invalid trade offer: both sides must contain at least one asset")
)
