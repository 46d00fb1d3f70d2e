package domain

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrRateLimited          = errors.New("rate limited")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrInvalidOrder         = errors.New("invalid order parameters")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrSubscriptionLimit    = errors.New("subscription limit exceeded")
	ErrWSDisconnect         = errors.New("websocket disconnected")
	ErrExitInFlight         = errors.New("exit already in flight")
	ErrFillExceedsRemaining = errors.New("fill quantity exceeds remaining shares")
)
