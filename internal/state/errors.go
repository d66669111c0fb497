package state

import "errors"

// Domain precondition failures. Each maps to exactly one caller-visible
// rejection; operations that return one of these must leave state untouched.
var (
	ErrUnauthorized         = errors.New("unauthorized caller")
	ErrInvalidAddress       = errors.New("invalid principal address")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrWrongPremium         = errors.New("payment must equal premium exactly")
	ErrAlreadySubscribed    = errors.New("subscription already active")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrSubscriptionExpired  = errors.New("subscription expired")
	ErrDuplicateFlight      = errors.New("flight already registered")
	ErrInsufficientPool     = errors.New("pool balance insufficient for payout")
	ErrInsufficientPayable  = errors.New("payable balance insufficient for settlement")
)
