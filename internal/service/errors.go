package service

import "errors"

// Input validation
var (
	ErrMissingParams          = errors.New("order_id, payment_id and signature are required")
	ErrMissingSignature       = errors.New("missing webhook signature")
	ErrInvalidSignatureFormat = errors.New("invalid signature format")
	ErrInvalidPayload         = errors.New("invalid webhook payload")
	ErrInvalidPlan            = errors.New("unknown plan or billing cycle")
)

// Authentication and integrity
var (
	ErrSignatureMismatch = errors.New("signature verification failed")
	ErrRateLimited       = errors.New("too many requests, please try again later")
)

// Consistency
var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrPaymentNotCaptured   = errors.New("payment is not captured")
	ErrPaymentMismatch      = errors.New("payment does not belong to this order")
	ErrAmountMismatch       = errors.New("payment amount does not match order total")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionActive   = errors.New("an active subscription must be cancelled first")
	ErrInvalidTransition    = errors.New("invalid subscription transition")
	ErrTerminalState        = errors.New("subscription is in a terminal state")
	ErrConcurrentUpdate     = errors.New("subscription changed concurrently, retry later")
)

// Configuration
var (
	ErrNotConfigured = errors.New("payment verification is not configured")
)
