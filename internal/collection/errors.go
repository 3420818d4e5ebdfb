package collection

import "errors"

var (
	ErrCollectionInProgress   = errors.New("collection already in progress for obligation")
	ErrAttemptInFlight        = errors.New("charge attempt already in flight for obligation")
	ErrAmountExceedsRemaining = errors.New("charge amount exceeds remaining balance")
	ErrStaleAttempt           = errors.New("charge attempt was modified concurrently")
	ErrInvalidTransition      = errors.New("invalid charge attempt transition")
)
