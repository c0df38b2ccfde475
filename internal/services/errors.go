package services

import "errors"

// Engine error taxonomy. Callers branch with errors.Is; anything outside
// this set is an unexpected failure whose transaction has already been
// rolled back as a unit.
var (
	// ErrInsufficientFunds is a pre-check failure: nothing was persisted.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidState means the operation is not legal for the record's
	// current status. Safe to treat as "already done" for idempotent calls.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrRateUnavailable means the price feed failed and no usable
	// last-known rate exists. Operations needing a live rate fail closed.
	ErrRateUnavailable = errors.New("external rate unavailable")

	// ErrPersistenceConflict is a concurrent-write conflict at the lock
	// layer. The engine retries these internally with bounded backoff.
	ErrPersistenceConflict = errors.New("concurrent update conflict")

	// ErrNotFound means no record matches the given reference or id.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidAddress rejects a malformed bitcoin recipient address.
	ErrInvalidAddress = errors.New("invalid bitcoin address")

	// ErrLimitExceeded rejects an amount over the per-type or daily cap.
	ErrLimitExceeded = errors.New("transfer limit exceeded")
)
