package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrLockHeld            = errors.New("lock already held")
	ErrNoWallet            = errors.New("no wallet configured")
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	ErrCatalogUnavailable  = errors.New("catalog unavailable")
	ErrActionValidation    = errors.New("action validation failed")
	ErrActionRejected      = errors.New("action rejected")
	ErrActionInProgress    = errors.New("action already in progress")
	ErrNumericOverflow     = errors.New("numeric overflow")
)

// ActionError carries the user-facing reason of a failed marketplace action.
// Reason is the ledger revert reason when one was available, otherwise the
// generic per-action message.
type ActionError struct {
	Op     ActionOp
	Reason string
	Err    error
}

func (e *ActionError) Error() string {
	return string(e.Op) + ": " + e.Reason
}

func (e *ActionError) Unwrap() error { return e.Err }

// Invalid builds an ActionError classified as ErrActionValidation.
func Invalid(op ActionOp, reason string) *ActionError {
	return &ActionError{Op: op, Reason: reason, Err: ErrActionValidation}
}

// RevertError is a ledger write rejected with a reason string.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}
