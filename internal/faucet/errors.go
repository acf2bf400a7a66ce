package faucet

import (
	"errors"
	"fmt"
)

// Faucet errors.
var (
	ErrInvalidDestination  = errors.New("invalid destination address")
	ErrFaucetEmpty         = errors.New("faucet is empty")
	ErrNoFundedAddress     = errors.New("no funded address")
	ErrTooManyAddresses    = errors.New("too many addresses in pool")
	ErrLedgerUnavailable   = errors.New("ledger unavailable")
	ErrSubmissionFailed    = errors.New("submission failed")
	ErrMissingBaton        = errors.New("missing baton")
	ErrNoGroupTokens       = errors.New("no group tokens")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrClosed              = errors.New("faucet closed")
)

// SubmissionError reports a transaction the ledger did not accept. Detail
// carries whatever the ledger returned in place of a transaction hash.
type SubmissionError struct {
	Detail string
	Err    error
}

func (e *SubmissionError) Error() string {
	return "submission failed: " + e.Detail
}

// Is makes errors.Is(err, ErrSubmissionFailed) hold.
func (e *SubmissionError) Is(target error) bool {
	return target == ErrSubmissionFailed
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// unavailable tags err with ErrLedgerUnavailable unless the ledger already did.
func unavailable(what string, err error) error {
	if errors.Is(err, ErrLedgerUnavailable) {
		return fmt.Errorf("%s: %w", what, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrLedgerUnavailable, what, err)
}
