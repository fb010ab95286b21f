// Package svcerr holds the error taxonomy shared by the settlement engine.
// Callers wrap these with fmt.Errorf("...: %w", err) and test with errors.Is.
package svcerr

import "errors"

var (
	// ErrValidation rejects a request before any seed, nonce or balance is touched.
	ErrValidation = errors.New("validation failed")

	// ErrRateLimited rejects a bet placed inside the user's inter-bet window.
	ErrRateLimited = errors.New("rate limited")

	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSeedNotFound      = errors.New("seed not found")
	ErrNotFound          = errors.New("not found")
	ErrNothingToClaim    = errors.New("nothing to claim")
	ErrAlreadyExists     = errors.New("already exists")
)

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsNotFound matches every "missing row" error in the taxonomy.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrSeedNotFound)
}

// IsConflict matches errors that are valid requests the current state cannot satisfy.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrNothingToClaim) ||
		errors.Is(err, ErrAlreadyExists)
}
