package commitment

import "errors"

// Error taxonomy for ledger and engine operations. Callers match with
// errors.Is; the HTTP surface maps each kind to a response status.
var (
	ErrNotFound            = errors.New("commitment not found")
	ErrAlreadySettled      = errors.New("commitment is not active")
	ErrNotExpired          = errors.New("commitment has not reached maturity")
	ErrUnauthorized        = errors.New("caller is not authorized")
	ErrInvalidRules        = errors.New("invalid commitment rules")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrTransferFailed      = errors.New("asset transfer failed")
	ErrInvalidAmount       = errors.New("invalid amount")
)
