package models

import "errors"

var (
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidStateTransition = errors.New("invalid order state transition")
	ErrGatewayFailure         = errors.New("payment gateway failure")
	ErrConcurrencyConflict    = errors.New("concurrency conflict, retry later")
	ErrInvalidFeeRules        = errors.New("invalid fee rules")
	ErrEscrowWallet           = errors.New("escrow account cannot be withdrawn from")
)

// GatewayError carries the user-facing reason of a declined or failed authorization.
type GatewayError struct {
	Reason string
}

func (e *GatewayError) Error() string {
	return ErrGatewayFailure.Error() + ": " + e.Reason
}

func (e *GatewayError) Unwrap() error {
	return ErrGatewayFailure
}
