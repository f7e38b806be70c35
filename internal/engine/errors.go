package engine

import "errors"

// Errors that are the caller's fault and are surfaced verbatim. Anything
// else is an internal failure and is reported generically by the API layer.
var (
	ErrInvalidOrder        = errors.New("invalid order")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientAsset   = errors.New("insufficient asset")
	ErrAssetNotFound       = errors.New("asset not found")
	ErrCannotCancel        = errors.New("order cannot be cancelled")
	ErrOrderNotFound       = errors.New("order not found")
)
