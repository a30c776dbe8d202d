package models

import "errors"

// Sentinel errors for the processing engine. Callers wrap these with
// fmt.Errorf("%w: ...") to attach the offending transaction and account.
var (
	// ErrValidation covers missing classification inputs and zero or
	// negative amounts where a positive one is required.
	ErrValidation = errors.New("validation failed")

	// ErrAmbiguousTransferMatch is returned when a transfer has zero or more
	// than one candidate counterpart. The engine refuses to guess; the
	// operator has to fix the import data or the tolerance window.
	ErrAmbiguousTransferMatch = errors.New("ambiguous transfer match")

	// ErrDuplicateTransaction signals a platform_transaction_id collision on
	// import for the same account and type.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrInsufficientLots is returned when a disposal amount exceeds the
	// account's open-lot balance. A disposal must never go negative silently.
	ErrInsufficientLots = errors.New("insufficient lots")

	// ErrSpecIdentification is returned when an account configured for
	// specific identification hits automatic lot selection; lots for such
	// accounts have to be assigned explicitly.
	ErrSpecIdentification = errors.New("specific identification requires explicit lot choice")
)
