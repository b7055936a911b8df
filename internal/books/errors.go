package books

import (
	"errors"
	"fmt"
)

var (
	// ErrPropertyNotFound indicates a missing property.
	ErrPropertyNotFound = errors.New("books: property not found")
	// ErrTransactionNotFound indicates a missing ledger transaction.
	ErrTransactionNotFound = errors.New("books: transaction not found")
	// ErrAmortizationTypeNotFound indicates a missing amortization type.
	ErrAmortizationTypeNotFound = errors.New("books: amortization type not found")
	// ErrInvalidConfiguration indicates unsupported or malformed configuration.
	ErrInvalidConfiguration = errors.New("books: invalid configuration")
	// ErrUnknownSpecialSource indicates a balance sheet source outside the closed set.
	ErrUnknownSpecialSource = fmt.Errorf("%w: unknown special source", ErrInvalidConfiguration)
)

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPropertyNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrAmortizationTypeNotFound)
}
