package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "fetch", "dial", "read")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrInvalidAmount is returned when a mutation is requested with a zero or
	// negative amount. Precondition failure, never retried.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when a debit or lock exceeds the
	// available balance. The record is left untouched.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientLocked is returned when an unlock or settlement exceeds
	// the locked balance.
	ErrInsufficientLocked = errors.New("insufficient locked balance")

	// ErrInvalidSymbol is returned when a symbol is not supported or malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrOrderNotFound is returned when an order id is unknown to the engine.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderNotOpen is returned when cancel or modify targets an order that
	// has already left the open set.
	ErrOrderNotOpen = errors.New("order not open")

	// ErrPriceRequired is returned when a limit or stop order is placed
	// without a price.
	ErrPriceRequired = errors.New("price required")

	// ErrDuplicateReference is returned by the store when an adjustment
	// reference has already been applied.
	ErrDuplicateReference = errors.New("duplicate reference")

	// ErrFeedUnavailable is returned when the upstream price source fails
	// and the feed substitutes synthetic prices.
	ErrFeedUnavailable = errors.New("price feed unavailable")
)
