package common

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrNotReady          = errors.New("bloom engine not ready")
	ErrAlreadyConfigured = errors.New("bloom engine already configured")
	ErrStoreUnavailable  = errors.New("bit store unavailable")
	ErrStoreProtocol     = errors.New("bit store protocol error")
	ErrParameterMismatch = errors.New("filter parameters do not match the stored fingerprint")
)

// OperationError annotates a store failure with the engine operation and
// the bit array it targeted. The wrapped error keeps its kind.
type OperationError struct {
	Operation string
	Handle    BitArrayHandle
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Operation, e.Handle, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
