package lifecycle

import (
	"errors"

	"hwid-license-server/internal/store"
)

// ErrInvalidInput marks a missing or malformed argument.
var ErrInvalidInput = errors.New("invalid input")

type inputError struct {
	msg string
}

func (e *inputError) Error() string { return e.msg }

func (e *inputError) Unwrap() error { return ErrInvalidInput }

func invalid(msg string) error { return &inputError{msg: msg} }

// IsStorage reports whether err came from the storage backend.
func IsStorage(err error) bool {
	var se *store.StorageError
	return errors.As(err, &se)
}
