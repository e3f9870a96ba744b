package core

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by services, stores and the HTTP layer.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	// ErrStorageConflict marks a transient commit failure that is safe to retry.
	ErrStorageConflict = errors.New("storage conflict")
)

var ErrInvalidAmount = fmt.Errorf("%w: invalid amount", ErrValidation)
