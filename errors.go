package syncedstore

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyUnavailable is returned when a decrypt is attempted while no
	// encryption key is active. It fails closed: no plaintext is ever
	// produced without a key.
	ErrKeyUnavailable = errors.New("syncedstore: no active encryption key")

	// ErrClosed is returned by suspending operations after Close.
	ErrClosed = errors.New("syncedstore: store is closed")
)

// InitializationError wraps a failure during Initialize that is not an
// authentication cancellation. The store stays in StateInitializing; callers
// should treat anything other than StateReady as not usable for durability.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("syncedstore: initialization failed: %v", e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// RotationError wraps a failure during a protection-mode change. Rotation
// failures are never swallowed: the caller must know whether protection
// actually changed. Step identifies how far the rotation got.
type RotationError struct {
	Step string
	Err  error
}

func (e *RotationError) Error() string {
	return fmt.Sprintf("syncedstore: key rotation failed at %s: %v", e.Step, e.Err)
}

func (e *RotationError) Unwrap() error { return e.Err }
