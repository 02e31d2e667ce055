package reconcile

import (
	"errors"
	"fmt"
)

var (
	// ErrPassInFlight is returned when another pass holds the engine.
	ErrPassInFlight = errors.New("reconcile: pass already in flight")
	ErrNoRows       = errors.New("no ledger rows in range")
	ErrInvalidInput = errors.New("reconcile: invalid input")
)

// FetchError means the pass could not read the source. Nothing was
// mutated and no messages were sent.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StorageError is a snapshot load or save failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("snapshot %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
