package models

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyPending is returned when a user submits a second concurrent request.
	ErrAlreadyPending = errors.New("match request already pending")
	// ErrInvalidState is returned when a transition is attempted from the wrong state.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrStorageTimeout is returned when the persistence boundary did not answer in time.
	ErrStorageTimeout = errors.New("storage timeout")
	// ErrNotFound is returned for unknown request or room ids.
	ErrNotFound = errors.New("not found")
	// ErrNotOwner is returned when a user acts on another user's request.
	ErrNotOwner = errors.New("request belongs to another user")
	// ErrNotMember is returned when a user acts on a room they are not part of.
	ErrNotMember = errors.New("user is not a member of the room")
)

// AlreadyPendingError carries the request that is already outstanding so the
// caller can return it instead of failing.
type AlreadyPendingError struct {
	Existing *MatchRequest
}

func (e *AlreadyPendingError) Error() string {
	if e.Existing == nil {
		return ErrAlreadyPending.Error()
	}
	return fmt.Sprintf("user %s already has pending request %s", e.Existing.UserID, e.Existing.ID)
}

func (e *AlreadyPendingError) Is(target error) bool { return target == ErrAlreadyPending }

// InvalidStateError describes a rejected transition.
type InvalidStateError struct {
	Entity  string
	ID      string
	Current string
	Want    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s, want %s", e.Entity, e.ID, e.Current, e.Want)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

// StorageTimeoutError wraps a deadline overrun at the storage boundary.
type StorageTimeoutError struct {
	Op  string
	Err error
}

func (e *StorageTimeoutError) Error() string {
	return fmt.Sprintf("storage %s timed out: %v", e.Op, e.Err)
}

func (e *StorageTimeoutError) Is(target error) bool { return target == ErrStorageTimeout }

func (e *StorageTimeoutError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient storage failure a client may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageTimeout)
}
