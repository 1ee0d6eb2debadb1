package vsl

import "errors"

var (
	// ErrInvalidFormat indicates a format code that is not exactly 4 ASCII
	// characters.
	ErrInvalidFormat = errors.New("vsl: format must be a 4-character ascii code")

	// ErrAllocationFailed indicates backing memory could not be obtained.
	// The underlying system error is attached via wrapping.
	ErrAllocationFailed = errors.New("vsl: backing allocation failed")

	// ErrInvalidDescriptor indicates Attach was called with a bad
	// descriptor, size, or offset.
	ErrInvalidDescriptor = errors.New("vsl: invalid backing descriptor")

	// ErrAlreadyAllocated indicates Alloc or Attach was called on a frame
	// that already has backing memory.
	ErrAlreadyAllocated = errors.New("vsl: frame already has backing memory")

	// ErrAlreadyLocked indicates the frame lock is held by another owner.
	ErrAlreadyLocked = errors.New("vsl: frame is already locked")

	// ErrNotLocked indicates Unlock was called without holding the lock.
	ErrNotLocked = errors.New("vsl: frame is not locked")

	// ErrNotLockable indicates a lock or map was attempted on a frame with
	// no resolvable backing descriptor.
	ErrNotLockable = errors.New("vsl: frame has no backing descriptor")

	// ErrTimeout indicates no notification arrived within the caller's
	// deadline. Routine and retryable.
	ErrTimeout = errors.New("vsl: timed out waiting for frame")

	// ErrConnectionFailed indicates the client could not reach the host's
	// socket.
	ErrConnectionFailed = errors.New("vsl: connection to host failed")

	// ErrConnectionClosed indicates the host's channel terminated.
	ErrConnectionClosed = errors.New("vsl: host connection closed")

	// ErrStaleReference indicates the frame's slot was force-reclaimed
	// before use. Routine and retryable.
	ErrStaleReference = errors.New("vsl: frame slot was reclaimed")

	// ErrPoolExhausted indicates every slot in the host's pool is busy and
	// unexpired.
	ErrPoolExhausted = errors.New("vsl: no free buffer slots")

	// ErrHostClosed indicates an operation on a closed host.
	ErrHostClosed = errors.New("vsl: host is closed")
)
