package videoshm

import "errors"

var (
	// ErrUnavailable indicates the segment or doorbell could not be
	// created or opened (permissions, no space, or producer not running).
	ErrUnavailable = errors.New("videoshm: resource unavailable")

	// ErrProtocolMismatch indicates an attached segment carries an
	// unexpected magic or layout version. Never silently tolerated.
	ErrProtocolMismatch = errors.New("videoshm: segment magic/version mismatch")

	// ErrFrameTooLarge indicates a payload exceeds the slot capacity.
	// Recoverable: the write is counted as dropped and the ring is unchanged.
	ErrFrameTooLarge = errors.New("videoshm: frame exceeds slot capacity")

	// ErrShortBuffer indicates the caller's buffer is smaller than the
	// frame waiting to be read.
	ErrShortBuffer = errors.New("videoshm: destination buffer too small")

	// ErrNotInitialized indicates use of a closed or zero handle.
	ErrNotInitialized = errors.New("videoshm: handle not initialized")
)
