package shm

import (
	"errors"
	"fmt"
)

var (
	// ErrSegmentUnavailable is returned when the named segment cannot be
	// created, opened or used for a new transfer.
	ErrSegmentUnavailable = errors.New("shared memory segment unavailable")

	// ErrSegmentBusy means a producer and a consumer are already attached.
	ErrSegmentBusy = fmt.Errorf("%w: producer and consumer already attached", ErrSegmentUnavailable)

	// ErrStaleSegment means the producer that built the segment is gone
	// without having finished its stream.
	ErrStaleSegment = fmt.Errorf("%w: stale segment left by a dead producer", ErrSegmentUnavailable)

	// ErrRoleTaken is returned by an attach that lost the role race; the
	// caller should probe again.
	ErrRoleTaken = errors.New("role already taken")

	// ErrPeerTimeout is returned when a protocol wait outlives the
	// configured peer timeout.
	ErrPeerTimeout = errors.New("peer did not respond in time")

	// ErrTeardown wraps failures to delete the segment after a transfer.
	ErrTeardown = errors.New("segment teardown failed")

	// ErrInvalidLayout is returned for slot/chunk parameters that do not fit.
	ErrInvalidLayout = errors.New("invalid segment layout")

	// ErrUnsupported is returned on platforms without process-shared futexes.
	ErrUnsupported = errors.New("shared memory transport not supported on this platform")
)

// errFutexTimeout is the internal signal for an expired futex wait.
var errFutexTimeout = errors.New("futex timeout")
