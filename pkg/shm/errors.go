package shm

import (
	"errors"
)

var (
	// ErrLayout is returned when an array is neither row-major nor column-major contiguous.
	ErrLayout = errors.New("array is not contiguous in row-major or column-major order")
	// ErrNotFound is returned when a descriptor names a stale or unknown segment.
	ErrNotFound = errors.New("shared memory segment not found")
	// ErrReadOnly is returned on any attempt to write through a View.
	ErrReadOnly = errors.New("view is read-only")
	// ErrRelease is returned when releasing a segment that was already released or is not owned.
	ErrRelease = errors.New("segment already released or not owned")
	// ErrReleased is returned by Read on a handle that was released or closed.
	ErrReleased = errors.New("handle was released")
	// ErrDType is returned when a descriptor's dtype does not match the requested element type.
	ErrDType = errors.New("dtype mismatch")
	// ErrSize is returned when a segment's byte length disagrees with its shape and dtype.
	ErrSize = errors.New("segment byte length does not match shape")
	// ErrNoSpace is returned when the shared memory filesystem cannot hold a new segment.
	ErrNoSpace = errors.New("not enough space left in the shared memory filesystem")
	// ErrDescriptor is returned for malformed descriptors.
	ErrDescriptor = errors.New("invalid descriptor")
	// ErrRange is returned for out-of-range row selections on a View.
	ErrRange = errors.New("index out of range")
)

// SegmentError records a failed operation on a named segment.
type SegmentError struct {
	Op      string
	Segment string
	Err     error
}

func (e *SegmentError) Error() string {
	if e.Segment == "" {
		return "shm " + e.Op + ": " + e.Err.Error()
	}
	return "shm " + e.Op + " " + e.Segment + ": " + e.Err.Error()
}

func (e *SegmentError) Unwrap() error { return e.Err }
