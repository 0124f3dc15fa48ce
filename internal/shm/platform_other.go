//go:build !linux

package shm

import (
	"context"
)

// MapRegion maps or creates a shared memory region.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	// TODO: implement using CreateFileMapping, MapViewOfFile on windows
	return nil, ErrUnsupported
}

// Freeze drops write access to an existing mapping.
func Freeze(region *MappedRegion) error {
	return ErrUnsupported
}

// UnmapRegion unmaps the shared memory region.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	return ErrUnsupported
}

// Unlink removes the named segment.
func Unlink(dir, name string) error {
	return ErrUnsupported
}
