//go:build linux

package shm

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MapRegion maps or creates a shared memory region (Linux implementation).
//
// Create opens the segment exclusively so a name collision never aliases an
// existing segment. The file descriptor is closed once the mapping exists.
func MapRegion(ctx context.Context, opts MapOptions) (*MappedRegion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	shmPath := SegmentPath(opts.Dir, opts.Name)
	flags := unix.O_RDWR | unix.O_CLOEXEC
	if opts.ReadOnly && !opts.Create {
		flags = unix.O_RDONLY | unix.O_CLOEXEC
	}
	if opts.Create {
		flags |= unix.O_CREAT | unix.O_EXCL
	}
	fd, err := unix.Open(shmPath, flags, 0600)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: shmPath, Err: err}
	}
	defer func() {
		_ = unix.Close(fd)
	}()

	size := opts.Size
	if opts.Create {
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			_ = unix.Unlink(shmPath)
			return nil, fmt.Errorf("ftruncate %s: %w", shmPath, err)
		}
	} else {
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			return nil, fmt.Errorf("fstat %s: %w", shmPath, err)
		}
		if size >= 0 && int64(size) != st.Size {
			return nil, fmt.Errorf("%s: have %d bytes, want %d: %w", shmPath, st.Size, size, ErrSizeMismatch)
		}
		size = int(st.Size)
	}

	region := &MappedRegion{
		Name:     opts.Name,
		Path:     shmPath,
		Size:     size,
		ReadOnly: opts.ReadOnly && !opts.Create,
	}
	if size == 0 {
		return region, nil
	}
	prot := unix.PROT_READ | unix.PROT_WRITE
	if region.ReadOnly {
		prot = unix.PROT_READ
	}
	addr, err := unix.Mmap(fd, 0, size, prot, unix.MAP_SHARED)
	if err != nil {
		if opts.Create {
			_ = unix.Unlink(shmPath)
		}
		return nil, fmt.Errorf("mmap %s: %w", shmPath, err)
	}
	region.Addr = addr
	return region, nil
}

// Freeze drops write access to an existing mapping.
func Freeze(region *MappedRegion) error {
	if region == nil || region.ReadOnly {
		return nil
	}
	if len(region.Addr) > 0 {
		if err := unix.Mprotect(region.Addr, unix.PROT_READ); err != nil {
			return fmt.Errorf("mprotect %s: %w", region.Path, err)
		}
	}
	region.ReadOnly = true
	return nil
}

// UnmapRegion unmaps the shared memory region (Linux implementation). The
// backing segment is left in place.
func UnmapRegion(ctx context.Context, region *MappedRegion) error {
	if region == nil || region.Addr == nil {
		return nil
	}
	if err := unix.Munmap(region.Addr); err != nil {
		return fmt.Errorf("munmap %s: %w", region.Path, err)
	}
	region.Addr = nil
	return nil
}

// Unlink removes the named segment. Existing mappings stay valid until unmapped.
func Unlink(dir, name string) error {
	shmPath := SegmentPath(dir, name)
	if err := unix.Unlink(shmPath); err != nil {
		return &os.PathError{Op: "unlink", Path: shmPath, Err: err}
	}
	return nil
}
