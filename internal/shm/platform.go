// Package shm contains platform-specific helpers for named shared memory segments.
package shm

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// DefaultDir is where segments live when no directory is configured.
const DefaultDir = "/dev/shm"

var (
	// ErrSizeMismatch is returned when an existing segment does not have the requested size.
	ErrSizeMismatch = errors.New("segment size mismatch")
	// ErrUnsupported is returned on platforms without a shared memory implementation.
	ErrUnsupported = errors.New("shared memory segments are not supported on this platform")
)

// MappedRegion represents a memory-mapped shared region.
type MappedRegion struct {
	Addr []byte
	Name string
	Path string
	// Size is the segment length on disk. Addr is nil when Size is zero.
	Size int
	// ReadOnly reports whether Addr is currently mapped without write access.
	ReadOnly bool
}

// MapOptions defines options for mapping shared memory.
type MapOptions struct {
	Dir  string
	Name string
	// Size is the exact segment length. On open, a negative Size skips the length check.
	Size     int
	Create   bool
	ReadOnly bool
}

// SegmentPath joins dir and name, falling back to DefaultDir.
func SegmentPath(dir, name string) string {
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, name)
}

// CanCreate reports whether size bytes fit in the tmpfs backing dir. Only
// directories below /dev/shm are checked, anything else always fits.
func CanCreate(dir string, size uint64) bool {
	if dir == "" {
		dir = DefaultDir
	}
	if !strings.HasPrefix(filepath.Clean(dir), DefaultDir) {
		return true
	}
	stat, err := disk.Usage(DefaultDir)
	if err != nil {
		return true
	}
	return stat.Free >= size
}

// ListSegments returns the names of regular files in dir that start with prefix.
func ListSegments(dir, prefix string) ([]string, error) {
	if dir == "" {
		dir = DefaultDir
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Function implementations are provided in platform-specific files (e.g., platform_linux.go, platform_other.go).
