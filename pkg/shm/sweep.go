package shm

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/shirou/gopsutil/v3/process"

	internalshm "github.com/srediag/ohlcv-shm/internal/shm"
)

// SweepStale removes segments in dir whose names start with prefix and whose
// creating process no longer exists. Segments of the current process and
// names that do not carry a pid are left alone. It returns the removed names.
func SweepStale(ctx context.Context, dir, prefix string) ([]string, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	names, err := internalshm.ListSegments(dir, prefix+"-")
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	var removed []string
	var errs []error
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		pid, ok := SegmentOwnerPID(name)
		if !ok || pid == self {
			continue
		}
		alive, err := process.PidExistsWithContext(ctx, pid)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if alive {
			continue
		}
		if err := internalshm.Unlink(dir, name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		internalLogger.infof("swept stale segment %s of exited process %d", name, pid)
		removed = append(removed, name)
	}
	return removed, errors.Join(errs...)
}
