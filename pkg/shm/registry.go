package shm

import (
	"errors"
	"sort"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// liveSegment tracks a segment this process created and has not released.
type liveSegment struct {
	dir     string
	bytes   int
	created time.Time
	release func() error
}

var live = cmap.New[*liveSegment]()

func track(name string, s *liveSegment) {
	live.Set(name, s)
	bytesLive.Add(float64(s.bytes))
}

func untrack(name string) {
	if s, ok := live.Pop(name); ok {
		bytesLive.Sub(float64(s.bytes))
	}
}

// LiveSegments lists the segments created by this process that are still
// awaiting Release, sorted by name.
func LiveSegments() []string {
	names := live.Keys()
	sort.Strings(names)
	return names
}

// ReleaseAll releases every live segment owned by this process. It is meant
// for shutdown paths where the owning handles are out of reach.
func ReleaseAll() error {
	var errs []error
	for _, name := range LiveSegments() {
		s, ok := live.Get(name)
		if !ok {
			continue
		}
		internalLogger.infof("releasing segment %s created %s ago", name, time.Since(s.created).Round(time.Millisecond))
		if err := s.release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
