// Package shm provides typed, zero-copy numeric buffers in named OS shared memory.
//
// This package is instrumented with Prometheus and OpenTelemetry metrics and tracing (OTel Go SDK v1.30.0).
//
// Platform-specific helpers are in internal/shm.
package shm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync/atomic"
	"time"

	internalshm "github.com/srediag/ohlcv-shm/internal/shm"
)

const (
	stateLive int32 = iota
	stateClosed
)

// segment is the state shared by owning and borrowed handles.
type segment[T Numeric] struct {
	region *internalshm.MappedRegion
	desc   Descriptor
	dir    string
	data   []T
	state  atomic.Int32
	tel    *telemetry
}

// Descriptor returns the handoff descriptor for this segment.
func (s *segment[T]) Descriptor() Descriptor { return s.desc.clone() }

// Name is the segment identifier.
func (s *segment[T]) Name() string { return s.desc.Segment }

// Dir is the directory holding the segment.
func (s *segment[T]) Dir() string { return s.dir }

// Read returns a read-only view over the segment. Views are not cached:
// every call observes the bytes currently in the segment.
func (s *segment[T]) Read() (View[T], error) {
	if s.state.Load() != stateLive {
		return View[T]{}, &SegmentError{Op: "read", Segment: s.desc.Segment, Err: ErrReleased}
	}
	return newView(s.data, s.desc.Shape, s.desc.Order, s.desc.Segment), nil
}

func (s *segment[T]) unmap() error {
	return internalshm.UnmapRegion(context.Background(), s.region)
}

// Owned is the handle of the process that created a segment. Only an Owned
// handle can release the segment.
type Owned[T Numeric] struct {
	segment[T]
}

// Borrowed is a read-only attachment to a segment created elsewhere. It can
// detach its own mapping but never release the segment.
type Borrowed[T Numeric] struct {
	segment[T]
}

// Create copies arr into a freshly allocated segment and returns the owning
// handle. arr must be contiguous in row-major or column-major order; the
// byte length of the segment is exactly Size(arr.Shape) times the element
// width. After the copy the mapping is made read-only.
func Create[T Numeric](ctx context.Context, arr Array[T], opts ...Option) (*Owned[T], error) {
	o := applyOptions(opts)
	name := o.name
	if name == "" {
		name = SegmentName(o.prefix, NewTableID(), o.tag)
	}
	tel := newTelemetry(o)
	ctx, span := tel.start(ctx, "create", name)

	owned, err := create(ctx, arr, o.dir, name, tel)
	tel.done(ctx, span, "create", err)
	if err != nil {
		return nil, err
	}
	return owned, nil
}

func create[T Numeric](ctx context.Context, arr Array[T], dir, name string, tel *telemetry) (*Owned[T], error) {
	order, err := arr.Layout()
	if err != nil {
		return nil, &SegmentError{Op: "create", Segment: name, Err: err}
	}
	dtype := DTypeOf[T]()
	n := Size(arr.Shape)
	byteLen := n * dtype.Width()
	if !internalshm.CanCreate(dir, uint64(byteLen)) {
		return nil, &SegmentError{Op: "create", Segment: name, Err: fmt.Errorf("%w: need %d bytes in %s", ErrNoSpace, byteLen, dir)}
	}
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{
		Dir:    dir,
		Name:   name,
		Size:   byteLen,
		Create: true,
	})
	if err != nil {
		return nil, &SegmentError{Op: "create", Segment: name, Err: err}
	}
	if n > 0 {
		copy(region.Addr, asBytes(arr.Data[arr.Offset:arr.Offset+n]))
	}
	if err := internalshm.Freeze(region); err != nil {
		_ = internalshm.UnmapRegion(ctx, region)
		_ = internalshm.Unlink(dir, name)
		return nil, &SegmentError{Op: "create", Segment: name, Err: err}
	}

	o := &Owned[T]{}
	o.region = region
	o.dir = dir
	o.tel = tel
	o.desc = Descriptor{
		Segment: name,
		DType:   dtype,
		Shape:   append([]int{}, arr.Shape...),
		Order:   order,
	}
	o.data = fromBytes[T](region.Addr, n)

	track(name, &liveSegment{dir: dir, bytes: byteLen, created: time.Now(), release: o.Release})
	segmentsCreated.Inc()
	tel.bytes.Add(ctx, int64(byteLen))
	internalLogger.debugf("created segment %s dtype=%s shape=%v order=%s bytes=%d", name, dtype, arr.Shape, order, byteLen)
	return o, nil
}

// Release unmaps the segment and removes it from the system. It must be
// called exactly once, by the owner. Readers that are still attached keep
// their mappings until they close them, but new attaches fail with
// ErrNotFound. Views obtained from this handle must not be used afterwards.
func (b *Owned[T]) Release() error {
	name := b.desc.Segment
	if !b.state.CompareAndSwap(stateLive, stateClosed) {
		return &SegmentError{Op: "release", Segment: name, Err: ErrRelease}
	}
	ctx, span := b.tel.start(context.Background(), "release", name)
	untrack(name)

	var errs []error
	if err := b.unmap(); err != nil {
		errs = append(errs, err)
	}
	if err := internalshm.Unlink(b.dir, name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: %v", ErrRelease, err)
		}
		errs = append(errs, err)
	}
	var err error
	if len(errs) > 0 {
		err = &SegmentError{Op: "release", Segment: name, Err: errors.Join(errs...)}
		internalLogger.warnf("release segment %s: %v", name, err)
	} else {
		segmentsReleased.Inc()
		internalLogger.debugf("released segment %s", name)
	}
	b.tel.done(ctx, span, "release", err)
	return err
}

// Attach maps an existing segment read-only using a descriptor produced by
// Create in this or another process. Nothing is copied or allocated.
func Attach[T Numeric](ctx context.Context, desc Descriptor, opts ...Option) (*Borrowed[T], error) {
	o := applyOptions(opts)
	tel := newTelemetry(o)
	ctx, span := tel.start(ctx, "attach", desc.Segment)

	b, err := attach[T](ctx, desc, o.dir, tel)
	tel.done(ctx, span, "attach", err)
	switch {
	case err == nil:
		attachTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrNotFound):
		attachTotal.WithLabelValues("not_found").Inc()
	default:
		attachTotal.WithLabelValues("error").Inc()
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func attach[T Numeric](ctx context.Context, desc Descriptor, dir string, tel *telemetry) (*Borrowed[T], error) {
	if err := desc.Validate(); err != nil {
		return nil, &SegmentError{Op: "attach", Segment: desc.Segment, Err: err}
	}
	if want := DTypeOf[T](); desc.DType != want {
		return nil, &SegmentError{Op: "attach", Segment: desc.Segment, Err: fmt.Errorf("%w: segment holds %s, want %s", ErrDType, desc.DType, want)}
	}
	byteLen := desc.ByteLen()
	if byteLen < 0 {
		return nil, &SegmentError{Op: "attach", Segment: desc.Segment, Err: fmt.Errorf("%w: byte length %d", ErrDescriptor, byteLen)}
	}
	region, err := internalshm.MapRegion(ctx, internalshm.MapOptions{
		Dir:      dir,
		Name:     desc.Segment,
		Size:     byteLen,
		ReadOnly: true,
	})
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, &SegmentError{Op: "attach", Segment: desc.Segment, Err: fmt.Errorf("%w: %v", ErrNotFound, err)}
	case errors.Is(err, internalshm.ErrSizeMismatch):
		return nil, &SegmentError{Op: "attach", Segment: desc.Segment, Err: fmt.Errorf("%w: %v", ErrSize, err)}
	case err != nil:
		return nil, &SegmentError{Op: "attach", Segment: desc.Segment, Err: err}
	}

	b := &Borrowed[T]{}
	b.region = region
	b.dir = dir
	b.tel = tel
	b.desc = desc.clone()
	b.data = fromBytes[T](region.Addr, byteLen/desc.DType.Width())
	internalLogger.debugf("attached segment %s dtype=%s shape=%v order=%s", desc.Segment, desc.DType, desc.Shape, desc.Order)
	return b, nil
}

// Close unmaps this attachment. The segment itself is left for its owner to
// release. Closing twice returns ErrReleased.
func (b *Borrowed[T]) Close() error {
	if !b.state.CompareAndSwap(stateLive, stateClosed) {
		return &SegmentError{Op: "close", Segment: b.desc.Segment, Err: ErrReleased}
	}
	if err := b.unmap(); err != nil {
		return &SegmentError{Op: "close", Segment: b.desc.Segment, Err: err}
	}
	return nil
}
