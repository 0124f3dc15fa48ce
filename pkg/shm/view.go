package shm

import (
	"fmt"
)

// View is a read-only, zero-copy window over a segment's elements. The
// backing memory is mapped without write access, so the only way to obtain
// a mutable copy is ToSlice.
type View[T Numeric] struct {
	data    []T
	shape   []int
	strides []int
	offset  int
	order   Order
	segment string
}

func newView[T Numeric](data []T, shape []int, order Order, segment string) View[T] {
	return View[T]{
		data:    data,
		shape:   shape,
		strides: stridesFor(shape, order),
		order:   order,
		segment: segment,
	}
}

// Segment names the segment backing v.
func (v View[T]) Segment() string { return v.segment }

// Shape returns a copy of the view's dimensions.
func (v View[T]) Shape() []int { return append([]int{}, v.shape...) }

// Strides returns a copy of the view's strides, in elements.
func (v View[T]) Strides() []int { return append([]int(nil), v.strides...) }

// Order is the storage order of the segment backing v.
func (v View[T]) Order() Order { return v.order }

// DType is the element type of v.
func (v View[T]) DType() DType { return DTypeOf[T]() }

// NDim is the number of axes.
func (v View[T]) NDim() int { return len(v.shape) }

// Len is the number of elements in v.
func (v View[T]) Len() int { return Size(v.shape) }

// At returns the element at idx. It panics when idx is out of range, like
// slice indexing does.
func (v View[T]) At(idx ...int) T {
	return v.data[v.offset+flatIndex(v.shape, v.strides, idx)]
}

// Set always fails: views never permit writes.
func (v View[T]) Set(_ T, _ ...int) error {
	return &SegmentError{Op: "set", Segment: v.segment, Err: ErrReadOnly}
}

// Row returns the sub-view at index i of the first axis.
func (v View[T]) Row(i int) View[T] {
	if len(v.shape) == 0 {
		panic("shm: Row on a zero-dimensional view")
	}
	if i < 0 || i >= v.shape[0] {
		panic(fmt.Sprintf("shm: row %d out of range [0,%d)", i, v.shape[0]))
	}
	return View[T]{
		data:    v.data,
		shape:   v.shape[1:],
		strides: v.strides[1:],
		offset:  v.offset + i*v.strides[0],
		order:   v.order,
		segment: v.segment,
	}
}

// Rows returns rows [lo, hi) of the first axis without copying.
func (v View[T]) Rows(lo, hi int) (View[T], error) {
	if len(v.shape) == 0 {
		return View[T]{}, &SegmentError{Op: "rows", Segment: v.segment, Err: fmt.Errorf("%w: zero-dimensional view", ErrRange)}
	}
	if lo < 0 || hi > v.shape[0] || lo > hi {
		return View[T]{}, &SegmentError{Op: "rows", Segment: v.segment, Err: fmt.Errorf("%w: [%d,%d) of %d rows", ErrRange, lo, hi, v.shape[0])}
	}
	shape := append([]int(nil), v.shape...)
	shape[0] = hi - lo
	return View[T]{
		data:    v.data,
		shape:   shape,
		strides: v.strides,
		offset:  v.offset + lo*v.strides[0],
		order:   v.order,
		segment: v.segment,
	}, nil
}

// Contiguous reports whether v's elements occupy one unbroken run of memory.
func (v View[T]) Contiguous() bool {
	return contiguousIn(v.shape, v.strides, RowMajor) || contiguousIn(v.shape, v.strides, ColumnMajor)
}

// Data returns the backing elements of a contiguous view in storage order,
// or nil if v is not contiguous. The slice aliases read-only shared memory:
// writing to it faults.
func (v View[T]) Data() []T {
	n := v.Len()
	if n == 0 || !v.Contiguous() {
		return nil
	}
	return v.data[v.offset : v.offset+n : v.offset+n]
}

// ToSlice copies the elements into a new slice in row-major logical order.
func (v View[T]) ToSlice() []T {
	n := v.Len()
	out := make([]T, 0, n)
	if n == 0 {
		return out
	}
	idx := make([]int, len(v.shape))
	for {
		off := v.offset
		for i, x := range idx {
			off += x * v.strides[i]
		}
		out = append(out, v.data[off])
		axis := len(idx) - 1
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < v.shape[axis] {
				break
			}
			idx[axis] = 0
			axis--
		}
		if axis < 0 {
			return out
		}
	}
}

// Bytes returns the raw bytes of a contiguous view, or nil.
func (v View[T]) Bytes() []byte {
	return asBytes(v.Data())
}
