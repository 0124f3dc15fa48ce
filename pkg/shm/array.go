package shm

import (
	"fmt"
	"math"
	"unsafe"
)

// Array is a caller-owned n-dimensional array. Strides are counted in
// elements; nil Strides means row-major contiguous starting at Offset.
type Array[T Numeric] struct {
	Data    []T
	Shape   []int
	Strides []int
	Offset  int
}

// NewArray wraps data as a row-major array of the given shape. No shape
// means a zero-dimensional array holding one element.
func NewArray[T Numeric](data []T, shape ...int) Array[T] {
	return Array[T]{Data: data, Shape: shape}
}

// FromRows copies equal-length rows into a row-major n×d array.
func FromRows[T Numeric](rows [][]T) (Array[T], error) {
	d := 0
	if len(rows) > 0 {
		d = len(rows[0])
	}
	data := make([]T, 0, len(rows)*d)
	for i, r := range rows {
		if len(r) != d {
			return Array[T]{}, fmt.Errorf("row %d has %d columns, want %d", i, len(r), d)
		}
		data = append(data, r...)
	}
	return NewArray(data, len(rows), d), nil
}

// Size is the number of elements described by shape.
func Size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// checkedSize is Size(shape) when shape has no negative dimension and
// Size(shape)*width fits in an int.
func checkedSize(shape []int, width int) (int, bool) {
	for _, d := range shape {
		if d < 0 {
			return 0, false
		}
		if d == 0 {
			return 0, true
		}
	}
	limit := math.MaxInt / max(width, 1)
	n := 1
	for _, d := range shape {
		if n > limit/d {
			return 0, false
		}
		n *= d
	}
	return n, true
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

func columnMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := range shape {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

func stridesFor(shape []int, order Order) []int {
	if order == ColumnMajor {
		return columnMajorStrides(shape)
	}
	return rowMajorStrides(shape)
}

// contiguousIn ignores strides of axes with length one, and an empty array is
// contiguous in any order.
func contiguousIn(shape, strides []int, order Order) bool {
	if Size(shape) == 0 {
		return true
	}
	want := stridesFor(shape, order)
	for i := range shape {
		if shape[i] > 1 && strides[i] != want[i] {
			return false
		}
	}
	return true
}

func (a Array[T]) strides() []int {
	if a.Strides == nil {
		return rowMajorStrides(a.Shape)
	}
	return a.Strides
}

// Layout returns the contiguous order of a, preferring RowMajor when both
// orders hold. It fails with ErrLayout for strided or truncated arrays.
func (a Array[T]) Layout() (Order, error) {
	for i, d := range a.Shape {
		if d < 0 {
			return RowMajor, fmt.Errorf("%w: negative dimension %d at axis %d", ErrLayout, d, i)
		}
	}
	var zero T
	if _, ok := checkedSize(a.Shape, int(unsafe.Sizeof(zero))); !ok {
		return RowMajor, fmt.Errorf("%w: shape %v overflows the addressable byte length", ErrLayout, a.Shape)
	}
	strides := a.strides()
	if len(strides) != len(a.Shape) {
		return RowMajor, fmt.Errorf("%w: %d strides for %d axes", ErrLayout, len(strides), len(a.Shape))
	}
	var order Order
	switch {
	case contiguousIn(a.Shape, strides, RowMajor):
		order = RowMajor
	case contiguousIn(a.Shape, strides, ColumnMajor):
		order = ColumnMajor
	default:
		return RowMajor, fmt.Errorf("%w: shape %v strides %v", ErrLayout, a.Shape, strides)
	}
	if n := Size(a.Shape); n > 0 && (a.Offset < 0 || a.Offset+n > len(a.Data)) {
		return RowMajor, fmt.Errorf("%w: %d elements at offset %d exceed data length %d", ErrLayout, n, a.Offset, len(a.Data))
	}
	return order, nil
}

// At returns the element at idx.
func (a Array[T]) At(idx ...int) T {
	return a.Data[a.Offset+flatIndex(a.Shape, a.strides(), idx)]
}

// Transpose reverses the axes without copying. The transpose of a row-major
// array is column-major.
func (a Array[T]) Transpose() Array[T] {
	strides := a.strides()
	n := len(a.Shape)
	t := Array[T]{Data: a.Data, Shape: make([]int, n), Strides: make([]int, n), Offset: a.Offset}
	for i := 0; i < n; i++ {
		t.Shape[i] = a.Shape[n-1-i]
		t.Strides[i] = strides[n-1-i]
	}
	return t
}

// Slice selects [lo, hi) with the given step along axis without copying.
func (a Array[T]) Slice(axis, lo, hi, step int) Array[T] {
	if step <= 0 {
		panic("shm: slice step must be positive")
	}
	if axis < 0 || axis >= len(a.Shape) || lo < 0 || hi > a.Shape[axis] || lo > hi {
		panic(fmt.Sprintf("shm: slice [%d:%d] out of range on axis %d of %v", lo, hi, axis, a.Shape))
	}
	strides := a.strides()
	s := Array[T]{
		Data:    a.Data,
		Shape:   append([]int(nil), a.Shape...),
		Strides: append([]int(nil), strides...),
		Offset:  a.Offset + lo*strides[axis],
	}
	s.Shape[axis] = (hi - lo + step - 1) / step
	s.Strides[axis] = strides[axis] * step
	return s
}

func flatIndex(shape, strides, idx []int) int {
	if len(idx) != len(shape) {
		panic(fmt.Sprintf("shm: %d indices for %d axes", len(idx), len(shape)))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= shape[i] {
			panic(fmt.Sprintf("shm: index %d out of range [0,%d) on axis %d", x, shape[i], i))
		}
		off += x * strides[i]
	}
	return off
}

func asBytes[T Numeric](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(zero)))
}

func fromBytes[T Numeric](b []byte, n int) []T {
	if n <= 0 || len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}
