package shm

import (
	"context"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/suite"

	internalshm "github.com/srediag/ohlcv-shm/internal/shm"
)

type BufferTestSuite struct {
	suite.Suite
	dir string
	ctx context.Context
}

func (s *BufferTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.ctx = context.Background()
}

func (s *BufferTestSuite) TearDownTest() {
	s.Require().NoError(ReleaseAll())
}

func seq[T Numeric](n int) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = T(i + 1)
	}
	return out
}

func roundTrip[T Numeric](s *BufferTestSuite, arr Array[T], wantOrder Order) {
	owned, err := Create(s.ctx, arr, WithDir(s.dir))
	s.Require().NoError(err)

	desc := owned.Descriptor()
	shape := append([]int{}, arr.Shape...)
	s.Equal(DTypeOf[T](), desc.DType)
	s.Equal(shape, desc.Shape)
	s.Equal(wantOrder, desc.Order)

	st, err := os.Stat(filepath.Join(s.dir, desc.Segment))
	s.Require().NoError(err)
	s.Equal(int64(desc.ByteLen()), st.Size())

	view, err := owned.Read()
	s.Require().NoError(err)
	s.Equal(shape, view.Shape())
	s.Equal(wantOrder, view.Order())
	want := make([]T, 0, Size(arr.Shape))
	eachIndex(arr.Shape, func(idx []int) {
		want = append(want, arr.At(idx...))
		s.Equal(arr.At(idx...), view.At(idx...), "index %v", idx)
	})
	s.Equal(want, view.ToSlice())

	s.Require().NoError(owned.Release())
}

func eachIndex(shape []int, fn func(idx []int)) {
	if Size(shape) == 0 {
		return
	}
	idx := make([]int, len(shape))
	for {
		fn(idx)
		axis := len(idx) - 1
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < shape[axis] {
				break
			}
			idx[axis] = 0
			axis--
		}
		if axis < 0 {
			return
		}
	}
}

func (s *BufferTestSuite) TestRoundTripRowMajor() {
	roundTrip(s, NewArray([]float64{3.5}), RowMajor)
	roundTrip(s, NewArray(seq[float64](7), 7), RowMajor)
	roundTrip(s, NewArray(seq[float64](12), 3, 4), RowMajor)
	roundTrip(s, NewArray(seq[int32](24), 2, 3, 4), RowMajor)
	roundTrip(s, NewArray([]int32{-9}), RowMajor)
	roundTrip(s, NewArray(seq[uint8](5), 5), RowMajor)
}

func (s *BufferTestSuite) TestRoundTripColumnMajor() {
	f64 := NewArray(seq[float64](12), 3, 4).Transpose()
	order, err := f64.Layout()
	s.Require().NoError(err)
	s.Require().Equal(ColumnMajor, order)
	roundTrip(s, f64, ColumnMajor)

	roundTrip(s, NewArray(seq[int32](24), 2, 3, 4).Transpose(), ColumnMajor)
	roundTrip(s, NewArray(seq[int64](6), 1, 6).Transpose(), RowMajor)
}

func (s *BufferTestSuite) TestColumnMajorBytesAreStorageOrder() {
	arr := NewArray([]int64{1, 2, 3, 4, 5, 6}, 2, 3).Transpose()
	owned, err := Create(s.ctx, arr, WithDir(s.dir))
	s.Require().NoError(err)
	view, err := owned.Read()
	s.Require().NoError(err)
	s.Equal([]int64{1, 2, 3, 4, 5, 6}, view.Data())
	s.Equal([]int64{1, 4, 2, 5, 3, 6}, view.ToSlice())
	s.Equal([]int{1, 3}, view.Strides())
}

func (s *BufferTestSuite) TestZeroSizedArray() {
	owned, err := Create(s.ctx, NewArray([]float64{}, 0, 5), WithDir(s.dir))
	s.Require().NoError(err)
	s.Equal(0, owned.Descriptor().ByteLen())

	borrowed, err := Attach[float64](s.ctx, owned.Descriptor(), WithDir(s.dir))
	s.Require().NoError(err)
	view, err := borrowed.Read()
	s.Require().NoError(err)
	s.Equal(0, view.Len())
	s.Empty(view.ToSlice())
	s.Nil(view.Data())
	s.Require().NoError(borrowed.Close())
}

func (s *BufferTestSuite) TestAttachMatchesOwner() {
	arr := NewArray(seq[float64](10), 5, 2)
	owned, err := Create(s.ctx, arr, WithDir(s.dir), WithTag("values"))
	s.Require().NoError(err)
	s.Contains(owned.Name(), "-values")

	borrowed, err := Attach[float64](s.ctx, owned.Descriptor(), WithDir(s.dir))
	s.Require().NoError(err)
	s.Equal(owned.Descriptor(), borrowed.Descriptor())

	ov, err := owned.Read()
	s.Require().NoError(err)
	bv, err := borrowed.Read()
	s.Require().NoError(err)
	s.Equal(ov.ToSlice(), bv.ToSlice())
	s.Equal(ov.Bytes(), bv.Bytes())

	// repeated reads observe the same memory without copying
	again, err := borrowed.Read()
	s.Require().NoError(err)
	s.Same(&bv.Data()[0], &again.Data()[0])

	s.Require().NoError(borrowed.Close())
	s.Require().NoError(owned.Release())
}

func (s *BufferTestSuite) TestRejectsStridedInput() {
	strided := NewArray(seq[float64](12), 6, 2).Slice(0, 0, 6, 2)
	_, err := Create(s.ctx, strided, WithDir(s.dir))
	s.Require().Error(err)
	s.ErrorIs(err, ErrLayout)

	colSlice := NewArray(seq[int32](12), 3, 4).Slice(1, 0, 2, 1)
	_, err = Create(s.ctx, colSlice, WithDir(s.dir))
	s.ErrorIs(err, ErrLayout)

	_, err = Create(s.ctx, NewArray([]float64{1, 2}, 3), WithDir(s.dir))
	s.ErrorIs(err, ErrLayout)

	_, err = Create(s.ctx, Array[float64]{Data: seq[float64](4), Shape: []int{2, 2}, Strides: []int{1}}, WithDir(s.dir))
	s.ErrorIs(err, ErrLayout)

	s.Empty(LiveSegments())
	entries, err := os.ReadDir(s.dir)
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *BufferTestSuite) TestContiguousRowSliceIsAccepted() {
	rows := NewArray(seq[float64](12), 6, 2).Slice(0, 2, 5, 1)
	owned, err := Create(s.ctx, rows, WithDir(s.dir))
	s.Require().NoError(err)
	view, err := owned.Read()
	s.Require().NoError(err)
	s.Equal([]float64{5, 6, 7, 8, 9, 10}, view.ToSlice())
}

func (s *BufferTestSuite) TestViewIsReadOnly() {
	owned, err := Create(s.ctx, NewArray(seq[float64](4), 2, 2), WithDir(s.dir))
	s.Require().NoError(err)
	view, err := owned.Read()
	s.Require().NoError(err)

	err = view.Set(42, 0, 0)
	s.ErrorIs(err, ErrReadOnly)
	var segErr *SegmentError
	s.Require().ErrorAs(err, &segErr)
	s.Equal(owned.Name(), segErr.Segment)
	s.Equal(float64(1), view.At(0, 0))

	// the owner mapping is frozen after population
	s.Panics(func() {
		old := debug.SetPanicOnFault(true)
		defer debug.SetPanicOnFault(old)
		view.Data()[0] = 42
	})
	s.Equal(float64(1), view.At(0, 0))
}

func (s *BufferTestSuite) TestReleaseLifecycle() {
	owned, err := Create(s.ctx, NewArray(seq[int64](3), 3), WithDir(s.dir))
	s.Require().NoError(err)
	desc := owned.Descriptor()
	s.Contains(LiveSegments(), desc.Segment)

	s.Require().NoError(owned.Release())
	s.NotContains(LiveSegments(), desc.Segment)
	_, err = os.Stat(filepath.Join(s.dir, desc.Segment))
	s.True(os.IsNotExist(err))

	err = owned.Release()
	s.ErrorIs(err, ErrRelease)

	_, err = owned.Read()
	s.ErrorIs(err, ErrReleased)

	_, err = Attach[int64](s.ctx, desc, WithDir(s.dir))
	s.ErrorIs(err, ErrNotFound)
}

func (s *BufferTestSuite) TestReleaseOfRemovedSegment() {
	owned, err := Create(s.ctx, NewArray(seq[int64](3), 3), WithDir(s.dir))
	s.Require().NoError(err)
	s.Require().NoError(internalshm.Unlink(s.dir, owned.Name()))

	err = owned.Release()
	s.ErrorIs(err, ErrRelease)
}

func (s *BufferTestSuite) TestBorrowedOutlivesRelease() {
	owned, err := Create(s.ctx, NewArray([]int64{7, 8, 9}, 3), WithDir(s.dir))
	s.Require().NoError(err)
	borrowed, err := Attach[int64](s.ctx, owned.Descriptor(), WithDir(s.dir))
	s.Require().NoError(err)

	s.Require().NoError(owned.Release())
	view, err := borrowed.Read()
	s.Require().NoError(err)
	s.Equal([]int64{7, 8, 9}, view.ToSlice())

	s.Require().NoError(borrowed.Close())
	_, err = borrowed.Read()
	s.ErrorIs(err, ErrReleased)
	s.ErrorIs(borrowed.Close(), ErrReleased)
}

func (s *BufferTestSuite) TestAttachErrors() {
	owned, err := Create(s.ctx, NewArray(seq[float64](6), 2, 3), WithDir(s.dir))
	s.Require().NoError(err)
	desc := owned.Descriptor()

	_, err = Attach[int64](s.ctx, desc, WithDir(s.dir))
	s.ErrorIs(err, ErrDType)

	wrong := desc
	wrong.Shape = []int{3, 3}
	_, err = Attach[float64](s.ctx, wrong, WithDir(s.dir))
	s.ErrorIs(err, ErrSize)

	stale := desc
	stale.Segment = "ohlcv-1-deadbeef-values"
	_, err = Attach[float64](s.ctx, stale, WithDir(s.dir))
	s.ErrorIs(err, ErrNotFound)
	s.Contains(err.Error(), stale.Segment)

	escape := desc
	escape.Segment = "../etc/passwd"
	_, err = Attach[float64](s.ctx, escape, WithDir(s.dir))
	s.ErrorIs(err, ErrDescriptor)
}

func (s *BufferTestSuite) TestShapeOverflow() {
	_, err := Create(s.ctx, Array[float64]{Shape: []int{1 << 62, 4}}, WithDir(s.dir))
	s.ErrorIs(err, ErrLayout)
	_, err = Create(s.ctx, Array[int8]{Shape: []int{1 << 32, 1 << 32}}, WithDir(s.dir))
	s.ErrorIs(err, ErrLayout)
	s.Empty(LiveSegments())

	owned, err := Create(s.ctx, NewArray(seq[float64](6), 6), WithDir(s.dir))
	s.Require().NoError(err)
	desc := owned.Descriptor()
	// The product of these dimensions wraps to -1.
	desc.Shape = []int{3, 5, 17, 257, 641, 65537, 6700417}
	s.ErrorIs(desc.Validate(), ErrDescriptor)
	s.NotPanics(func() {
		_, err = Attach[float64](s.ctx, desc, WithDir(s.dir))
	})
	s.ErrorIs(err, ErrDescriptor)

	empty := owned.Descriptor()
	empty.Shape = []int{0, 1 << 62}
	s.NoError(empty.Validate())
	s.Require().NoError(owned.Release())
}

func (s *BufferTestSuite) TestReleaseAll() {
	for i := 0; i < 3; i++ {
		_, err := Create(s.ctx, NewArray(seq[int32](4), 4), WithDir(s.dir))
		s.Require().NoError(err)
	}
	s.Len(LiveSegments(), 3)
	s.Require().NoError(ReleaseAll())
	s.Empty(LiveSegments())
	entries, err := os.ReadDir(s.dir)
	s.Require().NoError(err)
	s.Empty(entries)
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.GetCounter().GetValue()
}

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	_ = g.Write(m)
	return m.GetGauge().GetValue()
}

func (s *BufferTestSuite) TestMetrics() {
	created := counterValue(segmentsCreated)
	released := counterValue(segmentsReleased)
	attached := counterValue(attachTotal.WithLabelValues("ok"))
	missing := counterValue(attachTotal.WithLabelValues("not_found"))
	bytes := gaugeValue(bytesLive)

	owned, err := Create(s.ctx, NewArray(seq[float64](8), 8), WithDir(s.dir))
	s.Require().NoError(err)
	s.Equal(bytes+64, gaugeValue(bytesLive))

	b, err := Attach[float64](s.ctx, owned.Descriptor(), WithDir(s.dir))
	s.Require().NoError(err)
	s.Require().NoError(b.Close())
	s.Require().NoError(owned.Release())
	_, err = Attach[float64](s.ctx, owned.Descriptor(), WithDir(s.dir))
	s.Require().Error(err)

	s.Equal(created+1, counterValue(segmentsCreated))
	s.Equal(released+1, counterValue(segmentsReleased))
	s.Equal(attached+1, counterValue(attachTotal.WithLabelValues("ok")))
	s.Equal(missing+1, counterValue(attachTotal.WithLabelValues("not_found")))
	s.Equal(bytes, gaugeValue(bytesLive))
}

func (s *BufferTestSuite) TestSweepStale() {
	dead := "ohlcv-2147483646-abc123-values"
	alive := SegmentName("ohlcv", "abc123", "index")
	parent := "ohlcv-" + strconv.Itoa(os.Getppid()) + "-abc123-range"
	foreign := "other-2147483646-abc123-values"
	for _, name := range []string{dead, alive, parent, foreign, "ohlcv-nopid"} {
		s.Require().NoError(os.WriteFile(filepath.Join(s.dir, name), nil, 0600))
	}

	removed, err := SweepStale(s.ctx, s.dir, "ohlcv")
	s.Require().NoError(err)
	s.Equal([]string{dead}, removed)
	for _, name := range []string{alive, parent, foreign, "ohlcv-nopid"} {
		_, err := os.Stat(filepath.Join(s.dir, name))
		s.NoError(err, name)
	}
}

func TestBufferTestSuite(t *testing.T) {
	suite.Run(t, new(BufferTestSuite))
}
