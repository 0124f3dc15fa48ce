package ohlcv_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/ohlcv-shm/pkg/ohlcv"
	"github.com/srediag/ohlcv-shm/pkg/shm"
)

const (
	helperEnv       = "OHLCV_SHM_HELPER"
	helperHandleEnv = "OHLCV_SHM_HANDLE"
	helperPrefix    = "helper-values="
)

type TableTestSuite struct {
	suite.Suite
	dir string
	ctx context.Context
}

func (s *TableTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.ctx = context.Background()
}

func (s *TableTestSuite) TearDownTest() {
	s.Require().NoError(shm.ReleaseAll())
}

func TestTableTestSuite(t *testing.T) {
	suite.Run(t, new(TableTestSuite))
}

type fixture struct {
	values        shm.Array[float64]
	rowIndex      shm.Array[int64]
	symbolPointer shm.Array[int64]
	symbolRange   shm.Array[int64]
	columns       []string
}

// sample is three symbols with 2, 3 and 1 bars.
func sample() fixture {
	return fixture{
		values: shm.NewArray([]float64{10, 11, 20, 21, 22, 30}, 6, 1),
		rowIndex: shm.NewArray([]int64{
			20240102, 600000,
			20240103, 600000,
			20240102, 600001,
			20240103, 600001,
			20240104, 600001,
			20240102, 600002,
		}, 6, 2),
		symbolPointer: shm.NewArray([]int64{0, 2, 5, 6}, 4),
		symbolRange:   shm.NewArray([]int64{0, 2, 2, 5, 5, 6}, 3, 2),
		columns:       []string{"close"},
	}
}

func (s *TableTestSuite) build(f fixture, opts ...ohlcv.Option) (*ohlcv.Table, error) {
	opts = append([]ohlcv.Option{ohlcv.WithDir(s.dir)}, opts...)
	return ohlcv.Build(s.ctx, f.values, f.rowIndex, f.symbolPointer, f.symbolRange, f.columns, opts...)
}

func (s *TableTestSuite) segmentFiles() []string {
	entries, err := os.ReadDir(s.dir)
	s.Require().NoError(err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func (s *TableTestSuite) TestEndToEnd() {
	table, err := s.build(sample())
	s.Require().NoError(err)
	defer func() { s.Require().NoError(table.Release()) }()

	h := table.Handle()
	h.Columns = nil
	reader, err := ohlcv.Attach(s.ctx, h)
	s.Require().NoError(err)
	defer func() { s.Require().NoError(reader.Close()) }()

	snap, err := reader.Read()
	s.Require().NoError(err)
	s.Equal([]int{6, 1}, snap.Values.Shape())
	s.Equal([]float64{10, 11, 20, 21, 22, 30}, snap.Values.ToSlice())
	s.Equal(6, snap.NumRows())
	s.Equal(3, snap.NumSymbols())

	lo, hi := snap.SymbolRange.At(1, 0), snap.SymbolRange.At(1, 1)
	rows, err := snap.Values.Rows(int(lo), int(hi))
	s.Require().NoError(err)
	s.Equal([]int{3, 1}, rows.Shape())
	s.Equal([]float64{20, 21, 22}, rows.ToSlice())

	s.Empty(reader.Columns())
	s.Equal([]string{"close"}, table.Columns())
}

func (s *TableTestSuite) TestColumnsSideChannel() {
	table, err := s.build(sample())
	s.Require().NoError(err)
	defer func() { s.Require().NoError(table.Release()) }()

	reader, err := ohlcv.Attach(s.ctx, table.Handle())
	s.Require().NoError(err)
	defer func() { s.Require().NoError(reader.Close()) }()
	s.Equal([]string{"close"}, reader.Columns())
}

func (s *TableTestSuite) TestIndexInvariants() {
	table, err := s.build(sample(), ohlcv.WithValidation())
	s.Require().NoError(err)
	defer func() { s.Require().NoError(table.Release()) }()

	snap, err := table.Read()
	s.Require().NoError(err)
	s.Equal([]int64{0, 2, 5, 6}, snap.SymbolPointer.ToSlice())
	for i := 0; i < snap.NumSymbols(); i++ {
		s.Equal(snap.SymbolPointer.At(i), snap.SymbolRange.At(i, 0), "symbol %d", i)
	}
	s.Equal([]int64{5, 6}, snap.SymbolRange.Row(2).ToSlice())
	s.NoError(ohlcv.Validate(snap))
}

func writeFaults[T shm.Numeric](data []T) (faulted bool) {
	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)
	defer func() { faulted = recover() != nil }()
	data[0] = 1
	return false
}

func (s *TableTestSuite) TestReadOnlyViews() {
	table, err := s.build(sample())
	s.Require().NoError(err)
	defer func() { s.Require().NoError(table.Release()) }()
	reader, err := ohlcv.Attach(s.ctx, table.Handle())
	s.Require().NoError(err)
	defer func() { s.Require().NoError(reader.Close()) }()

	for name, read := range map[string]func() (ohlcv.Snapshot, error){
		"owner":  table.Read,
		"reader": reader.Read,
	} {
		snap, err := read()
		s.Require().NoError(err, name)

		s.ErrorIs(snap.Values.Set(1, 0, 0), shm.ErrReadOnly, name)
		s.ErrorIs(snap.RowIndex.Set(1, 0, 0), shm.ErrReadOnly, name)
		s.ErrorIs(snap.SymbolPointer.Set(1, 0), shm.ErrReadOnly, name)
		s.ErrorIs(snap.SymbolRange.Set(1, 0, 0), shm.ErrReadOnly, name)

		s.True(writeFaults(snap.Values.Data()), name)
		s.True(writeFaults(snap.RowIndex.Data()), name)
		s.True(writeFaults(snap.SymbolPointer.Data()), name)
		s.True(writeFaults(snap.SymbolRange.Data()), name)
	}

	snap, err := reader.Read()
	s.Require().NoError(err)
	s.Equal([]float64{10, 11, 20, 21, 22, 30}, snap.Values.ToSlice())
}

func (s *TableTestSuite) TestReleaseRemovesFourSegments() {
	table, err := s.build(sample())
	s.Require().NoError(err)
	s.Len(s.segmentFiles(), 4)
	for _, name := range table.Handle().Segments() {
		s.Contains(shm.LiveSegments(), name)
	}

	s.Require().NoError(table.Release())
	s.Empty(s.segmentFiles())
	s.Empty(shm.LiveSegments())

	_, err = table.Read()
	s.ErrorIs(err, shm.ErrReleased)
	s.ErrorIs(table.Release(), shm.ErrRelease)
}

func (s *TableTestSuite) TestReleaseAttemptsEveryBuffer() {
	table, err := s.build(sample())
	s.Require().NoError(err)
	h := table.Handle()
	s.Require().NoError(os.Remove(filepath.Join(s.dir, h.Values.Segment)))

	err = table.Release()
	s.Require().Error(err)
	s.ErrorIs(err, shm.ErrRelease)
	var segErr *shm.SegmentError
	s.Require().True(errors.As(err, &segErr))
	s.Equal(h.Values.Segment, segErr.Segment)

	s.Empty(s.segmentFiles())
	s.Empty(shm.LiveSegments())
}

func (s *TableTestSuite) TestAttachAfterRelease() {
	table, err := s.build(sample())
	s.Require().NoError(err)
	h := table.Handle()
	s.Require().NoError(table.Release())

	_, err = ohlcv.Attach(s.ctx, h)
	s.ErrorIs(err, shm.ErrNotFound)
}

func (s *TableTestSuite) TestReaderOutlivesRelease() {
	table, err := s.build(sample())
	s.Require().NoError(err)
	reader, err := ohlcv.Attach(s.ctx, table.Handle())
	s.Require().NoError(err)
	s.Require().NoError(table.Release())

	snap, err := reader.Read()
	s.Require().NoError(err)
	s.Equal([]float64{10, 11, 20, 21, 22, 30}, snap.Values.ToSlice())
	s.Require().NoError(reader.Close())

	_, err = reader.Read()
	s.ErrorIs(err, shm.ErrReleased)
	s.ErrorIs(reader.Close(), shm.ErrReleased)
}

func (s *TableTestSuite) TestPartialAttachIsClosed() {
	table, err := s.build(sample())
	s.Require().NoError(err)
	defer func() { s.Require().NoError(table.Release()) }()

	h := table.Handle()
	h.SymbolRange.Segment = "ohlcv-1-000000000000-missing"
	_, err = ohlcv.Attach(s.ctx, h)
	s.ErrorIs(err, shm.ErrNotFound)

	h = table.Handle()
	h.RowIndex.DType = shm.Float64
	_, err = ohlcv.Attach(s.ctx, h)
	s.ErrorIs(err, shm.ErrDType)
}

func (s *TableTestSuite) TestValidationFailures() {
	cases := map[string]struct {
		mutate func(*fixture)
		check  string
		symbol int
	}{
		"pointer does not start at zero": {
			mutate: func(f *fixture) { f.symbolPointer = shm.NewArray([]int64{1, 2, 5, 6}, 4) },
			check:  "pointer",
			symbol: -1,
		},
		"pointer does not end at n": {
			mutate: func(f *fixture) { f.symbolPointer = shm.NewArray([]int64{0, 2, 5, 5}, 4) },
			check:  "pointer",
			symbol: -1,
		},
		"pointer decreases": {
			mutate: func(f *fixture) { f.symbolPointer = shm.NewArray([]int64{0, 5, 2, 6}, 4) },
			check:  "pointer",
			symbol: 1,
		},
		"range leaves its block": {
			mutate: func(f *fixture) { f.symbolRange = shm.NewArray([]int64{0, 2, 2, 6, 5, 6}, 3, 2) },
			check:  "range",
			symbol: 1,
		},
		"range is reversed": {
			mutate: func(f *fixture) { f.symbolRange = shm.NewArray([]int64{0, 2, 4, 3, 5, 6}, 3, 2) },
			check:  "range",
			symbol: 1,
		},
		"row index misaligned": {
			mutate: func(f *fixture) { f.rowIndex = shm.NewArray([]int64{1, 2, 3, 4}, 2, 2) },
			check:  "shape",
			symbol: -1,
		},
		"range count": {
			mutate: func(f *fixture) { f.symbolRange = shm.NewArray([]int64{0, 2, 2, 5}, 2, 2) },
			check:  "shape",
			symbol: -1,
		},
	}
	for name, tc := range cases {
		s.Run(name, func() {
			f := sample()
			tc.mutate(&f)
			_, err := s.build(f, ohlcv.WithValidation())
			s.Require().Error(err)
			s.ErrorIs(err, ohlcv.ErrInvariant)
			var ie *ohlcv.InvariantError
			s.Require().True(errors.As(err, &ie))
			s.Equal(tc.check, ie.Check)
			s.Equal(tc.symbol, ie.Symbol)
			s.Empty(s.segmentFiles())
		})
	}
}

func (s *TableTestSuite) TestBuildWithoutValidationTrustsCaller() {
	f := sample()
	f.symbolPointer = shm.NewArray([]int64{0, 5, 2, 6}, 4)
	table, err := s.build(f)
	s.Require().NoError(err)
	defer func() { s.Require().NoError(table.Release()) }()

	snap, err := table.Read()
	s.Require().NoError(err)
	s.ErrorIs(ohlcv.Validate(snap), ohlcv.ErrInvariant)

	_, err = ohlcv.Attach(s.ctx, table.Handle(), ohlcv.WithValidation())
	s.ErrorIs(err, ohlcv.ErrInvariant)
}

func (s *TableTestSuite) TestBuildRejectsStridedInput() {
	f := sample()
	f.rowIndex = shm.Array[int64]{
		Data:    f.rowIndex.Data,
		Shape:   []int{3, 2},
		Strides: []int{4, 1},
	}
	_, err := s.build(f)
	s.ErrorIs(err, shm.ErrLayout)
	s.Empty(s.segmentFiles())
	s.Empty(shm.LiveSegments())
}

func (s *TableTestSuite) TestSegmentNamesShareTableID() {
	table, err := s.build(sample(), ohlcv.WithPrefix("candles"))
	s.Require().NoError(err)
	defer func() { s.Require().NoError(table.Release()) }()

	h := table.Handle()
	s.Equal(s.dir, h.Dir)
	ids := map[string]bool{}
	for i, name := range h.Segments() {
		parts := strings.Split(name, "-")
		s.Require().Len(parts, 4, name)
		s.Equal("candles", parts[0])
		ids[parts[2]] = true
		tag := []string{ohlcv.TagValues, ohlcv.TagRowIndex, ohlcv.TagSymbolPointer, ohlcv.TagSymbolRange}[i]
		s.Equal(tag, parts[3])
		pid, ok := shm.SegmentOwnerPID(name)
		s.True(ok)
		s.EqualValues(os.Getpid(), pid)
	}
	s.Len(ids, 1)
}

func (s *TableTestSuite) TestAttachFromOtherProcess() {
	if testing.Short() {
		s.T().Skip("spawns a helper process")
	}
	table, err := s.build(sample())
	s.Require().NoError(err)
	defer func() { s.Require().NoError(table.Release()) }()

	data, err := ohlcv.EncodeHandle(table.Handle())
	s.Require().NoError(err)

	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperAttachProcess$")
	cmd.Env = append(os.Environ(), helperEnv+"=1", helperHandleEnv+"="+string(bytes.TrimSpace(data)))
	out, err := cmd.CombinedOutput()
	s.Require().NoError(err, string(out))

	var got []float64
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, helperPrefix) {
			s.Require().NoError(json.Unmarshal([]byte(strings.TrimPrefix(line, helperPrefix)), &got))
		}
	}
	s.Equal([]float64{10, 11, 20, 21, 22, 30}, got)
}

// TestHelperAttachProcess runs inside the child spawned by
// TestAttachFromOtherProcess.
func TestHelperAttachProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		t.Skip("helper process only")
	}
	h, err := ohlcv.DecodeHandle([]byte(os.Getenv(helperHandleEnv)))
	require.NoError(t, err)
	reader, err := ohlcv.Attach(context.Background(), h, ohlcv.WithValidation())
	require.NoError(t, err)
	defer func() { assert.NoError(t, reader.Close()) }()

	snap, err := reader.Read()
	require.NoError(t, err)
	out, err := json.Marshal(snap.Values.ToSlice())
	require.NoError(t, err)
	os.Stdout.WriteString(helperPrefix + string(out) + "\n")
}

func TestHandleEncoding(t *testing.T) {
	h := ohlcv.Handle{
		Dir:           "/dev/shm",
		Values:        shm.Descriptor{Segment: "ohlcv-1-abc-values", DType: shm.Float64, Shape: []int{6, 1}, Order: shm.RowMajor},
		RowIndex:      shm.Descriptor{Segment: "ohlcv-1-abc-index", DType: shm.Int64, Shape: []int{6, 2}, Order: shm.ColumnMajor},
		SymbolPointer: shm.Descriptor{Segment: "ohlcv-1-abc-indptr", DType: shm.Int64, Shape: []int{4}, Order: shm.RowMajor},
		SymbolRange:   shm.Descriptor{Segment: "ohlcv-1-abc-range", DType: shm.Int64, Shape: []int{3, 2}, Order: shm.RowMajor},
		Columns:       []string{"open", "close"},
	}
	data, err := ohlcv.EncodeHandle(h)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"dtype":"float64"`)
	assert.Contains(t, string(data), `"order":"F"`)

	got, err := ohlcv.DecodeHandle(data)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	path := filepath.Join(t.TempDir(), "handle.json")
	require.NoError(t, ohlcv.WriteHandleFile(path, h))
	got, err = ohlcv.ReadHandleFile(path)
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = ohlcv.ReadHandleFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestDecodeHandleRejectsBadInput(t *testing.T) {
	_, err := ohlcv.DecodeHandle([]byte("{"))
	assert.Error(t, err)

	_, err = ohlcv.DecodeHandle([]byte(`{"values":{"segment":"","dtype":"float64","shape":[1],"order":"C"}}`))
	assert.ErrorIs(t, err, shm.ErrDescriptor)

	_, err = ohlcv.DecodeHandle([]byte(`{"values":{"segment":"x","dtype":"complex128","shape":[1],"order":"C"}}`))
	assert.Error(t, err)
}
