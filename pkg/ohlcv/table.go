// Package ohlcv stores a symbol-indexed candle table in four shared memory
// segments so that other processes can read it without copying.
//
// A producer calls Build once with fully materialized arrays, publishes the
// table's Handle to readers out of band and finally calls Release. Readers
// call Attach with that Handle, Read the four views and Close when done.
package ohlcv

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/srediag/ohlcv-shm/pkg/shm"
)

// Segment name tags of the four buffers of a table.
const (
	TagValues        = "values"
	TagRowIndex      = "index"
	TagSymbolPointer = "indptr"
	TagSymbolRange   = "range"
)

var logger = shm.NewLogger("ohlcv", os.Stdout)

// Snapshot holds the four read-only views of a table.
type Snapshot struct {
	// Values is the n×d matrix of bar values, one row per bar.
	Values shm.View[float64]
	// RowIndex is the n×2 matrix of (time, symbol code) keys, aligned with Values.
	RowIndex shm.View[int64]
	// SymbolPointer has numSymbols+1 entries; symbol i owns rows
	// [SymbolPointer[i], SymbolPointer[i+1]).
	SymbolPointer shm.View[int64]
	// SymbolRange is numSymbols×2: the currently valid rows of each symbol.
	SymbolRange shm.View[int64]
}

// NumRows is the number of bars in the table.
func (s Snapshot) NumRows() int {
	if s.Values.NDim() == 0 {
		return 0
	}
	return s.Values.Shape()[0]
}

// NumSymbols is the number of symbols indexed by the table.
func (s Snapshot) NumSymbols() int {
	if s.SymbolPointer.NDim() == 0 || s.SymbolPointer.Len() == 0 {
		return 0
	}
	return s.SymbolPointer.Len() - 1
}

// Table is the producer side of a shared table. It owns its segments.
type Table struct {
	values        *shm.Owned[float64]
	rowIndex      *shm.Owned[int64]
	symbolPointer *shm.Owned[int64]
	symbolRange   *shm.Owned[int64]
	columns       []string
}

// Build copies values, rowIndex, symbolPointer and symbolRange into four new
// segments that share one table id. columns stay in this process.
//
// Build does not check the symbol index unless WithValidation is given. If
// any step fails the segments created so far are released.
func Build(ctx context.Context, values shm.Array[float64], rowIndex, symbolPointer, symbolRange shm.Array[int64], columns []string, opts ...Option) (*Table, error) {
	o := applyOptions(opts)
	id := shm.NewTableID()
	name := func(tag string) shm.Option {
		return shm.WithName(shm.SegmentName(o.prefix, id, tag))
	}

	t := &Table{columns: append([]string(nil), columns...)}
	var err error
	if t.values, err = shm.Create(ctx, values, o.segmentOptions(name(TagValues))...); err != nil {
		return nil, err
	}
	if t.rowIndex, err = shm.Create(ctx, rowIndex, o.segmentOptions(name(TagRowIndex))...); err != nil {
		return nil, t.abort(err)
	}
	if t.symbolPointer, err = shm.Create(ctx, symbolPointer, o.segmentOptions(name(TagSymbolPointer))...); err != nil {
		return nil, t.abort(err)
	}
	if t.symbolRange, err = shm.Create(ctx, symbolRange, o.segmentOptions(name(TagSymbolRange))...); err != nil {
		return nil, t.abort(err)
	}

	if o.validate {
		snap, err := t.Read()
		if err != nil {
			return nil, t.abort(err)
		}
		if err := Validate(snap); err != nil {
			return nil, t.abort(err)
		}
	}
	logger.Debugf("built table %s: %d rows, %d columns, %d symbols", id, rowsOf(values.Shape), len(columns), rowsOf(symbolRange.Shape))
	return t, nil
}

func rowsOf(shape []int) int {
	if len(shape) == 0 {
		return 0
	}
	return shape[0]
}

// abort releases whatever Build created before cause and returns cause,
// joined with any release failure.
func (t *Table) abort(cause error) error {
	if err := t.releaseCreated(); err != nil {
		logger.Warnf("release partially built table: %v", err)
		return errors.Join(cause, err)
	}
	return cause
}

func (t *Table) releaseCreated() error {
	var errs []error
	if t.values != nil {
		errs = append(errs, t.values.Release())
	}
	if t.rowIndex != nil {
		errs = append(errs, t.rowIndex.Release())
	}
	if t.symbolPointer != nil {
		errs = append(errs, t.symbolPointer.Release())
	}
	if t.symbolRange != nil {
		errs = append(errs, t.symbolRange.Release())
	}
	return errors.Join(errs...)
}

// Read returns the four views of the table.
func (t *Table) Read() (Snapshot, error) {
	return readAll(t.values, t.rowIndex, t.symbolPointer, t.symbolRange)
}

// Release releases all four segments. It attempts every segment even when
// one fails and returns the joined failures.
func (t *Table) Release() error {
	if err := t.releaseCreated(); err != nil {
		return fmt.Errorf("release table: %w", err)
	}
	return nil
}

// Columns returns the column names given to Build. They are not stored in
// shared memory.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

// Handle returns the descriptors readers need to Attach, with the column
// names filled in as an optional side channel.
func (t *Table) Handle() Handle {
	return Handle{
		Dir:           t.values.Dir(),
		Values:        t.values.Descriptor(),
		RowIndex:      t.rowIndex.Descriptor(),
		SymbolPointer: t.symbolPointer.Descriptor(),
		SymbolRange:   t.symbolRange.Descriptor(),
		Columns:       t.Columns(),
	}
}

// Reader is an attachment to a table built by another handle or process.
// It cannot release the table.
type Reader struct {
	values        *shm.Borrowed[float64]
	rowIndex      *shm.Borrowed[int64]
	symbolPointer *shm.Borrowed[int64]
	symbolRange   *shm.Borrowed[int64]
	columns       []string
}

// Attach maps the four segments named by h read-only. If one of them cannot
// be attached the others are closed again.
func Attach(ctx context.Context, h Handle, opts ...Option) (*Reader, error) {
	o := applyOptions(opts)
	if o.dir == "" {
		o.dir = h.Dir
	}
	segOpts := o.segmentOptions()

	r := &Reader{columns: append([]string(nil), h.Columns...)}
	var err error
	if r.values, err = shm.Attach[float64](ctx, h.Values, segOpts...); err != nil {
		return nil, err
	}
	if r.rowIndex, err = shm.Attach[int64](ctx, h.RowIndex, segOpts...); err != nil {
		return nil, errors.Join(err, r.Close())
	}
	if r.symbolPointer, err = shm.Attach[int64](ctx, h.SymbolPointer, segOpts...); err != nil {
		return nil, errors.Join(err, r.Close())
	}
	if r.symbolRange, err = shm.Attach[int64](ctx, h.SymbolRange, segOpts...); err != nil {
		return nil, errors.Join(err, r.Close())
	}
	if o.validate {
		snap, err := r.Read()
		if err == nil {
			err = Validate(snap)
		}
		if err != nil {
			return nil, errors.Join(err, r.Close())
		}
	}
	return r, nil
}

// Read returns the four views of the table.
func (r *Reader) Read() (Snapshot, error) {
	return readAll(r.values, r.rowIndex, r.symbolPointer, r.symbolRange)
}

// Columns returns the column names carried by the handle, if any.
func (r *Reader) Columns() []string {
	return append([]string(nil), r.columns...)
}

// Close detaches every mapping this reader holds.
func (r *Reader) Close() error {
	var errs []error
	if r.values != nil {
		errs = append(errs, r.values.Close())
	}
	if r.rowIndex != nil {
		errs = append(errs, r.rowIndex.Close())
	}
	if r.symbolPointer != nil {
		errs = append(errs, r.symbolPointer.Close())
	}
	if r.symbolRange != nil {
		errs = append(errs, r.symbolRange.Close())
	}
	return errors.Join(errs...)
}

type reader[T shm.Numeric] interface {
	Read() (shm.View[T], error)
}

func readAll(values reader[float64], rowIndex, symbolPointer, symbolRange reader[int64]) (Snapshot, error) {
	var (
		s   Snapshot
		err error
	)
	if s.Values, err = values.Read(); err != nil {
		return Snapshot{}, err
	}
	if s.RowIndex, err = rowIndex.Read(); err != nil {
		return Snapshot{}, err
	}
	if s.SymbolPointer, err = symbolPointer.Read(); err != nil {
		return Snapshot{}, err
	}
	if s.SymbolRange, err = symbolRange.Read(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
