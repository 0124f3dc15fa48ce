package candle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/srediag/ohlcv-shm/pkg/ohlcv"
	"github.com/srediag/ohlcv-shm/pkg/shm"
)

// ErrUnknownSymbol is returned for symbol ordinals outside the table.
var ErrUnknownSymbol = errors.New("unknown symbol")

// SymbolRows returns the active rows of symbol i without copying.
func SymbolRows(s ohlcv.Snapshot, i int) (shm.View[float64], error) {
	if i < 0 || i >= s.NumSymbols() {
		return shm.View[float64]{}, fmt.Errorf("%w: ordinal %d of %d", ErrUnknownSymbol, i, s.NumSymbols())
	}
	return s.Values.Rows(int(s.SymbolRange.At(i, 0)), int(s.SymbolRange.At(i, 1)))
}

// FindSymbol returns the ordinal of the symbol with the given code by binary
// search over the first row of each block. Blocks must be ordered by symbol
// code, as Frame.Arrays produces them. Empty blocks never match.
func FindSymbol(s ohlcv.Snapshot, code int64) (int, bool) {
	k := s.NumSymbols()
	i := sort.Search(k, func(i int) bool {
		for ; i < k; i++ {
			if first, ok := firstCode(s, i); ok {
				return first >= code
			}
		}
		return true
	})
	for ; i < k; i++ {
		if first, ok := firstCode(s, i); ok {
			if first == code {
				return i, true
			}
			break
		}
	}
	return -1, false
}

// firstCode is the symbol code on the first row of block i.
func firstCode(s ohlcv.Snapshot, i int) (int64, bool) {
	start := s.SymbolPointer.At(i)
	if start == s.SymbolPointer.At(i+1) {
		return 0, false
	}
	return s.RowIndex.At(int(start), 1), true
}

// ScanSymbols calls fn for every symbol's active rows on a pool of workers.
// It stops submitting when ctx is done and returns all errors fn reported.
func ScanSymbols(ctx context.Context, s ohlcv.Snapshot, workers int, fn func(symbol int, rows shm.View[float64]) error) error {
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return err
	}
	defer pool.Release()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}
	for i := 0; i < s.NumSymbols(); i++ {
		if err := ctx.Err(); err != nil {
			fail(err)
			break
		}
		rows, err := SymbolRows(s, i)
		if err != nil {
			fail(err)
			continue
		}
		symbol := i
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if err := fn(symbol, rows); err != nil {
				fail(fmt.Errorf("symbol %d: %w", symbol, err))
			}
		}); err != nil {
			wg.Done()
			fail(err)
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}
