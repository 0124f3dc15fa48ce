package ohlcv

import (
	"errors"
	"fmt"
)

// ErrInvariant is wrapped by every *InvariantError.
var ErrInvariant = errors.New("table invariant violated")

// InvariantError reports a symbol index that does not partition the rows.
// Symbol is -1 when the failed check is not about a single symbol.
type InvariantError struct {
	Check  string
	Symbol int
	Detail string
}

func (e *InvariantError) Error() string {
	if e.Symbol < 0 {
		return fmt.Sprintf("ohlcv: %s: %s", e.Check, e.Detail)
	}
	return fmt.Sprintf("ohlcv: %s: symbol %d: %s", e.Check, e.Symbol, e.Detail)
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }

func invariant(check string, symbol int, format string, a ...interface{}) error {
	return &InvariantError{Check: check, Symbol: symbol, Detail: fmt.Sprintf(format, a...)}
}

// Validate checks the shapes of the four views and the symbol index in
// O(numSymbols):
//
//	SymbolPointer[0] == 0, SymbolPointer[k] == n, SymbolPointer is non-decreasing,
//	SymbolPointer[i] <= SymbolRange[i,0] <= SymbolRange[i,1] <= SymbolPointer[i+1].
func Validate(s Snapshot) error {
	vs := s.Values.Shape()
	if len(vs) != 2 {
		return invariant("shape", -1, "values has %d dimensions, want 2", len(vs))
	}
	n := vs[0]
	if rs := s.RowIndex.Shape(); len(rs) != 2 || rs[0] != n || rs[1] != 2 {
		return invariant("shape", -1, "row index has shape %v, want [%d 2]", rs, n)
	}
	ps := s.SymbolPointer.Shape()
	if len(ps) != 1 || ps[0] < 1 {
		return invariant("shape", -1, "symbol pointer has shape %v, want [numSymbols+1]", ps)
	}
	k := ps[0] - 1
	if gs := s.SymbolRange.Shape(); len(gs) != 2 || gs[0] != k || gs[1] != 2 {
		return invariant("shape", -1, "symbol range has shape %v, want [%d 2]", gs, k)
	}

	ptr := s.SymbolPointer
	if first := ptr.At(0); first != 0 {
		return invariant("pointer", -1, "first entry is %d, want 0", first)
	}
	if last := ptr.At(k); last != int64(n) {
		return invariant("pointer", -1, "last entry is %d, want %d rows", last, n)
	}
	for i := 0; i < k; i++ {
		lo, hi := ptr.At(i), ptr.At(i+1)
		if lo > hi {
			return invariant("pointer", i, "decreases from %d to %d", lo, hi)
		}
		start, end := s.SymbolRange.At(i, 0), s.SymbolRange.At(i, 1)
		if start < lo || start > end || end > hi {
			return invariant("range", i, "[%d,%d) is not inside [%d,%d)", start, end, lo, hi)
		}
	}
	return nil
}
