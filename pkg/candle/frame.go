// Package candle turns candle bars into the arrays an ohlcv table is built
// from, and offers the symbol lookups readers perform on an attached table.
package candle

import (
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/srediag/ohlcv-shm/pkg/shm"
)

// Bar is one candle of one symbol.
type Bar struct {
	Symbol int64
	Time   int64
	Values []float64
}

// Frame is a set of bars sharing one column layout.
type Frame struct {
	Columns []string
	Bars    []Bar
}

// SortBars orders bars by symbol, then by time.
func SortBars(bars []Bar) {
	sort.SliceStable(bars, func(i, j int) bool {
		if bars[i].Symbol != bars[j].Symbol {
			return bars[i].Symbol < bars[j].Symbol
		}
		return bars[i].Time < bars[j].Time
	})
}

// FilterDates returns the bars with from <= Time <= to. A zero bound is open.
func (f *Frame) FilterDates(from, to int64) *Frame {
	out := &Frame{Columns: append([]string(nil), f.Columns...)}
	for _, b := range f.Bars {
		if from != 0 && b.Time < from {
			continue
		}
		if to != 0 && b.Time > to {
			continue
		}
		out.Bars = append(out.Bars, b)
	}
	return out
}

// Symbols returns the distinct symbol codes in ascending order.
func (f *Frame) Symbols() []int64 {
	seen := make(map[int64]struct{})
	var out []int64
	for _, b := range f.Bars {
		if _, ok := seen[b.Symbol]; !ok {
			seen[b.Symbol] = struct{}{}
			out = append(out, b.Symbol)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Arrays derives the four arrays of a table from f: the n×d values, the
// n×2 (time, symbol) row index, the symbol pointer and the symbol ranges.
// The bars are sorted by symbol and time first; f itself is not modified.
func (f *Frame) Arrays() (values shm.Array[float64], rowIndex, symbolPointer, symbolRange shm.Array[int64], err error) {
	bars := append([]Bar(nil), f.Bars...)
	SortBars(bars)

	d := len(f.Columns)
	vals := make([]float64, 0, len(bars)*d)
	index := make([]int64, 0, len(bars)*2)
	symbols := make([]int64, len(bars))
	for i, b := range bars {
		if len(b.Values) != d {
			err = fmt.Errorf("bar %d of symbol %d has %d values, want %d", i, b.Symbol, len(b.Values), d)
			return
		}
		vals = append(vals, b.Values...)
		index = append(index, b.Time, b.Symbol)
		symbols[i] = b.Symbol
	}
	ptr := Indptr(symbols)
	rng := Ranges(ptr)
	flat := make([]int64, 0, len(rng)*2)
	for _, r := range rng {
		flat = append(flat, r[0], r[1])
	}

	values = shm.NewArray(vals, len(bars), d)
	rowIndex = shm.NewArray(index, len(bars), 2)
	symbolPointer = shm.NewArray(ptr, len(ptr))
	symbolRange = shm.NewArray(flat, len(rng), 2)
	return
}

// SymbolCode converts a symbol such as "600000.SH" to its numeric code, the
// integer value of its first six characters.
func SymbolCode(s string) (int64, error) {
	if len(s) > 6 {
		s = s[:6]
	}
	code, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("symbol %q: %w", s, err)
	}
	return code, nil
}

// Demo builds a deterministic frame of symbols×bars OHLCV candles, for
// trying the store without an input file.
func Demo(symbols, bars int) *Frame {
	f := &Frame{Columns: []string{"open", "high", "low", "close", "volume"}}
	for s := 0; s < symbols; s++ {
		code := int64(600000 + s)
		for t := 0; t < bars; t++ {
			base := 10 + float64(s) + math.Sin(float64(t)/7)
			f.Bars = append(f.Bars, Bar{
				Symbol: code,
				Time:   int64(20240101 + t),
				Values: []float64{base, base + 0.5, base - 0.5, base + 0.1, float64(1000 * (t + 1))},
			})
		}
	}
	return f
}
