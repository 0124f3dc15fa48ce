package candle

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
)

// LoadOptions names the key columns of an input table and, optionally, the
// value columns to keep. With no Columns every other numeric column is kept.
type LoadOptions struct {
	TimeColumn   string
	SymbolColumn string
	Columns      []string
}

func (o LoadOptions) withDefaults() LoadOptions {
	if o.TimeColumn == "" {
		o.TimeColumn = "date"
	}
	if o.SymbolColumn == "" {
		o.SymbolColumn = "symbol"
	}
	return o
}

// LoadParquet reads a parquet file of candles.
func LoadParquet(ctx context.Context, path string, opts LoadOptions) (*Frame, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, fmt.Errorf("open parquet %s: %w", path, err)
	}
	defer rdr.Close()

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{Parallel: true, BatchSize: 64 * 1024}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	defer tbl.Release()
	return FromArrowTable(tbl, opts)
}

// FromArrowTable converts tbl to a Frame. The time column may be an integer,
// timestamp or date column; the symbol column an integer or a string code
// (see SymbolCode). Value columns must be integer or floating point.
func FromArrowTable(tbl arrow.Table, opts LoadOptions) (*Frame, error) {
	opts = opts.withDefaults()
	schema := tbl.Schema()

	timeIdx, err := columnIndex(schema, opts.TimeColumn)
	if err != nil {
		return nil, err
	}
	symIdx, err := columnIndex(schema, opts.SymbolColumn)
	if err != nil {
		return nil, err
	}
	var valueIdx []int
	if len(opts.Columns) == 0 {
		for i, f := range schema.Fields() {
			if i != timeIdx && i != symIdx && isNumeric(f.Type) {
				valueIdx = append(valueIdx, i)
			}
		}
	} else {
		for _, name := range opts.Columns {
			i, err := columnIndex(schema, name)
			if err != nil {
				return nil, err
			}
			valueIdx = append(valueIdx, i)
		}
	}

	n := int(tbl.NumRows())
	frame := &Frame{Bars: make([]Bar, n)}
	for _, i := range valueIdx {
		frame.Columns = append(frame.Columns, schema.Field(i).Name)
	}
	for r := range frame.Bars {
		frame.Bars[r].Values = make([]float64, len(valueIdx))
	}

	if err := eachValue(tbl.Column(timeIdx), func(row int, arr arrow.Array, i int) error {
		v, err := int64At(arr, i)
		frame.Bars[row].Time = v
		return err
	}); err != nil {
		return nil, fmt.Errorf("column %s: %w", opts.TimeColumn, err)
	}
	if err := eachValue(tbl.Column(symIdx), func(row int, arr arrow.Array, i int) error {
		var err error
		if s, ok := arr.(*array.String); ok {
			frame.Bars[row].Symbol, err = SymbolCode(s.Value(i))
			return err
		}
		frame.Bars[row].Symbol, err = int64At(arr, i)
		return err
	}); err != nil {
		return nil, fmt.Errorf("column %s: %w", opts.SymbolColumn, err)
	}
	for c, idx := range valueIdx {
		c := c
		if err := eachValue(tbl.Column(idx), func(row int, arr arrow.Array, i int) error {
			v, err := float64At(arr, i)
			frame.Bars[row].Values[c] = v
			return err
		}); err != nil {
			return nil, fmt.Errorf("column %s: %w", schema.Field(idx).Name, err)
		}
	}
	return frame, nil
}

func columnIndex(schema *arrow.Schema, name string) (int, error) {
	idx := schema.FieldIndices(name)
	if len(idx) == 0 {
		return 0, fmt.Errorf("no column %q in table", name)
	}
	return idx[0], nil
}

func isNumeric(t arrow.DataType) bool {
	switch t.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64,
		arrow.FLOAT32, arrow.FLOAT64:
		return true
	}
	return false
}

// eachValue calls fn for every value of col across its chunks, with the
// row number in the table.
func eachValue(col *arrow.Column, fn func(row int, arr arrow.Array, i int) error) error {
	row := 0
	for _, chunk := range col.Data().Chunks() {
		for i := 0; i < chunk.Len(); i++ {
			if chunk.IsNull(i) {
				return fmt.Errorf("null at row %d", row)
			}
			if err := fn(row, chunk, i); err != nil {
				return err
			}
			row++
		}
	}
	return nil
}

func int64At(arr arrow.Array, i int) (int64, error) {
	switch a := arr.(type) {
	case *array.Int64:
		return a.Value(i), nil
	case *array.Int32:
		return int64(a.Value(i)), nil
	case *array.Uint32:
		return int64(a.Value(i)), nil
	case *array.Timestamp:
		return int64(a.Value(i)), nil
	case *array.Date32:
		return int64(a.Value(i)), nil
	case *array.Date64:
		return int64(a.Value(i)), nil
	}
	return 0, fmt.Errorf("unsupported key type %s", arr.DataType())
}

func float64At(arr arrow.Array, i int) (float64, error) {
	switch a := arr.(type) {
	case *array.Float64:
		return a.Value(i), nil
	case *array.Float32:
		return float64(a.Value(i)), nil
	case *array.Int64:
		return float64(a.Value(i)), nil
	case *array.Int32:
		return float64(a.Value(i)), nil
	case *array.Int16:
		return float64(a.Value(i)), nil
	case *array.Int8:
		return float64(a.Value(i)), nil
	case *array.Uint64:
		return float64(a.Value(i)), nil
	case *array.Uint32:
		return float64(a.Value(i)), nil
	case *array.Uint16:
		return float64(a.Value(i)), nil
	case *array.Uint8:
		return float64(a.Value(i)), nil
	}
	return 0, fmt.Errorf("unsupported value type %s", arr.DataType())
}
