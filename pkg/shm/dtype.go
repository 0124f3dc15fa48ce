package shm

import (
	"fmt"
	"strings"
)

// Numeric is the set of fixed-width element types a Buffer can hold.
type Numeric interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// DType names the element type stored in a segment.
type DType uint8

const (
	InvalidDType DType = iota
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
)

var dtypeNames = [...]string{
	InvalidDType: "invalid",
	Int8:         "int8",
	Int16:        "int16",
	Int32:        "int32",
	Int64:        "int64",
	Uint8:        "uint8",
	Uint16:       "uint16",
	Uint32:       "uint32",
	Uint64:       "uint64",
	Float32:      "float32",
	Float64:      "float64",
}

var dtypeWidths = [...]int{
	Int8: 1, Int16: 2, Int32: 4, Int64: 8,
	Uint8: 1, Uint16: 2, Uint32: 4, Uint64: 8,
	Float32: 4, Float64: 8,
}

// DTypeOf returns the DType matching T.
func DTypeOf[T Numeric]() DType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return Int8
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return InvalidDType
}

// ParseDType parses the lower-case name of a dtype.
func ParseDType(s string) (DType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range dtypeNames {
		if i != int(InvalidDType) && name == s {
			return DType(i), nil
		}
	}
	return InvalidDType, fmt.Errorf("unknown dtype %q", s)
}

// Valid reports whether d names a supported element type.
func (d DType) Valid() bool {
	return d > InvalidDType && int(d) < len(dtypeNames)
}

// Width is the element size in bytes, 0 for an invalid dtype.
func (d DType) Width() int {
	if !d.Valid() {
		return 0
	}
	return dtypeWidths[d]
}

func (d DType) String() string {
	if int(d) >= len(dtypeNames) {
		return fmt.Sprintf("DType(%d)", uint8(d))
	}
	return dtypeNames[d]
}

// MarshalText implements encoding.TextMarshaler.
func (d DType) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", d)
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *DType) UnmarshalText(b []byte) error {
	v, err := ParseDType(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Order is the memory layout of a multi-dimensional buffer.
type Order uint8

const (
	// RowMajor stores the last axis contiguously ("C" order).
	RowMajor Order = iota
	// ColumnMajor stores the first axis contiguously ("F" order).
	ColumnMajor
)

func (o Order) String() string {
	switch o {
	case RowMajor:
		return "C"
	case ColumnMajor:
		return "F"
	}
	return fmt.Sprintf("Order(%d)", uint8(o))
}

// Valid reports whether o is RowMajor or ColumnMajor.
func (o Order) Valid() bool {
	return o == RowMajor || o == ColumnMajor
}

// ParseOrder accepts "C"/"row-major" and "F"/"column-major".
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "row-major", "row_major":
		return RowMajor, nil
	case "f", "column-major", "column_major":
		return ColumnMajor, nil
	}
	return RowMajor, fmt.Errorf("unknown order %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (o Order) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", o)
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Order) UnmarshalText(b []byte) error {
	v, err := ParseOrder(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}
