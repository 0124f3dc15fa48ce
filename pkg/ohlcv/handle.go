package ohlcv

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/valyala/bytebufferpool"

	"github.com/srediag/ohlcv-shm/pkg/shm"
)

// Handle is what a producer hands to readers: one descriptor per buffer and
// the directory holding the segments. Columns is an optional side channel
// for the column names, which are not kept in shared memory.
type Handle struct {
	Dir           string         `json:"dir,omitempty"`
	Values        shm.Descriptor `json:"values"`
	RowIndex      shm.Descriptor `json:"row_index"`
	SymbolPointer shm.Descriptor `json:"symbol_pointer"`
	SymbolRange   shm.Descriptor `json:"symbol_range"`
	Columns       []string       `json:"columns,omitempty"`
}

// Validate checks the four descriptors.
func (h Handle) Validate() error {
	for _, d := range []struct {
		name string
		desc shm.Descriptor
	}{
		{"values", h.Values},
		{"row_index", h.RowIndex},
		{"symbol_pointer", h.SymbolPointer},
		{"symbol_range", h.SymbolRange},
	} {
		if err := d.desc.Validate(); err != nil {
			return fmt.Errorf("handle %s: %w", d.name, err)
		}
	}
	return nil
}

// Segments lists the segment names of the handle.
func (h Handle) Segments() []string {
	return []string{h.Values.Segment, h.RowIndex.Segment, h.SymbolPointer.Segment, h.SymbolRange.Segment}
}

// EncodeHandle returns the JSON form of h.
func EncodeHandle(h Handle) ([]byte, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(h); err != nil {
		return nil, fmt.Errorf("encode handle: %w", err)
	}
	out := make([]byte, buf.Len())
	copy(out, buf.B)
	return out, nil
}

// DecodeHandle parses and validates a handle produced by EncodeHandle.
func DecodeHandle(data []byte) (Handle, error) {
	var h Handle
	if err := json.Unmarshal(data, &h); err != nil {
		return Handle{}, fmt.Errorf("decode handle: %w", err)
	}
	if err := h.Validate(); err != nil {
		return Handle{}, err
	}
	return h, nil
}

// WriteHandleFile writes h to path. The file is written next to path and
// renamed into place, so a reader polling for path never sees half a handle.
func WriteHandleFile(path string, h Handle) error {
	data, err := EncodeHandle(h)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// ReadHandleFile reads a handle written by WriteHandleFile.
func ReadHandleFile(path string) (Handle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Handle{}, err
	}
	return DecodeHandle(data)
}
