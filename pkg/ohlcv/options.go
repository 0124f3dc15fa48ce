package ohlcv

import (
	"github.com/srediag/ohlcv-shm/pkg/shm"
)

type options struct {
	dir      string
	prefix   string
	validate bool
	segment  []shm.Option
}

// Option configures Build and Attach.
type Option func(*options)

// WithDir places the table's segments in dir. For Attach it overrides the
// directory recorded in the handle.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithPrefix changes the prefix of the segment names Build generates.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithValidation makes Build check the symbol index before the table is
// returned. A table that fails the check is released and an *InvariantError
// is returned.
func WithValidation() Option {
	return func(o *options) { o.validate = true }
}

// WithSegmentOptions passes opts to every underlying shm.Create or
// shm.Attach call, e.g. shm.WithMeter or shm.WithTracer.
func WithSegmentOptions(opts ...shm.Option) Option {
	return func(o *options) { o.segment = append(o.segment, opts...) }
}

func applyOptions(opts []Option) *options {
	o := &options{prefix: shm.DefaultPrefix}
	for _, opt := range opts {
		opt(o)
	}
	if o.prefix == "" {
		o.prefix = shm.DefaultPrefix
	}
	return o
}

func (o *options) segmentOptions(extra ...shm.Option) []shm.Option {
	out := make([]shm.Option, 0, len(o.segment)+len(extra)+1)
	if o.dir != "" {
		out = append(out, shm.WithDir(o.dir))
	}
	out = append(out, o.segment...)
	return append(out, extra...)
}
