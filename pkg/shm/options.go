package shm

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	internalshm "github.com/srediag/ohlcv-shm/internal/shm"
)

// DefaultPrefix starts every segment name created by this package.
const DefaultPrefix = "ohlcv"

type options struct {
	dir    string
	prefix string
	name   string
	tag    string
	meter  metric.Meter
	tracer trace.Tracer
}

// Option configures Create and Attach.
type Option func(*options)

// WithDir places segments in dir instead of /dev/shm.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// WithPrefix changes the prefix of generated segment names.
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithName sets an explicit segment name for Create.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithTag sets the last component of a generated segment name.
func WithTag(tag string) Option {
	return func(o *options) { o.tag = tag }
}

// WithMeter records OpenTelemetry metrics on meter.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// WithTracer records OpenTelemetry spans on tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

func applyOptions(opts []Option) *options {
	o := &options{
		dir:    internalshm.DefaultDir,
		prefix: DefaultPrefix,
		tag:    "buf",
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.dir == "" {
		o.dir = internalshm.DefaultDir
	}
	return o
}
