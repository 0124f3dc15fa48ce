package shm

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Descriptor is everything a reader needs to attach to a segment created in
// another process. It is produced by Create and handed over out of band.
type Descriptor struct {
	Segment string `json:"segment"`
	DType   DType  `json:"dtype"`
	Shape   []int  `json:"shape"`
	Order   Order  `json:"order"`
}

// ByteLen is product(Shape) × DType.Width().
func (d Descriptor) ByteLen() int {
	return Size(d.Shape) * d.DType.Width()
}

// Validate checks that d can name a segment and describe its layout.
func (d Descriptor) Validate() error {
	switch {
	case d.Segment == "":
		return fmt.Errorf("%w: empty segment name", ErrDescriptor)
	case strings.ContainsAny(d.Segment, `/\`) || d.Segment == "." || d.Segment == "..":
		return fmt.Errorf("%w: segment name %q is not a plain name", ErrDescriptor, d.Segment)
	case !d.DType.Valid():
		return fmt.Errorf("%w: dtype %s", ErrDescriptor, d.DType)
	case !d.Order.Valid():
		return fmt.Errorf("%w: order %s", ErrDescriptor, d.Order)
	}
	for i, n := range d.Shape {
		if n < 0 {
			return fmt.Errorf("%w: negative dimension %d at axis %d", ErrDescriptor, n, i)
		}
	}
	if _, ok := checkedSize(d.Shape, d.DType.Width()); !ok {
		return fmt.Errorf("%w: shape %v overflows the addressable byte length", ErrDescriptor, d.Shape)
	}
	return nil
}

func (d Descriptor) clone() Descriptor {
	d.Shape = append([]int{}, d.Shape...)
	return d
}

// NewTableID returns a short random id shared by the segments of one table.
func NewTableID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// SegmentName builds "<prefix>-<pid>-<id>-<tag>" for the current process.
func SegmentName(prefix, id, tag string) string {
	return fmt.Sprintf("%s-%d-%s-%s", prefix, os.Getpid(), id, tag)
}

// SegmentOwnerPID extracts the creating process id from a name built by
// SegmentName. The prefix itself may contain dashes.
func SegmentOwnerPID(name string) (int32, bool) {
	parts := strings.Split(name, "-")
	if len(parts) < 4 {
		return 0, false
	}
	pid, err := strconv.ParseInt(parts[len(parts)-3], 10, 32)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return int32(pid), true
}
