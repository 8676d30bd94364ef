// Package descriptor holds the numeric face descriptor type and the vector
// math shared by extraction, matching and storage.
package descriptor

import (
	"errors"
	"fmt"
	"math"
)

// ErrEmpty is returned when an operation needs at least one descriptor.
var ErrEmpty = errors.New("no descriptors")

// ErrDimensionMismatch is returned when two descriptors have different lengths.
var ErrDimensionMismatch = errors.New("descriptor dimension mismatch")

// Descriptor is a fixed-length face descriptor (128-d for dlib, 512-d for insightface).
// Values are treated as immutable once produced; use Clone before handing one to
// code that may keep it.
type Descriptor []float32

// Dim returns the dimensionality of the descriptor.
func (d Descriptor) Dim() int {
	return len(d)
}

// Clone returns an independent copy.
func (d Descriptor) Clone() Descriptor {
	if d == nil {
		return nil
	}
	out := make(Descriptor, len(d))
	copy(out, d)
	return out
}

// Equal reports whether both descriptors have the same values.
func (d Descriptor) Equal(other Descriptor) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if d[i] != other[i] {
			return false
		}
	}
	return true
}

// Validate checks the descriptor is non-empty, finite and (when dim > 0) of the expected length.
func (d Descriptor) Validate(dim int) error {
	if len(d) == 0 {
		return errors.New("descriptor is empty")
	}
	if dim > 0 && len(d) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(d), dim)
	}
	for i, v := range d {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("descriptor value %d is not finite", i)
		}
	}
	return nil
}

// EuclideanDistance computes the L2 distance between two descriptors of equal length.
// Accumulation happens in float64 so the result does not depend on float32 rounding order.
func EuclideanDistance(a, b Descriptor) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum), nil
}

// Confidence maps a distance to a [0,1] score: clamp(1 - distance, 0, 1).
// It is monotonically decreasing in distance and equals 1 for identical descriptors.
func Confidence(distance float64) float64 {
	c := 1 - distance
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Average returns the element-wise arithmetic mean of the given descriptors.
// Averaging n identical descriptors returns that descriptor unchanged.
func Average(descriptors []Descriptor) (Descriptor, error) {
	if len(descriptors) == 0 {
		return nil, ErrEmpty
	}

	dim := len(descriptors[0])
	if dim == 0 {
		return nil, errors.New("descriptor is empty")
	}

	sums := make([]float64, dim)
	for i, d := range descriptors {
		if len(d) != dim {
			return nil, fmt.Errorf("%w: descriptor %d has %d values, want %d", ErrDimensionMismatch, i, len(d), dim)
		}
		for j, v := range d {
			sums[j] += float64(v)
		}
	}

	n := float64(len(descriptors))
	out := make(Descriptor, dim)
	for j := range sums {
		out[j] = float32(sums[j] / n)
	}
	return out, nil
}
