package extractor

import (
	"errors"
	"fmt"
	"strings"
)

// Validation failures. These are user-actionable and never retried automatically.
var (
	ErrDecode                = errors.New("image could not be decoded")
	ErrNoFaceDetected        = errors.New("no face detected")
	ErrMultipleFacesDetected = errors.New("multiple faces detected")
)

// ErrExtractionTimeout is returned when an extraction exceeds its execution timeout.
// Identical bytes reproduce the same failure, so retrying is left to the caller.
var ErrExtractionTimeout = errors.New("face extraction timed out")

// ErrExtractionFault is returned when a detector panics.
var ErrExtractionFault = errors.New("face extraction fault")

// ErrNoFaceImagesUsable is returned when none of the supplied angle images produced a descriptor.
var ErrNoFaceImagesUsable = errors.New("no usable face images")

// AngleFailure records why a single capture angle was skipped.
type AngleFailure struct {
	Angle string
	Err   error
}

// NoUsableImagesError carries the per-angle causes behind ErrNoFaceImagesUsable.
// errors.Is matches both ErrNoFaceImagesUsable and every per-angle cause.
type NoUsableImagesError struct {
	Failures []AngleFailure
}

func (e *NoUsableImagesError) Error() string {
	if len(e.Failures) == 0 {
		return ErrNoFaceImagesUsable.Error() + ": no images supplied"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Angle, f.Err))
	}
	return ErrNoFaceImagesUsable.Error() + " (" + strings.Join(parts, "; ") + ")"
}

func (e *NoUsableImagesError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	errs = append(errs, ErrNoFaceImagesUsable)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
