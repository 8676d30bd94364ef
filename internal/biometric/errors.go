package biometric

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/faceid/internal/extractor"
)

// Errors surfaced to callers of the coordinator.
var (
	ErrDecode                = extractor.ErrDecode
	ErrNoFaceDetected        = extractor.ErrNoFaceDetected
	ErrMultipleFacesDetected = extractor.ErrMultipleFacesDetected
	ErrExtractionTimeout     = extractor.ErrExtractionTimeout
	ErrNoFaceImagesUsable    = extractor.ErrNoFaceImagesUsable

	// ErrDuplicateFace is returned when the face being enrolled already belongs to another identity.
	ErrDuplicateFace = errors.New("face already enrolled for another identity")

	// ErrMissingIdentity is returned by Unenroll without an identity id.
	ErrMissingIdentity = errors.New("identity id is required")
)

// DuplicateError carries the identity that the enrolling face collides with.
type DuplicateError struct {
	IdentityID string
	Distance   float64
	Ambiguous  bool // the face was within threshold of several identities
}

func (e *DuplicateError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("%v: ambiguous match near %s (distance %.4f)", ErrDuplicateFace, e.IdentityID, e.Distance)
	}
	return fmt.Sprintf("%v: matches %s (distance %.4f)", ErrDuplicateFace, e.IdentityID, e.Distance)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicateFace
}
