package database

import (
	"time"

	"github.com/kozaktomas/faceid/internal/descriptor"
)

// Metadata is the minimal display data kept next to a descriptor.
type Metadata struct {
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Enrollment is the biometric record of one identity.
// It is always replaced wholesale, never patched.
type Enrollment struct {
	IdentityID string
	Descriptor descriptor.Descriptor
	Metadata   Metadata
	AngleCount int    // number of images averaged into Descriptor
	Model      string // detector model that produced Descriptor
	EnrolledAt time.Time
}

// Clone returns a copy that shares no memory with e.
func (e Enrollment) Clone() Enrollment {
	e.Descriptor = e.Descriptor.Clone()
	return e
}

// Durability reports whether every committed change has reached the backend.
type Durability struct {
	Degraded  bool      `json:"degraded"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since,omitzero"`
	Pending   int       `json:"pending"`
}
