// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Face matching constants
const (
	// DefaultAcceptThreshold is the default maximum Euclidean distance for accepting a match.
	// Lower values = stricter matching
	DefaultAcceptThreshold = 0.5

	// DefaultAmbiguityEpsilon is the distance band around the best match in which a
	// second identity makes the result ambiguous
	DefaultAmbiguityEpsilon = 0.001

	// HNSWCandidates is the minimum number of candidates requested from the HNSW index
	// before exact re-ranking
	HNSWCandidates = 16
)

// Processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) for image processing
	MaxImageSize = 1920

	// JPEGQuality is used when re-encoding images for the detector
	JPEGQuality = 90

	// DefaultConcurrency is the default number of parallel workers for bulk imports
	DefaultConcurrency = 4
)

// Capture angles accepted for multi-image enrollment.
const (
	AngleImage = "image"
	AngleFront = "front"
	AngleLeft  = "left"
	AngleRight = "right"
	AngleUp    = "up"
	AngleDown  = "down"
)

// Angles lists the capture angles in their canonical order.
var Angles = []string{AngleImage, AngleFront, AngleLeft, AngleRight, AngleUp, AngleDown}
