// Package facematch resolves a probe descriptor to an enrolled identity.
package facematch

import (
	"errors"
	"fmt"
	"math"

	"github.com/kozaktomas/faceid/internal/constants"
	"github.com/kozaktomas/faceid/internal/database"
	"github.com/kozaktomas/faceid/internal/descriptor"
)

// Reason explains a result that is not an accepted match.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonNoEnrollments  Reason = "no_enrollments"
	ReasonAboveThreshold Reason = "above_threshold"
	ReasonAmbiguous      Reason = "ambiguous"
)

// Candidate search strategies.
const (
	IndexLinear = "linear"
	IndexHNSW   = "hnsw"
)

// Result is the outcome of a match. A non-match is a valid result, not an error.
type Result struct {
	Matched    bool    `json:"matched"`
	IdentityID string  `json:"identity_id,omitempty"` // empty unless Matched
	Confidence float64 `json:"confidence"`            // clamp(1 - Distance, 0, 1)
	Distance   float64 `json:"distance"`              // best distance seen, 0 with no enrollments
	Reason     Reason  `json:"reason,omitempty"`

	nearestID string
}

// NearestID is the closest identity regardless of the decision. It is meant
// for server-side duplicate checks and must not be shown to the person matched.
func (r Result) NearestID() string {
	return r.nearestID
}

// SnapshotSource provides consistent views of the enrolled identities.
type SnapshotSource interface {
	Snapshot() *database.Snapshot
}

// ErrInvalidCalibration is returned for a negative or NaN threshold or epsilon.
var ErrInvalidCalibration = errors.New("invalid matcher calibration")

// Options configures a Matcher. A nil threshold or epsilon selects the
// default; an explicit 0 is honoured (exact matches only, exact ties only).
type Options struct {
	AcceptThreshold  *float64 // accept iff distance <= threshold
	AmbiguityEpsilon *float64 // runner-up within this of the best makes the result ambiguous
	Index            string   // linear or hnsw
	Candidates       int      // hnsw candidates re-ranked exactly
}

// Matcher compares probes against a store snapshot.
type Matcher struct {
	source     SnapshotSource
	threshold  float64
	epsilon    float64
	index      string
	candidates int
}

// NewMatcher creates a matcher reading from source.
func NewMatcher(source SnapshotSource, opts Options) (*Matcher, error) {
	m := &Matcher{
		source:     source,
		threshold:  constants.DefaultAcceptThreshold,
		epsilon:    constants.DefaultAmbiguityEpsilon,
		index:      opts.Index,
		candidates: opts.Candidates,
	}
	if opts.AcceptThreshold != nil {
		if err := checkCalibration("accept threshold", *opts.AcceptThreshold); err != nil {
			return nil, err
		}
		m.threshold = *opts.AcceptThreshold
	}
	if opts.AmbiguityEpsilon != nil {
		if err := checkCalibration("ambiguity epsilon", *opts.AmbiguityEpsilon); err != nil {
			return nil, err
		}
		m.epsilon = *opts.AmbiguityEpsilon
	}
	if m.index != IndexHNSW {
		m.index = IndexLinear
	}
	if m.candidates <= 0 {
		m.candidates = constants.HNSWCandidates
	}
	return m, nil
}

func checkCalibration(name string, v float64) error {
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s %v must be a finite number >= 0", ErrInvalidCalibration, name, v)
	}
	return nil
}

// Threshold returns the accept threshold in use.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Epsilon returns the ambiguity margin in use.
func (m *Matcher) Epsilon() float64 {
	return m.epsilon
}

// Match finds the enrolled identity closest to probe.
func (m *Matcher) Match(probe descriptor.Descriptor) (Result, error) {
	return m.MatchSnapshot(m.source.Snapshot(), probe, "")
}

// MatchExcluding is Match ignoring one identity. It backs the enrollment
// duplicate check and always scans every enrollment exactly, whatever the index.
func (m *Matcher) MatchExcluding(probe descriptor.Descriptor, excludeID string) (Result, error) {
	return m.match(m.source.Snapshot(), probe, excludeID, true)
}

// MatchSnapshot matches against an explicit snapshot.
func (m *Matcher) MatchSnapshot(snap *database.Snapshot, probe descriptor.Descriptor, excludeID string) (Result, error) {
	return m.match(snap, probe, excludeID, false)
}

func (m *Matcher) match(snap *database.Snapshot, probe descriptor.Descriptor, excludeID string, exact bool) (Result, error) {
	if err := probe.Validate(snap.Dim()); err != nil {
		return Result{}, fmt.Errorf("invalid probe: %w", err)
	}

	var r ranking
	var err error
	if !exact && m.index == IndexHNSW && snap.Len() > m.candidates {
		r, err = m.rankCandidates(snap, probe, excludeID)
	} else {
		r, err = rankLinear(snap, probe, excludeID)
	}
	if err != nil {
		return Result{}, err
	}

	return m.decide(r), nil
}

// decide applies the threshold and ambiguity rules to a ranking.
func (m *Matcher) decide(r ranking) Result {
	if r.bestID == "" {
		return Result{Reason: ReasonNoEnrollments}
	}

	res := Result{
		Distance:   r.best,
		Confidence: descriptor.Confidence(r.best),
		nearestID:  r.bestID,
	}
	switch {
	case r.best > m.threshold:
		res.Reason = ReasonAboveThreshold
	case r.hasSecond && r.second-r.best <= m.epsilon:
		res.Reason = ReasonAmbiguous
	default:
		res.Matched = true
		res.IdentityID = r.bestID
	}
	return res
}

// ranking keeps the two smallest distances to distinct identities.
type ranking struct {
	bestID    string
	best      float64
	second    float64
	hasSecond bool
}

func (r *ranking) add(id string, d float64) {
	switch {
	case r.bestID == "":
		r.bestID, r.best = id, d
	case d < r.best:
		r.second, r.hasSecond = r.best, true
		r.bestID, r.best = id, d
	case !r.hasSecond || d < r.second:
		r.second, r.hasSecond = d, true
	}
}

func rankLinear(snap *database.Snapshot, probe descriptor.Descriptor, excludeID string) (ranking, error) {
	var r ranking
	var err error
	snap.Range(func(e *database.Enrollment) bool {
		if e.IdentityID == excludeID {
			return true
		}
		var d float64
		d, err = descriptor.EuclideanDistance(probe, e.Descriptor)
		if err != nil {
			return false
		}
		r.add(e.IdentityID, d)
		return true
	})
	return r, err
}

// rankCandidates re-ranks the HNSW neighbours of probe with exact distances.
func (m *Matcher) rankCandidates(snap *database.Snapshot, probe descriptor.Descriptor, excludeID string) (ranking, error) {
	ids, err := snap.Nearest(probe, m.candidates+1)
	if err != nil {
		return ranking{}, fmt.Errorf("candidate search: %w", err)
	}

	var r ranking
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		e, ok := snap.Get(id)
		if !ok {
			continue
		}
		d, err := descriptor.EuclideanDistance(probe, e.Descriptor)
		if err != nil {
			return ranking{}, err
		}
		r.add(id, d)
	}
	return r, nil
}
