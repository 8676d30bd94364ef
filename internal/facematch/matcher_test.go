package facematch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/kozaktomas/faceid/internal/database"
	"github.com/kozaktomas/faceid/internal/database/mock"
	"github.com/kozaktomas/faceid/internal/descriptor"
	"github.com/kozaktomas/faceid/internal/logging"
)

func newTestStore(t *testing.T, enrollments map[string]descriptor.Descriptor) *database.Store {
	t.Helper()
	backend := mock.NewMockBackend()
	for id, d := range enrollments {
		backend.AddEnrollment(database.Enrollment{IdentityID: id, Descriptor: d})
	}
	store, err := database.OpenStore(context.Background(), backend, database.Options{Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("OpenStore() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func newTestMatcher(t *testing.T, source SnapshotSource, opts Options) *Matcher {
	t.Helper()
	m, err := NewMatcher(source, opts)
	if err != nil {
		t.Fatalf("NewMatcher() unexpected error: %v", err)
	}
	return m
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestMatch(t *testing.T) {
	store := newTestStore(t, map[string]descriptor.Descriptor{
		"A": {0, 0, 0},
		"B": {1, 1, 1},
	})
	m := newTestMatcher(t, store, Options{AcceptThreshold: new(0.5)})

	tests := []struct {
		name         string
		probe        descriptor.Descriptor
		wantMatched  bool
		wantID       string
		wantReason   Reason
		wantDistance float64
	}{
		{"close to A", descriptor.Descriptor{0, 0, 0.1}, true, "A", ReasonNone, 0.1},
		{"exactly B", descriptor.Descriptor{1, 1, 1}, true, "B", ReasonNone, 0},
		{"between, closer to B", descriptor.Descriptor{0.6, 0.6, 0.6}, false, "", ReasonAboveThreshold, math.Sqrt(3 * 0.16)},
		{"far away", descriptor.Descriptor{10, 10, 10}, false, "", ReasonAboveThreshold, math.Sqrt(3 * 81)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := m.Match(tc.probe)
			if err != nil {
				t.Fatalf("Match() unexpected error: %v", err)
			}
			if got.Matched != tc.wantMatched || got.IdentityID != tc.wantID || got.Reason != tc.wantReason {
				t.Errorf("Match() = %+v; want matched=%v id=%q reason=%q", got, tc.wantMatched, tc.wantID, tc.wantReason)
			}
			if !approxEqual(got.Distance, tc.wantDistance) {
				t.Errorf("Distance = %v; want %v", got.Distance, tc.wantDistance)
			}
			if !approxEqual(got.Confidence, descriptor.Confidence(tc.wantDistance)) {
				t.Errorf("Confidence = %v; want %v", got.Confidence, descriptor.Confidence(tc.wantDistance))
			}
		})
	}
}

func TestMatch_ThresholdIsInclusive(t *testing.T) {
	store := newTestStore(t, map[string]descriptor.Descriptor{"A": {0, 0}})
	m := newTestMatcher(t, store, Options{AcceptThreshold: new(0.5)})

	got, err := m.Match(descriptor.Descriptor{0.5, 0})
	if err != nil {
		t.Fatalf("Match() unexpected error: %v", err)
	}
	if !got.Matched || got.IdentityID != "A" || got.Distance != 0.5 || got.Confidence != 0.5 {
		t.Errorf("distance == threshold must match, got %+v", got)
	}

	got, err = m.Match(descriptor.Descriptor{0.5001, 0})
	if err != nil {
		t.Fatalf("Match() unexpected error: %v", err)
	}
	if got.Matched || got.Reason != ReasonAboveThreshold {
		t.Errorf("distance just above threshold must not match, got %+v", got)
	}
}

func TestMatch_Ambiguous(t *testing.T) {
	tests := []struct {
		name       string
		a, b       descriptor.Descriptor
		probe      descriptor.Descriptor
		wantReason Reason
		wantID     string
	}{
		{"equidistant within threshold", descriptor.Descriptor{0, 0, 0}, descriptor.Descriptor{0, 0, 0.2}, descriptor.Descriptor{0, 0, 0.1}, ReasonAmbiguous, ""},
		{"identical descriptors", descriptor.Descriptor{0.3, 0.3, 0.3}, descriptor.Descriptor{0.3, 0.3, 0.3}, descriptor.Descriptor{0.3, 0.3, 0.3}, ReasonAmbiguous, ""},
		{"equidistant above threshold", descriptor.Descriptor{0, 0, 0}, descriptor.Descriptor{0, 0, 4}, descriptor.Descriptor{0, 0, 2}, ReasonAboveThreshold, ""},
		{"clearly separated", descriptor.Descriptor{0, 0, 0}, descriptor.Descriptor{0, 0, 0.3}, descriptor.Descriptor{0, 0, 0.1}, ReasonNone, "A"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newTestStore(t, map[string]descriptor.Descriptor{"A": tc.a, "B": tc.b})
			got, err := newTestMatcher(t, store, Options{AcceptThreshold: new(0.5), AmbiguityEpsilon: new(1e-3)}).Match(tc.probe)
			if err != nil {
				t.Fatalf("Match() unexpected error: %v", err)
			}
			if got.Reason != tc.wantReason || got.IdentityID != tc.wantID {
				t.Errorf("Match() = %+v; want reason=%q id=%q", got, tc.wantReason, tc.wantID)
			}
			if got.Reason == ReasonAmbiguous && got.Matched {
				t.Error("ambiguous result must not be matched")
			}
		})
	}
}

func TestMatch_NoEnrollments(t *testing.T) {
	m := newTestMatcher(t, newTestStore(t, nil), Options{})

	got, err := m.Match(descriptor.Descriptor{1, 2, 3})
	if err != nil {
		t.Fatalf("Match() unexpected error: %v", err)
	}
	if got.Matched || got.IdentityID != "" || got.Confidence != 0 || got.Reason != ReasonNoEnrollments {
		t.Errorf("Match() on empty store = %+v", got)
	}
}

func TestMatch_DimensionMismatch(t *testing.T) {
	store := newTestStore(t, map[string]descriptor.Descriptor{"A": {0, 0, 0}})
	_, err := newTestMatcher(t, store, Options{}).Match(descriptor.Descriptor{0, 0})
	if !errors.Is(err, descriptor.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestMatchExcluding(t *testing.T) {
	store := newTestStore(t, map[string]descriptor.Descriptor{
		"A": {0, 0, 0},
		"B": {1, 1, 1},
		"C": {0, 0, 0.3},
	})
	m := newTestMatcher(t, store, Options{AcceptThreshold: new(0.5)})
	probe := descriptor.Descriptor{0, 0, 0.05}

	got, err := m.MatchExcluding(probe, "A")
	if err != nil {
		t.Fatalf("MatchExcluding() unexpected error: %v", err)
	}
	if !got.Matched || got.IdentityID != "C" {
		t.Errorf("MatchExcluding(A) = %+v; want C", got)
	}

	got, err = m.MatchExcluding(descriptor.Descriptor{1, 1, 1}, "B")
	if err != nil {
		t.Fatalf("MatchExcluding() unexpected error: %v", err)
	}
	if got.Matched {
		t.Errorf("excluding the only close identity must not match, got %+v", got)
	}

	single := newTestStore(t, map[string]descriptor.Descriptor{"A": {0, 0, 0}})
	got, err = newTestMatcher(t, single, Options{}).MatchExcluding(probe, "A")
	if err != nil {
		t.Fatalf("MatchExcluding() unexpected error: %v", err)
	}
	if got.Reason != ReasonNoEnrollments {
		t.Errorf("excluding the only identity = %+v; want no_enrollments", got)
	}
}

func TestMatch_SeesCommittedWrites(t *testing.T) {
	store := newTestStore(t, nil)
	m := newTestMatcher(t, store, Options{})

	if err := store.Put(context.Background(), database.Enrollment{IdentityID: "A", Descriptor: descriptor.Descriptor{1, 2}}); err != nil {
		t.Fatalf("Put() unexpected error: %v", err)
	}
	got, err := m.Match(descriptor.Descriptor{1, 2})
	if err != nil {
		t.Fatalf("Match() unexpected error: %v", err)
	}
	if !got.Matched || got.IdentityID != "A" {
		t.Errorf("Match() after Put = %+v", got)
	}

	if err := store.Delete(context.Background(), "A"); err != nil {
		t.Fatalf("Delete() unexpected error: %v", err)
	}
	got, err = m.Match(descriptor.Descriptor{1, 2})
	if err != nil {
		t.Fatalf("Match() unexpected error: %v", err)
	}
	if got.Matched {
		t.Errorf("Match() after Delete = %+v", got)
	}
}

func TestMatch_HNSWAgreesWithLinear(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	const dim = 16

	enrollments := make(map[string]descriptor.Descriptor, 200)
	for i := 0; i < 200; i++ {
		d := make(descriptor.Descriptor, dim)
		for j := range d {
			d[j] = float32(rng.Float64() * 10)
		}
		enrollments[fmt.Sprintf("id-%03d", i)] = d
	}
	store := newTestStore(t, enrollments)

	linear := newTestMatcher(t, store, Options{Index: IndexLinear})
	approx := newTestMatcher(t, store, Options{Index: IndexHNSW, Candidates: 16})

	for i := 0; i < 200; i += 10 {
		id := fmt.Sprintf("id-%03d", i)
		probe := enrollments[id].Clone()
		probe[0] += 0.01

		want, err := linear.Match(probe)
		if err != nil {
			t.Fatalf("linear Match() unexpected error: %v", err)
		}
		got, err := approx.Match(probe)
		if err != nil {
			t.Fatalf("hnsw Match() unexpected error: %v", err)
		}
		if !want.Matched || want.IdentityID != id {
			t.Fatalf("linear Match(%s) = %+v", id, want)
		}
		if got.IdentityID != want.IdentityID || !approxEqual(got.Distance, want.Distance) {
			t.Errorf("hnsw Match(%s) = %+v; linear = %+v", id, got, want)
		}

		excluded, err := approx.MatchExcluding(probe, id)
		if err != nil {
			t.Fatalf("hnsw MatchExcluding() unexpected error: %v", err)
		}
		if excluded.IdentityID == id {
			t.Errorf("hnsw MatchExcluding(%s) returned the excluded identity", id)
		}
	}
}

func TestNewMatcher_Defaults(t *testing.T) {
	m := newTestMatcher(t, newTestStore(t, nil), Options{})
	if m.Threshold() != 0.5 {
		t.Errorf("Threshold() = %v; want 0.5", m.Threshold())
	}
	if m.Epsilon() != 1e-3 {
		t.Errorf("Epsilon() = %v; want 0.001", m.Epsilon())
	}
}

func TestNewMatcher_ZeroThresholdIsStrict(t *testing.T) {
	store := newTestStore(t, map[string]descriptor.Descriptor{"A": {0, 0, 0}})
	m := newTestMatcher(t, store, Options{AcceptThreshold: new(0.0), AmbiguityEpsilon: new(0.0)})
	if m.Threshold() != 0 || m.Epsilon() != 0 {
		t.Fatalf("Threshold()=%v Epsilon()=%v; want 0 and 0", m.Threshold(), m.Epsilon())
	}

	got, err := m.Match(descriptor.Descriptor{0, 0, 0.4})
	if err != nil {
		t.Fatalf("Match() unexpected error: %v", err)
	}
	if got.Matched || got.Reason != ReasonAboveThreshold {
		t.Errorf("threshold 0 accepted a probe at distance 0.4: %+v", got)
	}

	got, err = m.Match(descriptor.Descriptor{0, 0, 0})
	if err != nil {
		t.Fatalf("Match() unexpected error: %v", err)
	}
	if !got.Matched || got.IdentityID != "A" {
		t.Errorf("threshold 0 must still accept an exact match, got %+v", got)
	}
}

func TestNewMatcher_InvalidCalibration(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"negative threshold", Options{AcceptThreshold: new(-0.1)}},
		{"NaN threshold", Options{AcceptThreshold: new(math.NaN())}},
		{"infinite threshold", Options{AcceptThreshold: new(math.Inf(1))}},
		{"negative epsilon", Options{AmbiguityEpsilon: new(-1e-3)}},
		{"NaN epsilon", Options{AmbiguityEpsilon: new(math.NaN())}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewMatcher(newTestStore(t, nil), tc.opts)
			if !errors.Is(err, ErrInvalidCalibration) {
				t.Errorf("NewMatcher() error = %v; want ErrInvalidCalibration", err)
			}
		})
	}
}

func TestMatchExcluding_IgnoresApproximateIndex(t *testing.T) {
	// With one HNSW candidate the search sees the excluded identity and only
	// one of the two equidistant others, so it could never report ambiguity.
	store := newTestStore(t, map[string]descriptor.Descriptor{
		"self":  {0, 0},
		"left":  {-0.3, 0},
		"right": {0.3, 0},
	})
	m := newTestMatcher(t, store, Options{Index: IndexHNSW, Candidates: 1})

	got, err := m.MatchExcluding(descriptor.Descriptor{0, 0.01}, "self")
	if err != nil {
		t.Fatalf("MatchExcluding() unexpected error: %v", err)
	}
	if got.Reason != ReasonAmbiguous || got.Matched {
		t.Errorf("MatchExcluding() = %+v; want ambiguous between left and right", got)
	}
}
