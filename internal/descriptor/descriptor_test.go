package descriptor

import (
	"errors"
	"math"
	"testing"
)

func TestEuclideanDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b Descriptor
		want float64
	}{
		{"identical", Descriptor{1, 2, 3}, Descriptor{1, 2, 3}, 0},
		{"unit axis", Descriptor{0, 0, 0}, Descriptor{0, 0, 1}, 1},
		{"diagonal", Descriptor{0, 0, 0}, Descriptor{1, 1, 1}, math.Sqrt(3)},
		{"three four five", Descriptor{0, 0}, Descriptor{3, 4}, 5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EuclideanDistance(tc.a, tc.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("EuclideanDistance() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEuclideanDistance_DimensionMismatch(t *testing.T) {
	_, err := EuclideanDistance(Descriptor{1, 2}, Descriptor{1, 2, 3})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		distance float64
		want     float64
	}{
		{0, 1},
		{0.25, 0.75},
		{1, 0},
		{1.7, 0},
		{-0.5, 1},
	}

	for _, tc := range tests {
		got := Confidence(tc.distance)
		if math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("Confidence(%v) = %v, want %v", tc.distance, got, tc.want)
		}
	}
}

func TestConfidence_Monotone(t *testing.T) {
	prev := Confidence(0)
	for d := 0.01; d < 2; d += 0.01 {
		c := Confidence(d)
		if c > prev {
			t.Fatalf("confidence increased from %v to %v at distance %v", prev, c, d)
		}
		prev = c
	}
}

func TestAverage_IdenticalIsExact(t *testing.T) {
	d := Descriptor{0.1, -0.333333, 0.7071068, 1e-7, -42.125}
	for _, n := range []int{1, 2, 3, 5, 7, 10} {
		list := make([]Descriptor, n)
		for i := range list {
			list[i] = d.Clone()
		}
		got, err := Average(list)
		if err != nil {
			t.Fatalf("Average(n=%d): %v", n, err)
		}
		if !got.Equal(d) {
			t.Errorf("Average of %d identical descriptors = %v, want %v", n, got, d)
		}
	}
}

func TestAverage_Mean(t *testing.T) {
	got, err := Average([]Descriptor{{0, 2, 4}, {2, 4, 6}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(Descriptor{1, 3, 5}) {
		t.Errorf("Average() = %v, want [1 3 5]", got)
	}
}

func TestAverage_Errors(t *testing.T) {
	if _, err := Average(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := Average([]Descriptor{{1, 2}, {1}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestAverage_DoesNotAliasInput(t *testing.T) {
	in := Descriptor{1, 2, 3}
	out, err := Average([]Descriptor{in})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out[0] = 99
	if in[0] != 1 {
		t.Error("Average result aliases its input")
	}
}

func TestValidate(t *testing.T) {
	if err := (Descriptor{1, 2, 3}).Validate(3); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (Descriptor{1, 2, 3}).Validate(0); err != nil {
		t.Errorf("dim 0 should accept any length: %v", err)
	}
	if err := (Descriptor{1, 2}).Validate(3); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if err := (Descriptor{}).Validate(0); err == nil {
		t.Error("expected error for empty descriptor")
	}
	if err := (Descriptor{float32(math.NaN())}).Validate(0); err == nil {
		t.Error("expected error for NaN value")
	}
}
