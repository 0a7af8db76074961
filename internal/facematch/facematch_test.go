package facematch

import (
	"errors"
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"unit apart", []float32{0, 0}, []float32{1, 0}, 1},
		{"pythagorean", []float32{0, 0}, []float32{3, 4}, 5},
		{"negative components", []float32{-1, -1}, []float32{1, 1}, 2 * math.Sqrt2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Distance(tc.a, tc.b)
			if err != nil {
				t.Fatalf("Distance returned error: %v", err)
			}
			if math.Abs(got-tc.expected) > 1e-9 {
				t.Errorf("Distance = %g; want %g", got, tc.expected)
			}
		})
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a := []float32{0.1, -0.4, 0.9, 0.2}
	b := []float32{0.7, 0.3, -0.5, 0.0}

	ab, err := Distance(a, b)
	if err != nil {
		t.Fatalf("Distance(a, b): %v", err)
	}
	ba, err := Distance(b, a)
	if err != nil {
		t.Fatalf("Distance(b, a): %v", err)
	}
	if ab != ba {
		t.Errorf("distance not symmetric: %g vs %g", ab, ba)
	}
}

func TestDistanceDimensionMismatch(t *testing.T) {
	if _, err := Distance([]float32{1, 2}, []float32{1, 2, 3}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v; want ErrDimensionMismatch", err)
	}
}

func TestIdentify(t *testing.T) {
	candidates := []Candidate{
		{ID: "far", Descriptor: []float32{10, 10}},
		{ID: "near", Descriptor: []float32{1, 1}},
		{ID: "mid", Descriptor: []float32{5, 5}},
	}

	m, err := Identify([]float32{0, 0}, candidates)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if m.ID != "near" {
		t.Errorf("best ID = %q; want %q", m.ID, "near")
	}
	if math.Abs(m.Distance-math.Sqrt2) > 1e-9 {
		t.Errorf("best distance = %g; want %g", m.Distance, math.Sqrt2)
	}
}

func TestIdentifyEmpty(t *testing.T) {
	if _, err := Identify([]float32{0, 0}, nil); !errors.Is(err, ErrNoCandidates) {
		t.Errorf("err = %v; want ErrNoCandidates", err)
	}
}

func TestIdentifyDimensionMismatch(t *testing.T) {
	candidates := []Candidate{{ID: "a", Descriptor: []float32{1, 2, 3}}}
	if _, err := Identify([]float32{1, 2}, candidates); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v; want ErrDimensionMismatch", err)
	}
}

func TestMatcherVerify(t *testing.T) {
	m := Matcher{Threshold: 0.6}

	tests := []struct {
		name     string
		probe    []float32
		stored   []float32
		match    bool
		distance float64
	}{
		{"exact", []float32{0.5, 0.5}, []float32{0.5, 0.5}, true, 0},
		{"just under threshold", []float32{0, 0}, []float32{0.59, 0}, true, 0.59},
		{"just over threshold", []float32{0, 0}, []float32{0.61, 0}, false, 0.61},
		{"at threshold is a miss", []float32{0, 0}, []float32{0.6, 0}, false, 0.6},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, ok, err := m.Verify(tc.probe, tc.stored)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if ok != tc.match {
				t.Errorf("match = %v; want %v (distance %g)", ok, tc.match, d)
			}
			if math.Abs(d-tc.distance) > 1e-6 {
				t.Errorf("distance = %g; want %g", d, tc.distance)
			}
		})
	}
}
