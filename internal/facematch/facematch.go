// Package facematch decides whether two face descriptors belong to the same
// person. Descriptors are fixed-length float vectors produced by the face
// model; the comparison metric is plain Euclidean distance, where smaller
// means more similar.
package facematch

import (
	"errors"
	"math"
)

var (
	// ErrDimensionMismatch is returned when two descriptors have different lengths.
	ErrDimensionMismatch = errors.New("descriptor dimension mismatch")
	// ErrNoCandidates is returned by Identify when there is nothing to rank.
	ErrNoCandidates = errors.New("no candidates to compare against")
)

// Candidate pairs a stored descriptor with the identity that owns it.
type Candidate struct {
	ID         string
	Descriptor []float32
}

// Match is the nearest candidate found by Identify.
type Match struct {
	ID       string
	Distance float64
}

// Distance computes the Euclidean distance between two equal-length
// descriptors. This is a dissimilarity score: 0 means identical.
func Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Identify returns the candidate nearest to probe. Callers decide whether
// the distance is close enough; Identify itself applies no threshold.
func Identify(probe []float32, candidates []Candidate) (Match, error) {
	if len(candidates) == 0 {
		return Match{}, ErrNoCandidates
	}
	best := Match{Distance: math.Inf(1)}
	for _, c := range candidates {
		d, err := Distance(probe, c.Descriptor)
		if err != nil {
			return Match{}, err
		}
		if d < best.Distance {
			best = Match{ID: c.ID, Distance: d}
		}
	}
	return best, nil
}

// Matcher bundles the acceptance threshold so callers cannot flip the
// comparison direction by accident.
type Matcher struct {
	Threshold float64
}

// Verify compares a probe against a single stored descriptor and reports
// whether it is within the acceptance threshold.
func (m Matcher) Verify(probe, stored []float32) (float64, bool, error) {
	d, err := Distance(probe, stored)
	if err != nil {
		return 0, false, err
	}
	return d, d < m.Threshold, nil
}

// Accepts reports whether a distance counts as a match.
func (m Matcher) Accepts(distance float64) bool {
	return distance < m.Threshold
}
