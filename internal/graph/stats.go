package graph

import (
	"encoding/json"
	"math"
)

// OverallStats summarises a bucket sequence for viewport scaling.
//
// Min and Max are taken over bucket averages and stay at +Inf and -Inf when no
// bucket has an average. First and Last stay nil in that case.
type OverallStats struct {
	Min   float64
	Max   float64
	First *float64
	Last  *float64
}

// EmptyStats returns stats in their initial sentinel state.
func EmptyStats() OverallStats {
	return OverallStats{Min: math.Inf(1), Max: math.Inf(-1)}
}

// HasData reports whether at least one bucket contributed to s.
func (s OverallStats) HasData() bool {
	return s.Min <= s.Max
}

// Reduce folds buckets into a single OverallStats. Buckets without an average
// contribute nothing.
func Reduce(buckets []Bucket) OverallStats {
	stats := EmptyStats()
	for _, b := range buckets {
		if b.Avg == nil {
			continue
		}
		if stats.First == nil && b.First != nil {
			stats.First = ptr(*b.First)
		}
		if b.Last != nil {
			stats.Last = ptr(*b.Last)
		}
		stats.Min = math.Min(stats.Min, *b.Avg)
		stats.Max = math.Max(stats.Max, *b.Avg)
	}
	return stats
}

// Merge returns the union of s and other, used to size a shared viewport.
// s is taken to come before other: First is kept from s unless s has none, and
// Last is taken from other when it has one.
func (s OverallStats) Merge(other OverallStats) OverallStats {
	out := s
	out.Min = math.Min(s.Min, other.Min)
	out.Max = math.Max(s.Max, other.Max)
	if out.First == nil && other.First != nil {
		out.First = ptr(*other.First)
	}
	if other.Last != nil {
		out.Last = ptr(*other.Last)
	}
	return out
}

// MarshalJSON encodes the infinite sentinels as null.
func (s OverallStats) MarshalJSON() ([]byte, error) {
	type wire struct {
		Min   *float64 `json:"min"`
		Max   *float64 `json:"max"`
		First *float64 `json:"first"`
		Last  *float64 `json:"last"`
	}
	w := wire{First: s.First, Last: s.Last}
	if s.HasData() {
		w.Min, w.Max = ptr(s.Min), ptr(s.Max)
	}
	return json.Marshal(w)
}
