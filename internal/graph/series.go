package graph

import "time"

// Series is one rendered curve built from a single entity's history.
type Series struct {
	ID      string       `json:"id"`
	Label   string       `json:"label,omitempty"`
	Color   string       `json:"color,omitempty"`
	Path    Path         `json:"path"`
	Stats   OverallStats `json:"stats"`
	Filled  bool         `json:"filled"`
	Focused bool         `json:"focused"`
}

// DisplayLabel returns the label series are grouped by, falling back to the ID.
func (s *Series) DisplayLabel() string {
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}

// SeriesSpec describes a series to build.
type SeriesSpec struct {
	ID      string
	Label   string
	Color   string
	Filled  bool
	Samples Stream
}

// NewSeries buckets the samples of spec and builds its path.
func NewSeries(spec SeriesSpec, numBuckets int, now time.Time) *Series {
	buckets := Bucketize(spec.Samples, numBuckets, now)
	stats := Reduce(buckets)
	return &Series{
		ID:     spec.ID,
		Label:  spec.Label,
		Color:  spec.Color,
		Path:   BuildSeriesPath(buckets, stats),
		Stats:  stats,
		Filled: spec.Filled,
	}
}
