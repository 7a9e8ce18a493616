package graph

// Annotation highlights the intervals where a boolean entity was active.
type Annotation struct {
	ID        string     `json:"id"`
	Label     string     `json:"label,omitempty"`
	Intervals []Interval `json:"intervals"`
	Path      Path       `json:"path"`
}

// BuildAnnotationPath builds a path that spans the full value range of stats
// inside each interval and collapses to stats.Min everywhere else. The path
// starts at x=-1 and ends at x=numBuckets, just outside the visible buckets.
func BuildAnnotationPath(intervals []Interval, stats OverallStats, numBuckets int) Path {
	if len(intervals) == 0 || !stats.HasData() {
		return nil
	}
	lo, hi := stats.Min, stats.Max

	path := make(Path, 0, 4*len(intervals)+3)
	path = path.moveTo(-1, lo)
	for _, iv := range intervals {
		path = path.lineTo(iv.Start, lo)
		path = path.lineTo(iv.Start, hi)
		path = path.lineTo(iv.End, hi)
		path = path.lineTo(iv.End, lo)
	}
	path = path.lineTo(float64(numBuckets), lo)
	return path.close()
}
