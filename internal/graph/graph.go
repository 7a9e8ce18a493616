package graph

import (
	"time"
)

// Options is the rendering configuration of a graph.
type Options struct {
	NumBuckets         int
	ShowLabels         bool
	XAxisGridIncrement *float64 // buckets between vertical gridlines
	YAxisGridIncrement *float64 // value units between horizontal gridlines
	SetBaselineToZero  bool
}

func (o Options) numBuckets() int {
	if o.NumBuckets <= 0 {
		return DefaultNumBuckets
	}
	return o.NumBuckets
}

// AnnotationSpec describes an annotation to build from a boolean stream.
type AnnotationSpec struct {
	ID      string
	Label   string
	Samples Stream
}

// Request holds everything a graph is built from.
type Request struct {
	Series      []SeriesSpec
	Annotations []AnnotationSpec
	Focus       string
	Now         time.Time
}

// Graph is a fully built history graph ready for a rendering layer.
type Graph struct {
	NumBuckets  int          `json:"num_buckets"`
	WindowStart int64        `json:"window_start"`
	WindowEnd   int64        `json:"window_end"`
	Viewport    Viewport     `json:"viewport"`
	Stats       OverallStats `json:"stats"`
	Groups      []*Group     `json:"groups"`
	Annotations []Annotation `json:"annotations"`
	XGridlines  []Gridline   `json:"x_gridlines,omitempty"`
	YGridlines  []Gridline   `json:"y_gridlines,omitempty"`
	Labels      []Label      `json:"labels,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	Focused     string       `json:"focused,omitempty"`
	Unavailable bool         `json:"unavailable"`
}

// Build turns req into a Graph. Identical options and requests (including
// Now) always produce identical output.
func Build(opts Options, req Request) *Graph {
	n := opts.numBuckets()

	series := make([]*Series, 0, len(req.Series))
	stats := EmptyStats()
	for _, spec := range req.Series {
		s := NewSeries(spec, n, req.Now)
		stats = stats.Merge(s.Stats)
		series = append(series, s)
	}

	vp := NewViewport(stats, n, opts.SetBaselineToZero)

	// Annotations span the visible value range rather than a single series.
	band := OverallStats{Min: vp.YMin, Max: vp.YMax}
	annotations := make([]Annotation, 0, len(req.Annotations))
	for _, spec := range req.Annotations {
		intervals := ExtractIntervals(spec.Samples, n, req.Now)
		annotations = append(annotations, Annotation{
			ID:        spec.ID,
			Label:     spec.Label,
			Intervals: intervals,
			Path:      BuildAnnotationPath(intervals, band, n),
		})
	}

	comp := Compose(series, req.Focus)

	g := &Graph{
		NumBuckets:  n,
		WindowStart: WindowStart(req.Now),
		WindowEnd:   req.Now.UnixMilli(),
		Viewport:    vp,
		Stats:       stats,
		Groups:      comp.Groups,
		Annotations: annotations,
		Diagnostics: comp.Diagnostics,
		Unavailable: !stats.HasData(),
	}
	for _, grp := range comp.Groups {
		if grp.Focused {
			g.Focused = grp.Label
		}
	}
	if opts.XAxisGridIncrement != nil {
		g.XGridlines = VerticalGridlines(vp, n, *opts.XAxisGridIncrement)
	}
	if opts.YAxisGridIncrement != nil {
		g.YGridlines = HorizontalGridlines(vp, n, *opts.YAxisGridIncrement)
	}
	if opts.ShowLabels {
		g.Labels = SummaryLabels(series)
	}
	return g
}
