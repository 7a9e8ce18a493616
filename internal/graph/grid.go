package graph

import (
	"math"

	"github.com/rs/zerolog/log"
)

// maxGridlines caps the gridlines emitted per axis.
const maxGridlines = 500

// Viewport is the visible coordinate range of a graph.
type Viewport struct {
	XMin float64 `json:"x_min"`
	XMax float64 `json:"x_max"`
	YMin float64 `json:"y_min"`
	YMax float64 `json:"y_max"`
}

// NewViewport sizes the viewport to stats. With baselineZero the bottom edge
// is 0 instead of the observed minimum. A flat or empty range is widened to a
// height of 1.
func NewViewport(stats OverallStats, numBuckets int, baselineZero bool) Viewport {
	vp := Viewport{XMin: 0, XMax: float64(numBuckets - 1)}
	if !stats.HasData() {
		vp.YMax = 1
		return vp
	}
	vp.YMin, vp.YMax = stats.Min, stats.Max
	if baselineZero {
		vp.YMin = 0
		vp.YMax = math.Max(vp.YMax, 0)
	}
	if vp.YMax <= vp.YMin {
		vp.YMax = vp.YMin + 1
	}
	return vp
}

// Gridline is a single straight line; Path holds its two endpoints.
type Gridline struct {
	Value float64 `json:"value"`
	Path  Path    `json:"path"`
}

// VerticalGridlines places a line every increment buckets strictly inside
// the bucket range.
func VerticalGridlines(vp Viewport, numBuckets int, increment float64) []Gridline {
	if increment <= 0 {
		return nil
	}
	var lines []Gridline
	for k := 1; ; k++ {
		x := float64(k) * increment
		if x >= float64(numBuckets) {
			break
		}
		if len(lines) == maxGridlines {
			log.Warn().Float64("increment", increment).Msg("Vertical gridlines truncated")
			break
		}
		lines = append(lines, Gridline{
			Value: x,
			Path:  Path{}.moveTo(x, vp.YMin).lineTo(x, vp.YMax),
		})
	}
	return lines
}

// HorizontalGridlines places a line at every multiple of increment within the
// viewport's value range. Lines span the whole path domain [-1, numBuckets].
func HorizontalGridlines(vp Viewport, numBuckets int, increment float64) []Gridline {
	if increment <= 0 {
		return nil
	}
	var lines []Gridline
	first := math.Ceil(vp.YMin/increment) * increment
	if first == 0 {
		first = 0 // normalise -0
	}
	for k := 0; ; k++ {
		y := first + float64(k)*increment
		if y > vp.YMax {
			break
		}
		if len(lines) == maxGridlines {
			log.Warn().Float64("increment", increment).Msg("Horizontal gridlines truncated")
			break
		}
		lines = append(lines, Gridline{
			Value: y,
			Path:  Path{}.moveTo(-1, y).lineTo(float64(numBuckets), y),
		})
	}
	return lines
}

// Label is a summary statistic shown next to a series.
type Label struct {
	Series string  `json:"series"`
	Kind   string  `json:"kind"`
	Value  float64 `json:"value"`
}

// SummaryLabels lists min, max, first and last for every series with data.
func SummaryLabels(series []*Series) []Label {
	var labels []Label
	for _, s := range series {
		if !s.Stats.HasData() {
			continue
		}
		labels = append(labels,
			Label{Series: s.ID, Kind: "min", Value: s.Stats.Min},
			Label{Series: s.ID, Kind: "max", Value: s.Stats.Max},
		)
		if s.Stats.First != nil {
			labels = append(labels, Label{Series: s.ID, Kind: "first", Value: *s.Stats.First})
		}
		if s.Stats.Last != nil {
			labels = append(labels, Label{Series: s.ID, Kind: "last", Value: *s.Stats.Last})
		}
	}
	return labels
}
