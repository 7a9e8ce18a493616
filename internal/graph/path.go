package graph

import (
	"math"
	"strconv"
	"strings"
)

// Op is a path drawing command.
type Op byte

const (
	OpMove  Op = 'M'
	OpLine  Op = 'L'
	OpClose Op = 'Z'
)

// PathCommand is one drawing step. X is in bucket-index space, Y in value space.
type PathCommand struct {
	Op Op
	X  float64
	Y  float64
}

// Path is an ordered list of drawing commands.
type Path []PathCommand

func (p Path) moveTo(x, y float64) Path { return append(p, PathCommand{Op: OpMove, X: x, Y: y}) }
func (p Path) lineTo(x, y float64) Path { return append(p, PathCommand{Op: OpLine, X: x, Y: y}) }
func (p Path) close() Path              { return append(p, PathCommand{Op: OpClose}) }

// String renders p as an SVG path description.
func (p Path) String() string {
	var sb strings.Builder
	for i, c := range p {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(byte(c.Op))
		if c.Op == OpClose {
			continue
		}
		sb.WriteString(formatCoord(c.X))
		sb.WriteByte(' ')
		sb.WriteString(formatCoord(c.Y))
	}
	return sb.String()
}

// MarshalText encodes p as its path description.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// offscreenFactor scales the observed span into a margin that keeps the
// opening and closing edges of a filled path below any viewport.
const offscreenFactor = 1000

// offscreenLow returns a y value far below both the data and a zero baseline.
func offscreenLow(stats OverallStats) float64 {
	span := stats.Max - stats.Min
	if span <= 0 {
		span = math.Max(math.Abs(stats.Min), 1)
	}
	return math.Min(stats.Min, 0) - span*offscreenFactor
}

// BuildSeriesPath builds a closed outline over x in [-1, len(buckets)] whose
// fill is the area under the bucket averages. Buckets without an average are
// bridged by a straight line between their neighbours. Stats without data
// produce an empty path.
func BuildSeriesPath(buckets []Bucket, stats OverallStats) Path {
	if !stats.HasData() || stats.First == nil || stats.Last == nil {
		return nil
	}
	low := offscreenLow(stats)
	n := float64(len(buckets))

	path := make(Path, 0, len(buckets)+5)
	path = path.moveTo(-1, low)
	path = path.lineTo(0, *stats.First)
	for i, b := range buckets {
		if b.Avg == nil {
			continue
		}
		path = path.lineTo(float64(i), *b.Avg)
	}
	path = path.lineTo(n, *stats.Last)
	path = path.lineTo(n, low)
	return path.close()
}
