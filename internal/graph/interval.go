package graph

import (
	"math"
	"time"
)

// Interval is a half-open [Start, End) run in fractional bucket-index
// coordinates during which a boolean signal was true.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ExtractIntervals finds the runs where the boolean samples of stream are true
// within the window ending at now.
//
// A signal that is already true before the window starts is carried into it
// and its interval begins at the window edge. An interval still open when the
// stream ends is closed at numBuckets. Positions keep sub-bucket precision.
// Non-boolean samples are ignored.
func ExtractIntervals(stream Stream, numBuckets int, now time.Time) []Interval {
	if numBuckets <= 0 {
		numBuckets = DefaultNumBuckets
	}
	start := WindowStart(now)
	width := bucketWidth(numBuckets)
	limit := float64(numBuckets)

	var (
		intervals []Interval
		open      bool
		openAt    float64
	)
	emit := func(end float64) {
		intervals = append(intervals, Interval{
			Start: math.Max(openAt, 0),
			End:   math.Min(end, limit),
		})
		open = false
	}

	for _, s := range stream {
		on, ok := s.Value.Bool()
		if !ok {
			continue
		}
		pos := float64(s.Timestamp-start) / width

		if s.Timestamp < start {
			switch {
			case on && !open:
				open, openAt = true, pos
			case !on:
				open = false
			}
			continue
		}

		switch {
		case on && !open:
			open, openAt = true, pos
		case !on && open:
			emit(pos)
		}
	}
	if open {
		emit(limit)
	}

	return dropEmpty(intervals)
}

// dropEmpty removes intervals that collapsed to zero width after clamping,
// which happens for runs that ended before the window or began after it.
func dropEmpty(intervals []Interval) []Interval {
	out := intervals[:0]
	for _, iv := range intervals {
		if iv.End > iv.Start {
			out = append(out, iv)
		}
	}
	return out
}
