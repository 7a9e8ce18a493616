package graph

import (
	"math"
	"time"
)

// Bucket aggregates the numeric samples of one fixed-width time slot.
// A nil statistic means no value, which is distinct from zero.
type Bucket struct {
	Start int64    `json:"start"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Avg   *float64 `json:"avg"`
	First *float64 `json:"first"`
	Last  *float64 `json:"last"`
}

// accumulator collects samples for the currently open bucket.
type accumulator struct {
	count       int
	sum         float64
	min, max    float64
	first, last float64
}

func (a *accumulator) add(v float64) {
	if a.count == 0 {
		a.min, a.max, a.first = v, v, v
	} else {
		a.min = math.Min(a.min, v)
		a.max = math.Max(a.max, v)
	}
	a.sum += v
	a.last = v
	a.count++
}

// close writes the aggregates into b. A bucket that saw no numeric samples
// takes the value carried over from earlier buckets, if any.
func (a *accumulator) close(b *Bucket, carry *float64) {
	if a.count == 0 {
		if carry == nil {
			return
		}
		b.Min, b.Max, b.Avg, b.First, b.Last = ptr(*carry), ptr(*carry), ptr(*carry), ptr(*carry), ptr(*carry)
		return
	}
	b.Min = ptr(a.min)
	b.Max = ptr(a.max)
	b.Avg = ptr(a.sum / float64(a.count))
	b.First = ptr(a.first)
	b.Last = ptr(a.last)
}

// Bucketize splits the window ending at now into numBuckets equal slots and
// aggregates the numeric samples of stream into them.
//
// Exactly numBuckets buckets are returned. Samples older than the window are
// skipped, as are samples at or after now. Boolean samples do not contribute
// to the aggregates, but they do open their bucket, which then falls back to
// the last numeric value seen. Buckets no sample ever landed in keep all
// statistics nil.
func Bucketize(stream Stream, numBuckets int, now time.Time) []Bucket {
	if numBuckets <= 0 {
		numBuckets = DefaultNumBuckets
	}
	start := WindowStart(now)
	width := bucketWidth(numBuckets)
	windowMs := Window.Milliseconds()

	buckets := make([]Bucket, numBuckets)
	for i := range buckets {
		buckets[i].Start = start + int64(i)*windowMs/int64(numBuckets)
	}

	var (
		open  = -1
		acc   accumulator
		carry *float64
	)
	closeOpen := func() {
		if open < 0 {
			return
		}
		acc.close(&buckets[open], carry)
		if buckets[open].Last != nil {
			carry = ptr(*buckets[open].Last)
		}
	}

	for _, s := range stream {
		if s.Timestamp < start {
			continue
		}
		idx := int(math.Floor(float64(s.Timestamp-start) / width))
		if idx >= numBuckets {
			continue
		}
		if idx > open {
			closeOpen()
			open = idx
			acc = accumulator{}
		}
		if v, ok := s.Value.Number(); ok {
			acc.add(v)
		}
	}
	closeOpen()

	return buckets
}

func ptr(v float64) *float64 {
	return &v
}
