// Package graph reduces entity state history into renderable history graphs.
//
// The package is pure: every function takes its input by value (including the
// reference time "now") and returns freshly allocated output. Callers rebuild
// graphs wholesale on every update instead of patching previous results.
package graph

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Window is the fixed lookback duration covered by a history graph.
const Window = 24 * time.Hour

// DefaultNumBuckets is the bucket count used when none is configured.
const DefaultNumBuckets = 100

// ValueKind tells which variant a Value holds.
type ValueKind uint8

const (
	KindNumber ValueKind = iota + 1
	KindBool
)

// Value is either a number or a boolean.
type Value struct {
	kind ValueKind
	num  float64
	b    bool
}

// NumberValue wraps a numeric state.
func NumberValue(v float64) Value {
	return Value{kind: KindNumber, num: v}
}

// BoolValue wraps a boolean state.
func BoolValue(v bool) Value {
	return Value{kind: KindBool, b: v}
}

// Kind returns the variant held by v.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Number returns the numeric value and whether v holds a number.
func (v Value) Number() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Bool returns the boolean value and whether v holds a boolean.
func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "<none>"
	}
}

// Sample is a single state observation.
type Sample struct {
	Timestamp int64 // milliseconds since epoch
	Value     Value
}

// Stream is a sequence of samples in ascending timestamp order.
//
// Every consumer in this package assumes the ordering holds. Behaviour on an
// out-of-order stream is undefined: samples are processed as they come and
// are never re-sorted.
type Stream []Sample

// WindowStart returns the first millisecond covered by a graph rendered at now.
func WindowStart(now time.Time) int64 {
	return now.UnixMilli() - Window.Milliseconds()
}

// bucketWidth returns the width of one bucket in milliseconds.
func bucketWidth(numBuckets int) float64 {
	return float64(Window.Milliseconds()) / float64(numBuckets)
}

var (
	trueStates  = []string{"on", "true", "open", "opening", "home", "detected", "playing", "unlocked"}
	falseStates = []string{"off", "false", "closed", "closing", "not_home", "clear", "idle", "locked"}
)

// ParseState converts a raw hub state string into a Value.
// States that are neither boolean-like nor numeric ("unavailable", "unknown")
// and non-finite numbers ("nan", "inf") are reported with ok=false.
func ParseState(state string) (v Value, ok bool) {
	s := strings.ToLower(strings.TrimSpace(state))
	for _, t := range trueStates {
		if s == t {
			return BoolValue(true), true
		}
	}
	for _, f := range falseStates {
		if s == f {
			return BoolValue(false), true
		}
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return Value{}, false
	}
	return NumberValue(n), true
}

// RawState is a state string as reported by the hub.
type RawState struct {
	Timestamp int64  `json:"ts"`
	State     string `json:"state"`
}

// ParseStates converts raw states with ParseState, dropping unparseable ones.
func ParseStates(raw []RawState) Stream {
	out := make(Stream, 0, len(raw))
	for _, r := range raw {
		if v, ok := ParseState(r.State); ok {
			out = append(out, Sample{Timestamp: r.Timestamp, Value: v})
		}
	}
	return out
}
