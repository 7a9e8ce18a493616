// Package transform maps raw entity states to graph values with user-supplied
// Lua snippets.
//
// A snippet is the body of a function receiving the raw state string as
// `state` and the sample timestamp in milliseconds as `ts`. It returns a
// number, a boolean, a state string (parsed like any hub state) or nil to drop
// the sample:
//
//	return tonumber(state) / 1000
package transform

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/hadash/internal/graph"
)

// Transform is a compiled Lua state mapping. It is safe for concurrent use;
// calls are serialised on a single Lua VM.
type Transform struct {
	mu     sync.Mutex
	L      *lua.LState
	fn     *lua.LFunction
	source string
}

// Compile builds a Transform from a snippet. Syntax errors are reported here
// rather than on first use.
func Compile(source string) (*Transform, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	chunk := "return function(state, ts)\n" + source + "\nend"
	if err := L.DoString(chunk); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to compile transform: %w", err)
	}
	fn, ok := L.Get(-1).(*lua.LFunction)
	L.Pop(1)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("failed to compile transform: chunk did not yield a function")
	}

	return &Transform{L: L, fn: fn, source: source}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(source string) *Transform {
	t, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return t
}

// Apply maps a raw state. ok is false when the snippet dropped the sample.
func (t *Transform) Apply(state string, ts int64) (v graph.Value, ok bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.L.Push(t.fn)
	t.L.Push(lua.LString(state))
	t.L.Push(lua.LNumber(ts))
	if err := t.L.PCall(2, 1, nil); err != nil {
		return graph.Value{}, false, fmt.Errorf("transform failed: %w", err)
	}
	ret := t.L.Get(-1)
	t.L.Pop(1)

	switch r := ret.(type) {
	case lua.LNumber:
		n := float64(r)
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return graph.Value{}, false, nil
		}
		return graph.NumberValue(n), true, nil
	case lua.LBool:
		return graph.BoolValue(bool(r)), true, nil
	case lua.LString:
		v, ok := graph.ParseState(string(r))
		return v, ok, nil
	case *lua.LNilType:
		return graph.Value{}, false, nil
	default:
		return graph.Value{}, false, fmt.Errorf("transform returned unsupported %s", ret.Type())
	}
}

// Stream maps raw states, dropping samples the snippet rejects. Samples the
// snippet fails on are logged and skipped.
func (t *Transform) Stream(raw []graph.RawState) graph.Stream {
	out := make(graph.Stream, 0, len(raw))
	for _, r := range raw {
		v, ok, err := t.Apply(r.State, r.Timestamp)
		if err != nil {
			log.Debug().
				Err(err).
				Str("state", r.State).
				Str("transform", t.source).
				Msg("Transform rejected sample")
			continue
		}
		if ok {
			out = append(out, graph.Sample{Timestamp: r.Timestamp, Value: v})
		}
	}
	return out
}

// Close releases the Lua VM.
func (t *Transform) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.L.Close()
}
