package graph

import "sync"

// Focus tracks the single foregrounded label of a graph.
// The zero value has nothing focused and is safe for concurrent use.
type Focus struct {
	mu    sync.Mutex
	label string
}

// Toggle focuses label, or clears the focus if label is already focused.
// It returns the label focused afterwards ("" when none).
func (f *Focus) Toggle(label string) string {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.label == label {
		f.label = ""
	} else {
		f.label = label
	}
	return f.label
}

// Focused returns the focused label, or "" when nothing is focused.
func (f *Focus) Focused() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.label
}

