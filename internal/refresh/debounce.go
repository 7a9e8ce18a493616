package refresh

import (
	"sync"
	"time"
)

// Debouncer calls onFlush for a key once no Add for that key happened during
// the quiet period. Each key has its own timer.
type Debouncer struct {
	mu      sync.Mutex
	quiet   time.Duration
	timers  map[string]pendingKey
	nextGen uint64
	onFlush func(key string)
	closed  bool
}

type pendingKey struct {
	timer *time.Timer
	gen   uint64
}

// NewDebouncer creates a new Debouncer
func NewDebouncer(quiet time.Duration, onFlush func(key string)) *Debouncer {
	return &Debouncer{
		quiet:   quiet,
		timers:  make(map[string]pendingKey),
		onFlush: onFlush,
	}
}

// Add records activity for key and restarts its quiet timer
func (d *Debouncer) Add(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	if p, ok := d.timers[key]; ok {
		p.timer.Stop()
	}
	d.nextGen++
	gen := d.nextGen
	d.timers[key] = pendingKey{
		timer: time.AfterFunc(d.quiet, func() { d.flush(key, gen) }),
		gen:   gen,
	}
}

func (d *Debouncer) flush(key string, gen uint64) {
	d.mu.Lock()
	// A timer that fired while Add replaced it is stale
	if d.closed || d.timers[key].gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.timers, key)
	d.mu.Unlock()

	d.onFlush(key)
}

// Pending returns the number of keys waiting for their quiet period.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Close stops all timers. Pending keys are not flushed.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	for key, p := range d.timers {
		p.timer.Stop()
		delete(d.timers, key)
	}
}
