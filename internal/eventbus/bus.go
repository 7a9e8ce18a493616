package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event announces that new states were stored for an entity
type Event struct {
	EntityID string
	BatchID  string
	States   int
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// subscriber is one registered handler
type subscriber struct {
	id      uint64
	handler Handler
}

// Subscription is the handle returned by Subscribe. The handler stays
// registered until Dispose is called.
type Subscription struct {
	bus      *Bus
	entityID string
	id       uint64
	once     sync.Once
}

// Dispose unregisters the handler. Events already queued may still be
// delivered. Calling Dispose more than once is a no-op.
func (s *Subscription) Dispose() {
	s.once.Do(func() {
		s.bus.unsubscribe(s.entityID, s.id)
	})
}

// Bus provides event routing with a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscriber // entity id ("" = all entities) -> subscribers
	nextID   uint64

	// Worker pool
	workQueue chan work
	wg        sync.WaitGroup

	// Shutdown signaling - closing this channel signals publishers to stop
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	b := &Bus{
		handlers:  make(map[string][]subscriber),
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
	}

	// Start worker pool
	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker processes events from the work queue
func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("entity", w.event.EntityID).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for updates of one entity. An empty entityID
// subscribes to every entity.
func (b *Bus) Subscribe(entityID string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[entityID] = append(b.handlers[entityID], subscriber{id: id, handler: handler})

	return &Subscription{bus: b, entityID: entityID, id: id}
}

func (b *Bus) unsubscribe(entityID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[entityID]
	for i, s := range subs {
		if s.id == id {
			// Copy so slices captured by in-flight Publish calls stay intact
			next := make([]subscriber, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.handlers[entityID] = next
			break
		}
	}
	if len(b.handlers[entityID]) == 0 {
		delete(b.handlers, entityID)
	}
}

// Subscribers returns the number of handlers registered for entityID.
func (b *Bus) Subscribers(entityID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[entityID])
}

// Publish sends an event to all subscribed handlers.
// Non-blocking: if the work queue is full or bus is closing, events are dropped.
// The read lock is held while queueing so Close cannot close the queue under us.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.closing:
		log.Warn().Str("entity", event.EntityID).Msg("Event bus closing, dropping event")
		return
	default:
	}

	subs := b.handlers[event.EntityID]
	if event.EntityID != "" {
		subs = append(subs[:len(subs):len(subs)], b.handlers[""]...)
	}

	for _, s := range subs {
		select {
		case b.workQueue <- work{event: event, handler: s.handler}:
			// Successfully queued
		default:
			// Queue full - drop event with warning
			log.Warn().
				Str("entity", event.EntityID).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close shuts down the worker pool gracefully.
// First signals publishers to stop, then closes the work queue and waits for workers.
func (b *Bus) Close(ctx context.Context) {
	first := false
	b.closeOnce.Do(func() {
		close(b.closing)
		first = true
	})
	if !first {
		return
	}

	// Wait for in-flight Publish calls before closing the queue
	b.mu.Lock()
	close(b.workQueue)
	b.mu.Unlock()

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
