package scheduler

import (
	"sync"
	"time"

	"github.com/coryv/rustflow/internal/value"
)

// EventType tags the six event kinds a job emits: job start and finish,
// plus the four node and edge kinds of spec.md §4.5.
type EventType string

const (
	EventJobStart   EventType = "job.start"
	EventJobFinish  EventType = "job.finish"
	EventNodeStart  EventType = "node.start"
	EventNodeFinish EventType = "node.finish"
	EventNodeError  EventType = "node.error"
	EventEdgeData   EventType = "edge.data"
)

// Event is one observation published on a job's event bus. Not every
// field is populated for every Type: EdgeData carries From/To/Seq/Value,
// the node events carry NodeID and, for NodeError, Err.
type Event struct {
	Type      EventType
	Timestamp time.Time
	JobID     string
	NodeID    string
	From      string
	To        string
	Seq       uint64
	Value     value.Value
	Err       error
}

// Bus is a multi-producer, single... really multi-consumer broadcaster:
// every node task and the fabric's EdgeEmitFunc are producers, and any
// number of external observers (the WebSocket hub, a CLI progress
// printer, a test) may subscribe. Generalizes the pack's
// execution.monitor from a single *execution.Execution owner to a plain
// job-scoped broadcaster, since RustFlow has no persisted execution
// aggregate to attach it to.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	closed      bool
}

// subscriberCapacity is the per-subscriber buffer depth. A slow
// subscriber drops events rather than stalling a node task's producer
// goroutine (spec.md §4.5: "a slow subscriber must never be able to
// apply backpressure to the workflow itself").
const subscriberCapacity = 256

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make([]chan Event, 0)}
}

// Subscribe registers a new observer. The returned channel is closed
// when the bus is closed or Unsubscribe is called with it.
func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, subscriberCapacity)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes one subscription.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			close(sub)
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish broadcasts one event to every current subscriber without
// blocking: a full subscriber buffer causes that event to be dropped for
// that subscriber only, matching the teacher pack's non-blocking
// broadcast.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		select {
		case sub <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel. Safe to call once; a second
// call is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = nil
}
