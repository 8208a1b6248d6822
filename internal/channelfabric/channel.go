// Package channelfabric implements the bounded single-producer,
// single-consumer channels that carry Values along compiled edges, and
// the broadcast fan-out adapter used when one output port feeds more
// than one downstream edge.
package channelfabric

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/coryv/rustflow/internal/graphdef"
	"github.com/coryv/rustflow/internal/value"
)

// DefaultCapacity is the bounded queue depth used when an output port
// does not request a larger one.
const DefaultCapacity = 16

// Sender is the producer side of a channel.
type Sender interface {
	// Send blocks until there is room in the channel or the context is
	// cancelled, in which case it returns ctx.Err(). It does not detect a
	// receiver that has stopped reading; calling Send after Close panics.
	Send(ctx context.Context, v value.Value) error
	// Close signals end-of-stream to the receiver. Idempotent.
	Close()
}

// Receiver is the consumer side of a channel.
type Receiver interface {
	// Recv blocks until a value is available, the channel is closed and
	// drained (ok=false, err=nil), or ctx is cancelled (err=ctx.Err()).
	Recv(ctx context.Context) (v value.Value, ok bool, err error)
}

// Chan is a bounded FIFO queue: values delivered in send order, a
// blocking Send when full (backpressure), a blocking Recv when empty,
// and Close marking end-of-stream once buffered items drain.
type Chan struct {
	ch     chan value.Value
	closed atomic.Bool
}

// New creates a channel with the given capacity. A capacity of 0 or
// less falls back to DefaultCapacity.
func New(capacity int) *Chan {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Chan{ch: make(chan value.Value, capacity)}
}

func (c *Chan) Send(ctx context.Context, v value.Value) error {
	select {
	case c.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Chan) Recv(ctx context.Context) (value.Value, bool, error) {
	select {
	case v, ok := <-c.ch:
		if !ok {
			return value.Null, false, nil
		}
		return v, true, nil
	case <-ctx.Done():
		return value.Null, false, ctx.Err()
	}
}

// Close marks the channel closed. Safe to call more than once; safe to
// call concurrently with in-flight Recv calls (buffered items already in
// the channel are still delivered before Recv observes end-of-stream).
func (c *Chan) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.ch)
	}
}

// closedReceiver is the sentinel bound to an input port with no inbound
// edge (graph compiler step 4 in spec.md §4.4): Recv returns end-of-stream
// immediately, without suspending, matching spec.md §5's non-suspending
// closed-and-empty receive.
type closedReceiver struct{}

func (closedReceiver) Recv(ctx context.Context) (value.Value, bool, error) {
	return value.Null, false, nil
}

// ClosedReceiver returns the shared always-closed receiver.
func ClosedReceiver() Receiver { return closedReceiver{} }

// EdgeEmitFunc publishes one EdgeData observation. from/to are the
// fully-resolved port refs (node id + numeric index encoded as a
// string), seq is a monotonic per-edge sequence number recommended by
// spec.md §9's open question (for client-side dedup).
type EdgeEmitFunc func(from, to graphdef.PortRef, seq uint64, v value.Value)

// InstrumentedEdge wraps a Chan with EdgeData instrumentation: every Send
// first publishes an EdgeData event, synchronously on the sender's
// goroutine, and only then enqueues the value, so the event is published
// before the receiver can observe the value on its Recv. A send that is
// then aborted by cancellation has still been published.
type InstrumentedEdge struct {
	ch       *Chan
	from, to graphdef.PortRef
	seq      atomic.Uint64
	emit     EdgeEmitFunc
}

// NewEdge builds one point-to-point, EdgeData-instrumented edge. emit
// may be nil, in which case instrumentation is a no-op (the config
// toggle in spec.md §4.5).
func NewEdge(capacity int, from, to graphdef.PortRef, emit EdgeEmitFunc) *InstrumentedEdge {
	return &InstrumentedEdge{ch: New(capacity), from: from, to: to, emit: emit}
}

func (e *InstrumentedEdge) Send(ctx context.Context, v value.Value) error {
	if e.emit != nil {
		seq := e.seq.Add(1)
		e.emit(e.from, e.to, seq, v)
	}
	return e.ch.Send(ctx, v)
}

func (e *InstrumentedEdge) Recv(ctx context.Context) (value.Value, bool, error) {
	return e.ch.Recv(ctx)
}

func (e *InstrumentedEdge) Close() { e.ch.Close() }

// FanOut duplicates one output port's sequence to K >= 2 downstream
// edges. Per spec.md §4.2, a slow branch's full buffer stalls the whole
// fan-out: sends to branches proceed strictly in order and each is a
// normal blocking Send. A shared job cancellation (observed via ctx, see
// spec.md §5) aborts an in-flight fan-out send — under RustFlow's single
// shared-cancellation-signal model (spec.md §5) a branch failure fails
// the whole job, so there is no notion of "one branch cancelled, others
// still running" to special-case (see DESIGN.md's resolution of the
// broadcast-under-crash open question in spec.md §9).
type FanOut struct {
	branches []*InstrumentedEdge
}

// NewFanOut builds a fan-out over the given branch edges, each already
// constructed with its own from/to pair and capacity.
func NewFanOut(branches []*InstrumentedEdge) *FanOut {
	if len(branches) < 2 {
		panic(fmt.Sprintf("channelfabric: FanOut requires >= 2 branches, got %d", len(branches)))
	}
	return &FanOut{branches: branches}
}

func (f *FanOut) Send(ctx context.Context, v value.Value) error {
	for _, b := range f.branches {
		if err := b.Send(ctx, v.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f *FanOut) Close() {
	for _, b := range f.branches {
		b.Close()
	}
}

// Branches exposes the underlying per-branch receivers, used by the
// compiler to bind each downstream node's input port.
func (f *FanOut) Branches() []*InstrumentedEdge { return f.branches }
