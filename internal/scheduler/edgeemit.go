package scheduler

import (
	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/graphdef"
	"github.com/coryv/rustflow/internal/value"
)

// EdgeEmit returns a channelfabric.EdgeEmitFunc that republishes every
// edge send as an EdgeData event on bus, for the compiler's
// Options.EdgeEmit (spec.md §4.5). jobID is closed over since the
// fabric's callback signature has no job-scoping of its own.
func EdgeEmit(jobID string, bus *Bus) channelfabric.EdgeEmitFunc {
	return func(from, to graphdef.PortRef, seq uint64, v value.Value) {
		bus.Publish(Event{
			Type:  EventEdgeData,
			JobID: jobID,
			From:  from.String(),
			To:    to.String(),
			Seq:   seq,
			Value: v,
		})
	}
}
