// Package scheduler spawns one goroutine per compiled node ("node
// task"), wires a shared cancellation signal across the job, and
// broadcasts lifecycle and data events on a Bus (spec.md §4.5, §5).
// Generalizes the teacher's recursive, one-node-at-a-time
// WorkflowExecutor into RustFlow's concurrent, channel-driven model: the
// scheduler no longer decides what runs next, it only starts everything
// and lets the channel fabric's backpressure do the sequencing.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coryv/rustflow/internal/compiler"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/platform/logger"
	"github.com/coryv/rustflow/internal/platform/metrics"
)

// Status is the terminal or in-flight state of one job, per spec.md §3.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// NodeOutcome is one node task's terminal result, kept for the job
// summary returned to callers (spec.md §6).
type NodeOutcome struct {
	NodeID   string
	Err      error
	Duration time.Duration
}

// Result summarizes a finished job.
type Result struct {
	JobID     string
	Status    Status
	Outcomes  []NodeOutcome
	StartedAt time.Time
	EndedAt   time.Time
}

// Job owns one compiled graph's execution: a shared context, its
// cancel func, and the event bus every node task and the channel fabric
// publish to.
type Job struct {
	ID         string
	WorkflowID string
	Trigger    string
	Graph      *compiler.CompiledGraph
	Bus        *Bus
	Logger     logger.Logger
	Creds      noderuntime.CredentialResolver
	Metrics    *metrics.Metrics
	Tracer     trace.Tracer

	cancel context.CancelFunc
}

// Run spawns one goroutine per node in graph, waits for all of them to
// return, and reports the aggregate outcome. The job-wide context is
// derived from parent; any node returning a non-nil error triggers
// cancellation of every other in-flight node task (spec.md §5's single
// shared cancellation signal — see DESIGN.md's resolution of the
// broadcast-fan-out-under-crash open question).
func Run(parent context.Context, job *Job) *Result {
	ctx, cancel := context.WithCancel(parent)
	job.cancel = cancel
	defer cancel()

	started := time.Now()
	job.Bus.Publish(Event{Type: EventJobStart, JobID: job.ID, Timestamp: started})

	workflowID := job.WorkflowID
	if workflowID == "" {
		workflowID = job.ID
	}
	trigger := job.Trigger
	if trigger == "" {
		trigger = "unknown"
	}
	if job.Metrics != nil {
		job.Metrics.JobsTotal.WithLabelValues(workflowID, trigger).Inc()
		job.Metrics.JobsInProgress.WithLabelValues(workflowID).Inc()
		defer job.Metrics.JobsInProgress.WithLabelValues(workflowID).Dec()
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make([]NodeOutcome, 0, len(job.Graph.Nodes))
		failed   bool
		cancelledByUs bool
	)

	for _, n := range job.Graph.Nodes {
		wg.Add(1)
		go func(n *compiler.CompiledNode) {
			defer wg.Done()

			rc := &noderuntime.RunContext{
				JobID:       job.ID,
				NodeID:      n.ID,
				Logger:      job.Logger,
				Credentials: job.Creds,
			}

			nodeStart := time.Now()
			job.Bus.Publish(Event{Type: EventNodeStart, JobID: job.ID, NodeID: n.ID, Timestamp: nodeStart})

			nodeCtx := ctx
			var span trace.Span
			if job.Tracer != nil {
				nodeCtx, span = job.Tracer.Start(ctx, "node.run",
					trace.WithAttributes(
						attribute.String("rustflow.job_id", job.ID),
						attribute.String("rustflow.node_id", n.ID),
						attribute.String("rustflow.node_type", n.Type),
					),
				)
			}

			err := runNode(nodeCtx, n, rc)

			if span != nil {
				if err != nil {
					span.SetStatus(codes.Error, err.Error())
				}
				span.End()
			}

			// Every output this node owns must be closed once Run
			// returns, whether it succeeded, failed, or was
			// cancelled, so downstream nodes observe end-of-stream
			// rather than hanging forever (spec.md §4.3).
			for _, out := range n.Outputs {
				out.Close()
			}

			duration := time.Since(nodeStart)
			mu.Lock()
			outcomes = append(outcomes, NodeOutcome{NodeID: n.ID, Err: err, Duration: duration})
			if err != nil && ctx.Err() == nil {
				failed = true
			}
			mu.Unlock()

			if job.Metrics != nil {
				job.Metrics.NodeExecutionDuration.WithLabelValues(n.Type).Observe(duration.Seconds())
			}

			if err != nil {
				job.Bus.Publish(Event{Type: EventNodeError, JobID: job.ID, NodeID: n.ID, Timestamp: time.Now(), Err: err})
				if job.Metrics != nil {
					job.Metrics.NodeExecutionsTotal.WithLabelValues(n.Type, "error").Inc()
				}
				if ctx.Err() == nil {
					mu.Lock()
					cancelledByUs = true
					mu.Unlock()
					cancel()
				}
				return
			}
			if job.Metrics != nil {
				job.Metrics.NodeExecutionsTotal.WithLabelValues(n.Type, "success").Inc()
			}
			job.Bus.Publish(Event{Type: EventNodeFinish, JobID: job.ID, NodeID: n.ID, Timestamp: time.Now()})
		}(n)
	}

	wg.Wait()

	status := StatusCompleted
	switch {
	case failed:
		status = StatusFailed
	case parent.Err() != nil:
		status = StatusCancelled
	case cancelledByUs && ctx.Err() != nil && !failed:
		// A node returned ctx.Err() itself (observed cancellation)
		// rather than its own business error; still failed unless the
		// parent context is what cancelled it.
		status = StatusFailed
	}

	job.Bus.Publish(Event{Type: EventJobFinish, JobID: job.ID, Timestamp: time.Now()})

	if job.Metrics != nil {
		job.Metrics.JobDuration.WithLabelValues(workflowID).Observe(time.Since(started).Seconds())
		if status == StatusCompleted {
			job.Metrics.JobsCompleted.WithLabelValues(workflowID).Inc()
		} else {
			job.Metrics.JobsFailed.WithLabelValues(workflowID, string(status)).Inc()
		}
	}

	return &Result{
		JobID:     job.ID,
		Status:    status,
		Outcomes:  outcomes,
		StartedAt: started,
		EndedAt:   time.Now(),
	}
}

// runNode wraps one node's Run with a panic guard: an uncaught panic in
// user-supplied node logic (notably the "code" node's sandboxed
// evaluator) must surface as this node's failure, not crash the whole
// process (spec.md §7).
func runNode(ctx context.Context, n *compiler.CompiledNode, rc *noderuntime.RunContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node %q panicked: %v", n.ID, r)
		}
	}()
	return n.Node.Run(ctx, n.Inputs, n.Outputs, rc)
}
