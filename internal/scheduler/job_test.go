package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/compiler"
	"github.com/coryv/rustflow/internal/graphdef"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/platform/logger"
	"github.com/coryv/rustflow/internal/platform/metrics"
	"github.com/coryv/rustflow/internal/scheduler"
	"github.com/coryv/rustflow/internal/value"
)

// nullLogger discards everything; tests don't assert on log output.
type nullLogger struct{}

func (nullLogger) Debug(string, ...interface{})                  {}
func (nullLogger) Info(string, ...interface{})                   {}
func (nullLogger) Warn(string, ...interface{})                   {}
func (nullLogger) Error(string, ...interface{})                  {}
func (nullLogger) Fatal(string, ...interface{})                  {}
func (nullLogger) WithFields(map[string]interface{}) logger.Logger { return nullLogger{} }
func (nullLogger) WithContext(context.Context) logger.Logger       { return nullLogger{} }

type emitOnceNode struct {
	n    int
	fail bool
}

func (e *emitOnceNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:      "emit",
		IsTrigger: true,
		Outputs:   []noderuntime.PortDefinition{{Name: "out", Role: "success"}},
	}
}

func (e *emitOnceNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	return nil
}

func (e *emitOnceNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	if e.fail {
		return errors.New("boom")
	}
	for i := 0; i < e.n; i++ {
		if err := outputs[0].Send(ctx, value.Number(float64(i))); err != nil {
			return err
		}
	}
	return nil
}

type collectNode struct {
	mu  sync.Mutex
	got []float64
}

func (c *collectNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:   "collect",
		Inputs: []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
	}
}

func (c *collectNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	return nil
}

func (c *collectNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	for {
		v, ok, err := inputs[0].Recv(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		n, _ := v.Number()
		c.mu.Lock()
		c.got = append(c.got, n)
		c.mu.Unlock()
	}
}

func buildGraph(t *testing.T, emit *emitOnceNode, collect *collectNode, bus *scheduler.Bus) *compiler.CompiledGraph {
	t.Helper()
	reg := noderuntime.NewRegistry()
	require.NoError(t, reg.Register("emit", func() noderuntime.Node { return emit }))
	require.NoError(t, reg.Register("collect", func() noderuntime.Node { return collect }))

	def := &graphdef.WorkflowDef{
		Nodes: []graphdef.NodeSpec{
			{ID: "src", Type: "emit"},
			{ID: "dst", Type: "collect"},
		},
		Edges: []graphdef.Edge{
			{From: graphdef.PortRef{NodeID: "src", Raw: "success"}, To: graphdef.PortRef{NodeID: "dst", Raw: "in"}},
		},
	}
	graph, err := compiler.Compile(def, compiler.Options{
		Registry: reg,
		EdgeEmit: scheduler.EdgeEmit("job-1", bus),
	})
	require.NoError(t, err)
	return graph
}

func TestJobRunDeliversAllValuesAndCompletes(t *testing.T) {
	bus := scheduler.NewBus()
	emit := &emitOnceNode{n: 5}
	collect := &collectNode{}
	graph := buildGraph(t, emit, collect, bus)

	job := &scheduler.Job{ID: "job-1", Graph: graph, Bus: bus, Logger: nullLogger{}}
	result := scheduler.Run(context.Background(), job)

	assert.Equal(t, scheduler.StatusCompleted, result.Status)
	assert.Len(t, collect.got, 5)
}

func TestJobRunFailsWhenANodeErrors(t *testing.T) {
	bus := scheduler.NewBus()
	emit := &emitOnceNode{fail: true}
	collect := &collectNode{}
	graph := buildGraph(t, emit, collect, bus)

	job := &scheduler.Job{ID: "job-2", Graph: graph, Bus: bus, Logger: nullLogger{}}
	result := scheduler.Run(context.Background(), job)

	assert.Equal(t, scheduler.StatusFailed, result.Status)
}

func TestJobRunPublishesLifecycleEvents(t *testing.T) {
	bus := scheduler.NewBus()
	sub := bus.Subscribe()
	emit := &emitOnceNode{n: 2}
	collect := &collectNode{}
	graph := buildGraph(t, emit, collect, bus)

	job := &scheduler.Job{ID: "job-3", Graph: graph, Bus: bus, Logger: nullLogger{}}

	done := make(chan struct{})
	var events []scheduler.Event
	go func() {
		for ev := range sub {
			events = append(events, ev)
		}
		close(done)
	}()

	scheduler.Run(context.Background(), job)
	bus.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber channel never closed")
	}

	var sawJobStart, sawJobFinish, sawEdgeData bool
	for _, ev := range events {
		switch ev.Type {
		case scheduler.EventJobStart:
			sawJobStart = true
		case scheduler.EventJobFinish:
			sawJobFinish = true
		case scheduler.EventEdgeData:
			sawEdgeData = true
		}
	}
	assert.True(t, sawJobStart)
	assert.True(t, sawJobFinish)
	assert.True(t, sawEdgeData)
}

func TestJobRunRecordsMetricsWhenConfigured(t *testing.T) {
	bus := scheduler.NewBus()
	emit := &emitOnceNode{n: 3}
	collect := &collectNode{}
	graph := buildGraph(t, emit, collect, bus)

	m := metrics.NewMetrics("rustflow_scheduler_test")
	job := &scheduler.Job{ID: "job-4", Graph: graph, Bus: bus, Logger: nullLogger{}, Metrics: m}
	result := scheduler.Run(context.Background(), job)

	assert.Equal(t, scheduler.StatusCompleted, result.Status)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.JobsCompleted.WithLabelValues("job-4")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NodeExecutionsTotal.WithLabelValues("emit", "success")))
}
