package compiler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/compiler"
	"github.com/coryv/rustflow/internal/graphdef"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// passthroughNode copies everything on input 0 to output 0 until its
// input closes, then returns. Used to exercise the compiler without
// depending on the built-in node library.
type passthroughNode struct {
	meta noderuntime.Metadata
}

func newPassthrough(isTrigger bool) noderuntime.Factory {
	return func() noderuntime.Node {
		return &passthroughNode{meta: noderuntime.Metadata{
			Type:      "passthrough",
			IsTrigger: isTrigger,
			Inputs:    []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
			Outputs: []noderuntime.PortDefinition{
				{Name: "out", Role: "success"},
				{Name: "err", Role: "error"},
			},
		}}
	}
}

func (n *passthroughNode) Metadata() noderuntime.Metadata { return n.meta }

func (n *passthroughNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	if v, ok := config["fail"]; ok && v == true {
		return assertError{}
	}
	return nil
}

type assertError struct{}

func (assertError) Error() string { return "configured to fail" }

func (n *passthroughNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	for {
		v, ok, err := inputs[0].Recv(ctx)
		if err != nil || !ok {
			return err
		}
		if err := outputs[0].Send(ctx, v); err != nil {
			return err
		}
	}
}

func newTestRegistry() *noderuntime.Registry {
	reg := noderuntime.NewRegistry()
	_ = reg.Register("trigger", newPassthrough(true))
	_ = reg.Register("step", newPassthrough(false))
	return reg
}

func TestCompileRejectsDuplicateNodeIDs(t *testing.T) {
	def := &graphdef.WorkflowDef{
		Nodes: []graphdef.NodeSpec{
			{ID: "a", Type: "trigger"},
			{ID: "a", Type: "step"},
		},
	}
	_, err := compiler.Compile(def, compiler.Options{Registry: newTestRegistry()})
	require.Error(t, err)
	var cerr *compiler.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, compiler.KindDuplicateID, cerr.Kind)
}

func TestCompileRejectsUnknownNodeType(t *testing.T) {
	def := &graphdef.WorkflowDef{
		Nodes: []graphdef.NodeSpec{{ID: "a", Type: "does-not-exist"}},
	}
	_, err := compiler.Compile(def, compiler.Options{Registry: newTestRegistry()})
	require.Error(t, err)
	var cerr *compiler.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, compiler.KindUnknownNodeType, cerr.Kind)
}

func TestCompileRejectsDanglingEdge(t *testing.T) {
	def := &graphdef.WorkflowDef{
		Nodes: []graphdef.NodeSpec{{ID: "a", Type: "trigger"}},
		Edges: []graphdef.Edge{
			{From: graphdef.PortRef{NodeID: "a", Raw: "success"}, To: graphdef.PortRef{NodeID: "missing", Raw: "in"}},
		},
	}
	_, err := compiler.Compile(def, compiler.Options{Registry: newTestRegistry()})
	require.Error(t, err)
	var cerr *compiler.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, compiler.KindBadEdge, cerr.Kind)
}

func TestCompileFallsBackToPortZeroForUnknownPortName(t *testing.T) {
	def := &graphdef.WorkflowDef{
		Nodes: []graphdef.NodeSpec{
			{ID: "a", Type: "trigger"},
			{ID: "b", Type: "step"},
		},
		Edges: []graphdef.Edge{
			{From: graphdef.PortRef{NodeID: "a", Raw: "bogus-port"}, To: graphdef.PortRef{NodeID: "b", Raw: "in"}},
		},
	}
	_, err := compiler.Compile(def, compiler.Options{Registry: newTestRegistry()})
	require.NoError(t, err, "an unresolved name on a node with ports falls back to index 0, per spec.md §4.1")
}

func TestCompileRejectsOverSubscribedInputPort(t *testing.T) {
	def := &graphdef.WorkflowDef{
		Nodes: []graphdef.NodeSpec{
			{ID: "a", Type: "trigger"},
			{ID: "b", Type: "trigger"},
			{ID: "c", Type: "step"},
		},
		Edges: []graphdef.Edge{
			{From: graphdef.PortRef{NodeID: "a", Raw: "success"}, To: graphdef.PortRef{NodeID: "c", Raw: "in"}},
			{From: graphdef.PortRef{NodeID: "b", Raw: "success"}, To: graphdef.PortRef{NodeID: "c", Raw: "in"}},
		},
	}
	_, err := compiler.Compile(def, compiler.Options{Registry: newTestRegistry()})
	require.Error(t, err)
	var cerr *compiler.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, compiler.KindBadEdge, cerr.Kind)
}

func TestCompileRejectsCycle(t *testing.T) {
	def := &graphdef.WorkflowDef{
		Nodes: []graphdef.NodeSpec{
			{ID: "a", Type: "step"},
			{ID: "b", Type: "step"},
		},
		Edges: []graphdef.Edge{
			{From: graphdef.PortRef{NodeID: "a", Raw: "success"}, To: graphdef.PortRef{NodeID: "b", Raw: "in"}},
			{From: graphdef.PortRef{NodeID: "b", Raw: "success"}, To: graphdef.PortRef{NodeID: "a", Raw: "in"}},
		},
	}
	_, err := compiler.Compile(def, compiler.Options{Registry: newTestRegistry()})
	require.Error(t, err)
	var cerr *compiler.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, compiler.KindCycle, cerr.Kind)
}

func TestCompileRejectsTriggerWithInboundEdge(t *testing.T) {
	def := &graphdef.WorkflowDef{
		Nodes: []graphdef.NodeSpec{
			{ID: "a", Type: "step"},
			{ID: "b", Type: "trigger"},
		},
		Edges: []graphdef.Edge{
			{From: graphdef.PortRef{NodeID: "a", Raw: "success"}, To: graphdef.PortRef{NodeID: "b", Raw: "in"}},
		},
	}
	_, err := compiler.Compile(def, compiler.Options{Registry: newTestRegistry()})
	require.Error(t, err)
	var cerr *compiler.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, compiler.KindBadEdge, cerr.Kind)
}

func TestCompileSurfacesConfigError(t *testing.T) {
	def := &graphdef.WorkflowDef{
		Nodes: []graphdef.NodeSpec{
			{ID: "a", Type: "trigger", Config: map[string]interface{}{"fail": true}},
		},
	}
	_, err := compiler.Compile(def, compiler.Options{Registry: newTestRegistry()})
	require.Error(t, err)
	var cerr *compiler.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, compiler.KindConfigError, cerr.Kind)
}

func TestCompileBuildsSinglePointToPointEdge(t *testing.T) {
	def := &graphdef.WorkflowDef{
		Nodes: []graphdef.NodeSpec{
			{ID: "a", Type: "trigger"},
			{ID: "b", Type: "step"},
		},
		Edges: []graphdef.Edge{
			{From: graphdef.PortRef{NodeID: "a", Raw: "success"}, To: graphdef.PortRef{NodeID: "b", Raw: "in"}},
		},
	}
	graph, err := compiler.Compile(def, compiler.Options{Registry: newTestRegistry()})
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 2)

	var a, b *compiler.CompiledNode
	for _, n := range graph.Nodes {
		switch n.ID {
		case "a":
			a = n
		case "b":
			b = n
		}
	}
	require.NotNil(t, a)
	require.NotNil(t, b)

	ctx := context.Background()
	require.NoError(t, a.Outputs[0].Send(ctx, value.String("hi")))
	v, ok, err := b.Inputs[0].Recv(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	s, _ := v.String()
	assert.Equal(t, "hi", s)
}

func TestCompileBuildsFanOutForMultipleOutboundEdges(t *testing.T) {
	def := &graphdef.WorkflowDef{
		Nodes: []graphdef.NodeSpec{
			{ID: "a", Type: "trigger"},
			{ID: "b", Type: "step"},
			{ID: "c", Type: "step"},
		},
		Edges: []graphdef.Edge{
			{From: graphdef.PortRef{NodeID: "a", Raw: "success"}, To: graphdef.PortRef{NodeID: "b", Raw: "in"}},
			{From: graphdef.PortRef{NodeID: "a", Raw: "success"}, To: graphdef.PortRef{NodeID: "c", Raw: "in"}},
		},
	}
	graph, err := compiler.Compile(def, compiler.Options{Registry: newTestRegistry()})
	require.NoError(t, err)

	byID := map[string]*compiler.CompiledNode{}
	for _, n := range graph.Nodes {
		byID[n.ID] = n
	}

	ctx := context.Background()
	require.NoError(t, byID["a"].Outputs[0].Send(ctx, value.Number(7)))

	for _, id := range []string{"b", "c"} {
		v, ok, err := byID[id].Inputs[0].Recv(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		n, _ := v.Number()
		assert.Equal(t, float64(7), n)
	}
}

func TestCompileReportsUnreachableNodeAsWarningNotError(t *testing.T) {
	def := &graphdef.WorkflowDef{
		Nodes: []graphdef.NodeSpec{
			{ID: "a", Type: "trigger"},
			{ID: "isolated", Type: "step"},
		},
	}
	graph, err := compiler.Compile(def, compiler.Options{Registry: newTestRegistry()})
	require.NoError(t, err)
	require.NotEmpty(t, graph.Warnings)
}

func TestCompileRoundTripsThroughSerialization(t *testing.T) {
	def := &graphdef.WorkflowDef{
		Nodes: []graphdef.NodeSpec{
			{ID: "a", Type: "trigger"},
			{ID: "b", Type: "step"},
		},
		Edges: []graphdef.Edge{
			{From: graphdef.PortRef{NodeID: "a", Raw: "success"}, To: graphdef.PortRef{NodeID: "b", Raw: "in"}},
		},
	}
	doc, err := graphdef.Marshal(def)
	require.NoError(t, err)

	reparsed, err := graphdef.Parse(doc)
	require.NoError(t, err)

	graph, err := compiler.Compile(reparsed, compiler.Options{Registry: newTestRegistry()})
	require.NoError(t, err)
	assert.Len(t, graph.Nodes, 2)
}
