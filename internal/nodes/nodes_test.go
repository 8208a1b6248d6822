package nodes_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coryv/rustflow/internal/channelfabric"
	_ "github.com/coryv/rustflow/internal/nodes"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/platform/logger"
	"github.com/coryv/rustflow/internal/value"
)

func newNode(t *testing.T, typeTag string, config map[string]interface{}) noderuntime.Node {
	t.Helper()
	n, err := noderuntime.Global.New(typeTag)
	require.NoError(t, err)
	require.NoError(t, n.Configure(config, nil))
	return n
}

func runNode(t *testing.T, n noderuntime.Node, inputs, outputs []*channelfabric.Chan) error {
	t.Helper()
	recv := make([]channelfabric.Receiver, len(inputs))
	for i, c := range inputs {
		recv[i] = c
	}
	send := make([]channelfabric.Sender, len(outputs))
	for i, c := range outputs {
		send[i] = c
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return n.Run(ctx, recv, send, &noderuntime.RunContext{JobID: "t", NodeID: "n", Logger: nullLogger{}})
}

type nullLogger struct{}

func (nullLogger) Debug(string, ...interface{})                    {}
func (nullLogger) Info(string, ...interface{})                     {}
func (nullLogger) Warn(string, ...interface{})                     {}
func (nullLogger) Error(string, ...interface{})                    {}
func (nullLogger) Fatal(string, ...interface{})                    {}
func (nullLogger) WithFields(map[string]interface{}) logger.Logger { return nullLogger{} }
func (nullLogger) WithContext(context.Context) logger.Logger       { return nullLogger{} }

func TestSetDataManualMode(t *testing.T) {
	n := newNode(t, "set_data", map[string]interface{}{
		"mode": "manual",
		"values": []interface{}{
			map[string]interface{}{"name": "greeting", "value": "hello {{$json.name}}", "type": "string"},
		},
	})

	in := channelfabric.New(1)
	out := channelfabric.New(1)
	in.Send(context.Background(), value.FromGo(map[string]interface{}{"name": "world"}))
	in.Close()

	require.NoError(t, runNode(t, n, []*channelfabric.Chan{in}, []*channelfabric.Chan{out}))

	v, ok, err := out.Recv(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	m := v.ToGo().(map[string]interface{})
	assert.Equal(t, "hello world", m["greeting"])
}

func TestRouterBooleanMode(t *testing.T) {
	n := newNode(t, "router", map[string]interface{}{
		"mode": "boolean",
		"conditions": []interface{}{
			map[string]interface{}{"field": "age", "operator": "greaterThan", "value": 18},
		},
	})

	in := channelfabric.New(1)
	trueOut := channelfabric.New(1)
	falseOut := channelfabric.New(1)
	in.Send(context.Background(), value.FromGo(map[string]interface{}{"age": 30}))
	in.Close()

	require.NoError(t, runNode(t, n, []*channelfabric.Chan{in}, []*channelfabric.Chan{trueOut, falseOut, channelfabric.New(1), channelfabric.New(1), channelfabric.New(1)}))

	_, ok, err := trueOut.Recv(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDelayForwardsAfterDuration(t *testing.T) {
	n := newNode(t, "delay", map[string]interface{}{"amount": 1, "unit": "milliseconds"})

	in := channelfabric.New(1)
	out := channelfabric.New(1)
	in.Send(context.Background(), value.Number(42))
	in.Close()

	require.NoError(t, runNode(t, n, []*channelfabric.Chan{in}, []*channelfabric.Chan{out}))

	v, ok, err := out.Recv(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	num, _ := v.Number()
	assert.Equal(t, float64(42), num)
}

func TestMergeAppendMode(t *testing.T) {
	n := newNode(t, "merge", map[string]interface{}{"mode": "append"})

	in1 := channelfabric.New(2)
	in2 := channelfabric.New(2)
	out := channelfabric.New(4)

	in1.Send(context.Background(), value.FromGo(map[string]interface{}{"id": "a"}))
	in1.Close()
	in2.Send(context.Background(), value.FromGo(map[string]interface{}{"id": "b"}))
	in2.Close()

	require.NoError(t, runNode(t, n, []*channelfabric.Chan{in1, in2}, []*channelfabric.Chan{out}))
	// The scheduler closes a node's outputs once Run returns; do the same
	// here so the loop below sees end-of-stream after the merged items.
	out.Close()

	var got []interface{}
	for {
		v, ok, err := out.Recv(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, v.ToGo())
	}
	assert.Len(t, got, 2)
}

func TestTemplateRendersField(t *testing.T) {
	n := newNode(t, "template", map[string]interface{}{
		"template": "order {{$json.id}} confirmed",
		"field":    "message",
	})

	in := channelfabric.New(1)
	out := channelfabric.New(1)
	in.Send(context.Background(), value.FromGo(map[string]interface{}{"id": "42"}))
	in.Close()

	require.NoError(t, runNode(t, n, []*channelfabric.Chan{in}, []*channelfabric.Chan{out}))

	v, ok, err := out.Recv(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	m := v.ToGo().(map[string]interface{})
	assert.Equal(t, "order 42 confirmed", m["message"])
}

func TestCodeEvaluatesExpression(t *testing.T) {
	n := newNode(t, "code", map[string]interface{}{"code": "item.value * 2"})

	in := channelfabric.New(1)
	successOut := channelfabric.New(1)
	errOut := channelfabric.New(1)
	in.Send(context.Background(), value.FromGo(map[string]interface{}{"value": 21}))
	in.Close()

	require.NoError(t, runNode(t, n, []*channelfabric.Chan{in}, []*channelfabric.Chan{successOut, errOut}))

	v, ok, err := successOut.Recv(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	num, _ := v.Number()
	assert.Equal(t, float64(42), num)
}

func TestJoinKeyModeInner(t *testing.T) {
	n := newNode(t, "join", map[string]interface{}{"mode": "key", "joinType": "inner"})

	in1 := channelfabric.New(2)
	in2 := channelfabric.New(2)
	out := channelfabric.New(2)

	in1.Send(context.Background(), value.FromGo(map[string]interface{}{"id": "1", "name": "alice"}))
	in1.Close()
	in2.Send(context.Background(), value.FromGo(map[string]interface{}{"id": "1", "age": float64(30)}))
	in2.Close()

	require.NoError(t, runNode(t, n, []*channelfabric.Chan{in1, in2}, []*channelfabric.Chan{out}))

	v, ok, err := out.Recv(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	m := v.ToGo().(map[string]interface{})
	assert.Equal(t, "alice", m["name"])
	assert.Equal(t, float64(30), m["age"])
}

func TestUnionSequentialMode(t *testing.T) {
	n := newNode(t, "union", map[string]interface{}{"mode": "sequential"})

	in1 := channelfabric.New(2)
	in2 := channelfabric.New(2)
	out := channelfabric.New(4)

	in1.Send(context.Background(), value.Number(1))
	in1.Close()
	in2.Send(context.Background(), value.Number(2))
	in2.Close()

	require.NoError(t, runNode(t, n, []*channelfabric.Chan{in1, in2}, []*channelfabric.Chan{out}))

	first, ok, err := out.Recv(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	n1, _ := first.Number()
	assert.Equal(t, float64(1), n1)

	second, ok, err := out.Recv(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	n2, _ := second.Number()
	assert.Equal(t, float64(2), n2)
}

func TestConsoleConsumesWithoutEmitting(t *testing.T) {
	n := newNode(t, "console", map[string]interface{}{"label": "t"})

	in := channelfabric.New(1)
	in.Send(context.Background(), value.FromGo(map[string]interface{}{"a": 1}))
	in.Close()

	require.NoError(t, runNode(t, n, []*channelfabric.Chan{in}, nil))
}

func TestManualTriggerEmitsPayloadOnce(t *testing.T) {
	n := newNode(t, "manual_trigger", map[string]interface{}{
		"testData": map[string]interface{}{"source": "test"},
	})

	out := channelfabric.New(1)
	require.NoError(t, runNode(t, n, nil, []*channelfabric.Chan{out}))

	v, ok, err := out.Recv(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	m := v.ToGo().(map[string]interface{})
	assert.Equal(t, "test", m["source"])
	assert.Equal(t, "manual", m["triggerType"])
}
