package channelfabric_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/graphdef"
	"github.com/coryv/rustflow/internal/value"
)

func TestChanFIFOOrder(t *testing.T) {
	ch := channelfabric.New(4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, ch.Send(ctx, value.Number(float64(i))))
	}
	ch.Close()

	for i := 0; i < 3; i++ {
		v, ok, err := ch.Recv(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		n, _ := v.Number()
		assert.Equal(t, float64(i), n)
	}

	_, ok, err := ch.Recv(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "closed and drained channel returns end-of-stream")
}

func TestChanBackpressureBlocksProducer(t *testing.T) {
	ch := channelfabric.New(1)
	ctx := context.Background()

	require.NoError(t, ch.Send(ctx, value.Number(1)))

	sendReturned := make(chan struct{})
	go func() {
		_ = ch.Send(ctx, value.Number(2))
		close(sendReturned)
	}()

	select {
	case <-sendReturned:
		t.Fatal("second send should have blocked on a full capacity-1 channel")
	case <-time.After(50 * time.Millisecond):
	}

	_, _, err := ch.Recv(ctx)
	require.NoError(t, err)

	select {
	case <-sendReturned:
	case <-time.After(time.Second):
		t.Fatal("send should unblock once the consumer drains one slot")
	}
}

func TestClosedReceiverIsNonSuspending(t *testing.T) {
	r := channelfabric.ClosedReceiver()
	done := make(chan struct{})
	go func() {
		_, ok, err := r.Recv(context.Background())
		assert.False(t, ok)
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("receiving on the always-closed sentinel must not suspend")
	}
}

func TestFanOutDeliversToEveryBranch(t *testing.T) {
	from := graphdef.PortRef{NodeID: "src", Raw: "0"}
	a := channelfabric.NewEdge(4, from, graphdef.PortRef{NodeID: "a", Raw: "0"}, nil)
	b := channelfabric.NewEdge(4, from, graphdef.PortRef{NodeID: "b", Raw: "0"}, nil)
	fo := channelfabric.NewFanOut([]*channelfabric.InstrumentedEdge{a, b})

	ctx := context.Background()
	require.NoError(t, fo.Send(ctx, value.String("hello")))
	fo.Close()

	for _, branch := range []*channelfabric.InstrumentedEdge{a, b} {
		v, ok, err := branch.Recv(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		s, _ := v.String()
		assert.Equal(t, "hello", s)
	}
}

func TestFanOutSlowestBranchStallsProducer(t *testing.T) {
	from := graphdef.PortRef{NodeID: "src", Raw: "0"}
	fast := channelfabric.NewEdge(4, from, graphdef.PortRef{NodeID: "fast", Raw: "0"}, nil)
	slow := channelfabric.NewEdge(1, from, graphdef.PortRef{NodeID: "slow", Raw: "0"}, nil)
	fo := channelfabric.NewFanOut([]*channelfabric.InstrumentedEdge{fast, slow})

	ctx := context.Background()
	require.NoError(t, fo.Send(ctx, value.Number(1)))

	secondSendReturned := make(chan struct{})
	go func() {
		_ = fo.Send(ctx, value.Number(2))
		close(secondSendReturned)
	}()

	select {
	case <-secondSendReturned:
		t.Fatal("fan-out send should stall once the slow branch's buffer fills")
	case <-time.After(50 * time.Millisecond):
	}

	_, _, _ = slow.Recv(ctx)

	select {
	case <-secondSendReturned:
	case <-time.After(time.Second):
		t.Fatal("fan-out send should resume once the slow branch drains")
	}
}
