package nodes

import (
	"context"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
)

// unionNode combines its two input ports into one output, grounded on
// spec.md §4.6's union description. In "interleaved" mode it forwards
// whichever input has a ready value first, preserving arrival order
// across both sources. In "sequential" mode it drains input1 fully
// before starting to read input2.
type unionNode struct {
	mode string // "interleaved" or "sequential"
}

func newUnionNode() noderuntime.Node {
	return &unionNode{mode: "interleaved"}
}

func (n *unionNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "union",
		Label:       "Union",
		Category:    "flow",
		Description: "Combine two inputs into one output stream",
		Inputs: []noderuntime.PortDefinition{
			{Name: "input1", Role: "input1"},
			{Name: "input2", Role: "input2"},
		},
		Outputs: []noderuntime.PortDefinition{{Name: "out", Role: "out"}},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "mode", Label: "Mode", Type: noderuntime.PropertySelect, Default: "interleaved", Options: []noderuntime.PropertyOption{
				{Label: "Interleaved", Value: "interleaved"}, {Label: "Sequential", Value: "sequential"},
			}},
		},
	}
}

func (n *unionNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.mode = stringConfig(config, "mode", "interleaved")
	return nil
}

func (n *unionNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	if n.mode == "sequential" {
		return n.runSequential(ctx, inputs, outputs[0])
	}
	return n.runInterleaved(ctx, inputs, outputs[0])
}

func (n *unionNode) runSequential(ctx context.Context, inputs []channelfabric.Receiver, out channelfabric.Sender) error {
	for _, in := range inputs[:2] {
		for {
			v, ok, err := in.Recv(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := out.Send(ctx, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (n *unionNode) runInterleaved(ctx context.Context, inputs []channelfabric.Receiver, out channelfabric.Sender) error {
	events := make(chan joinEvent)
	for side := 0; side < 2; side++ {
		go func(side int, in channelfabric.Receiver) {
			for {
				v, ok, err := in.Recv(ctx)
				select {
				case events <- joinEvent{side: side, v: v, ok: ok, err: err}:
				case <-ctx.Done():
					return
				}
				if err != nil || !ok {
					return
				}
			}
		}(side, inputs[side])
	}

	var closed [2]bool
	for !closed[0] || !closed[1] {
		select {
		case ev := <-events:
			if ev.err != nil {
				return ev.err
			}
			if !ev.ok {
				closed[ev.side] = true
				continue
			}
			if err := out.Send(ctx, ev.v); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func init() {
	noderuntime.Register("union", newUnionNode)
}
