package nodes

import (
	"context"
	"time"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
)

// delayNode holds each item for a fixed duration before forwarding it,
// grounded on the teacher's WaitNode.
type delayNode struct {
	duration time.Duration
}

func newDelayNode() noderuntime.Node {
	return &delayNode{duration: time.Second}
}

func (n *delayNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "delay",
		Label:       "Delay",
		Category:    "flow",
		Description: "Hold each item for a fixed duration before forwarding it",
		Inputs:      []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
		Outputs:     []noderuntime.PortDefinition{{Name: "out", Role: "success"}},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "amount", Label: "Amount", Type: noderuntime.PropertyNumber, Default: 1},
			{Name: "unit", Label: "Unit", Type: noderuntime.PropertySelect, Default: "seconds", Options: []noderuntime.PropertyOption{
				{Label: "Milliseconds", Value: "milliseconds"},
				{Label: "Seconds", Value: "seconds"},
				{Label: "Minutes", Value: "minutes"},
			}},
		},
	}
}

func (n *delayNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	amount := intConfig(config, "amount", 1)
	unit := stringConfig(config, "unit", "seconds")
	switch unit {
	case "milliseconds":
		n.duration = time.Duration(amount) * time.Millisecond
	case "minutes":
		n.duration = time.Duration(amount) * time.Minute
	default:
		n.duration = time.Duration(amount) * time.Second
	}
	return nil
}

func (n *delayNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	for {
		v, ok, err := inputs[0].Recv(ctx)
		if err != nil || !ok {
			return err
		}

		timer := time.NewTimer(n.duration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := outputs[0].Send(ctx, v); err != nil {
			return err
		}
	}
}

func init() {
	noderuntime.Register("delay", newDelayNode)
}
