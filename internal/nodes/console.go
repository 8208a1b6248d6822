package nodes

import (
	"context"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
)

// consoleNode is the canonical sink: it consumes every item on its
// input until the channel closes and never emits, grounded on spec.md
// §4.6's "console / sink nodes" description. It logs each item through
// RunContext so a workflow has somewhere to terminate a branch that
// only needs a side effect observed, not a value.
type consoleNode struct {
	label string
}

func newConsoleNode() noderuntime.Node {
	return &consoleNode{label: "console"}
}

func (n *consoleNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "console",
		Label:       "Console",
		Category:    "output",
		Description: "Log every item received; emits nothing",
		Inputs:      []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
		Outputs:     nil,
		Properties: []noderuntime.PropertyDefinition{
			{Name: "label", Label: "Label", Type: noderuntime.PropertyText, Default: "console"},
		},
	}
}

func (n *consoleNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.label = stringConfig(config, "label", "console")
	return nil
}

func (n *consoleNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	for {
		v, ok, err := inputs[0].Recv(ctx)
		if err != nil || !ok {
			return err
		}
		if rc.Logger != nil {
			rc.Logger.Info("console: item received", "label", n.label, "value", v.ToGo())
		}
	}
}

func init() {
	noderuntime.Register("console", newConsoleNode)
}
