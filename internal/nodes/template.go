package nodes

import (
	"context"
	"fmt"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/expression"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// templateNode renders a single {{...}}-templated string or object against
// each item, grounded on the same internal/expression engine set_data uses
// for its "expression" mode, but exposed standalone for nodes that only
// need to produce one rendered field (an email body, a log line, a request
// path) rather than mutate the whole item.
type templateNode struct {
	parser   *expression.Parser
	template interface{}
	field    string
	env      map[string]string
}

func newTemplateNode() noderuntime.Node {
	return &templateNode{parser: expression.NewParser(), field: "output", env: map[string]string{}}
}

func (n *templateNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "template",
		Label:       "Template",
		Category:    "transform",
		Description: "Render a template against each item and attach the result to a field",
		Inputs:      []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
		Outputs:     []noderuntime.PortDefinition{{Name: "out", Role: "success"}},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "template", Label: "Template", Type: noderuntime.PropertyCode, Required: true},
			{Name: "field", Label: "Output Field", Type: noderuntime.PropertyText, Default: "output"},
		},
	}
}

func (n *templateNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.template = config["template"]
	if n.template == nil {
		return fmt.Errorf("template: template is required")
	}
	n.field = stringConfig(config, "field", "output")
	return nil
}

func (n *templateNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	for {
		v, ok, err := inputs[0].Recv(ctx)
		if err != nil || !ok {
			return err
		}

		item, _ := v.ToGo().(map[string]interface{})
		if item == nil {
			item = map[string]interface{}{}
		}

		exprCtx := &expression.Context{Item: item, Env: n.env}
		rendered, err := n.parser.EvaluateTemplate(n.template, exprCtx)
		if err != nil {
			rc.Logger.Warn("template: render failed", "node", rc.NodeID, "error", err)
			rendered = nil
		}

		result := copyMap(item)
		if n.dotted() {
			setNestedValue(result, n.field, rendered)
		} else {
			result[n.field] = rendered
		}

		if err := outputs[0].Send(ctx, value.FromGo(result)); err != nil {
			return err
		}
	}
}

func (n *templateNode) dotted() bool {
	for _, r := range n.field {
		if r == '.' {
			return true
		}
	}
	return false
}

func init() {
	noderuntime.Register("template", newTemplateNode)
}
