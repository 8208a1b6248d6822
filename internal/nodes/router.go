package nodes

import (
	"context"
	"fmt"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// routerNode routes each item to one of up to 4 numbered outputs plus a
// fallback, evaluating either a single condition list (IF-style, using
// outputs 0="true"/1="false") or a rule list (Switch-style), grounded on
// the teacher's IFNode and SwitchNode collapsed into one configurable
// node since both are "evaluate conditions, pick an output index".
type routerNode struct {
	mode       string // "boolean" or "rules"
	conditions []interface{}
	combine    string
	rules      []interface{}
}

func newRouterNode() noderuntime.Node {
	return &routerNode{mode: "boolean", combine: "and"}
}

func (n *routerNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "router",
		Label:       "Router",
		Category:    "flow",
		Description: "Route items to different outputs based on conditions or rules",
		Inputs:      []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
		Outputs: []noderuntime.PortDefinition{
			{Name: "true", Role: "true"},
			{Name: "false", Role: "false"},
			{Name: "output2", Role: "output2"},
			{Name: "output3", Role: "output3"},
			{Name: "fallback", Role: "fallback"},
		},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "mode", Label: "Mode", Type: noderuntime.PropertySelect, Default: "boolean", Options: []noderuntime.PropertyOption{
				{Label: "Boolean (true/false)", Value: "boolean"},
				{Label: "Rules (multi-output)", Value: "rules"},
			}},
			{Name: "conditions", Label: "Conditions", Type: noderuntime.PropertyJSON},
			{Name: "combineConditions", Label: "Combine", Type: noderuntime.PropertySelect, Default: "and", Options: []noderuntime.PropertyOption{
				{Label: "AND", Value: "and"},
				{Label: "OR", Value: "or"},
			}},
			{Name: "rules", Label: "Rules", Type: noderuntime.PropertyJSON},
		},
	}
}

func (n *routerNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.mode = stringConfig(config, "mode", "boolean")
	n.conditions, _ = config["conditions"].([]interface{})
	n.combine = stringConfig(config, "combineConditions", "and")
	n.rules, _ = config["rules"].([]interface{})
	return nil
}

func (n *routerNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	for {
		v, ok, err := inputs[0].Recv(ctx)
		if err != nil || !ok {
			return err
		}

		data, _ := v.ToGo().(map[string]interface{})

		var outIdx int
		switch n.mode {
		case "rules":
			outIdx = n.evaluateRules(data)
		default:
			if n.evaluateConditions(data) {
				outIdx = 0
			} else {
				outIdx = 1
			}
		}

		if err := outputs[outIdx].Send(ctx, v); err != nil {
			return err
		}
	}
}

func (n *routerNode) evaluateConditions(data map[string]interface{}) bool {
	if len(n.conditions) == 0 {
		return true
	}
	results := make([]bool, len(n.conditions))
	for i, raw := range n.conditions {
		cond, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		field := fmt.Sprintf("%v", cond["field"])
		operator := fmt.Sprintf("%v", cond["operator"])
		results[i] = evaluateCondition(fieldValue(data, field), operator, cond["value"])
	}
	if n.combine == "or" {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

func (n *routerNode) evaluateRules(data map[string]interface{}) int {
	for _, raw := range n.rules {
		rule, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		field := fmt.Sprintf("%v", rule["field"])
		operator := fmt.Sprintf("%v", rule["operator"])
		if evaluateCondition(fieldValue(data, field), operator, rule["value"]) {
			idx := intConfig(rule, "output", 4)
			if idx < 0 || idx > 4 {
				idx = 4
			}
			return idx
		}
	}
	return 4 // fallback
}

func init() {
	noderuntime.Register("router", newRouterNode)
}
