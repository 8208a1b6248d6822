package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/expression"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// setDataNode mutates every item it receives, grounded on the teacher's
// SetNode: manual field assignment, a JSON overlay, or a single
// expression producing the whole object.
type setDataNode struct {
	parser      *expression.Parser
	mode        string
	keepOnlySet bool
	dotNotation bool
	values      []interface{}
	jsonData    string
	expr        string
	env         map[string]string
}

func newSetDataNode() noderuntime.Node {
	return &setDataNode{parser: expression.NewParser(), mode: "manual", dotNotation: true, env: map[string]string{}}
}

func (n *setDataNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "set_data",
		Label:       "Set",
		Category:    "transform",
		Description: "Set, modify, or create fields on the current item",
		Inputs:      []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
		Outputs:     []noderuntime.PortDefinition{{Name: "out", Role: "success"}},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "mode", Label: "Mode", Type: noderuntime.PropertySelect, Default: "manual", Options: []noderuntime.PropertyOption{
				{Label: "Manual Mapping", Value: "manual"},
				{Label: "JSON", Value: "json"},
				{Label: "Expression", Value: "expression"},
			}},
			{Name: "values", Label: "Values", Type: noderuntime.PropertyJSON},
			{Name: "jsonData", Label: "JSON Data", Type: noderuntime.PropertyCode},
			{Name: "expression", Label: "Expression", Type: noderuntime.PropertyCode},
			{Name: "keepOnlySet", Label: "Keep Only Set Fields", Type: noderuntime.PropertyBoolean, Default: false},
			{Name: "dotNotation", Label: "Dot Notation", Type: noderuntime.PropertyBoolean, Default: true},
		},
	}
}

func (n *setDataNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.mode = stringConfig(config, "mode", "manual")
	n.keepOnlySet = boolConfig(config, "keepOnlySet", false)
	n.dotNotation = boolConfig(config, "dotNotation", true)
	n.values, _ = config["values"].([]interface{})
	n.jsonData = stringConfig(config, "jsonData", "{}")
	n.expr = stringConfig(config, "expression", "")
	return nil
}

func (n *setDataNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
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

		var result map[string]interface{}
		if n.keepOnlySet {
			result = make(map[string]interface{})
		} else {
			result = copyMap(item)
		}

		switch n.mode {
		case "manual":
			for _, raw := range n.values {
				entry, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				name := fmt.Sprintf("%v", entry["name"])
				val := entry["value"]
				valueType := stringConfig(entry, "type", "string")

				if s, ok := val.(string); ok && strings.Contains(s, "{{") {
					if evaluated, err := n.parser.Evaluate(s, exprCtx); err == nil {
						val = evaluated
					}
				}
				val = convertType(val, valueType)

				if n.dotNotation && strings.Contains(name, ".") {
					setNestedValue(result, name, val)
				} else {
					result[name] = val
				}
			}

		case "json":
			jsonData := n.jsonData
			if strings.Contains(jsonData, "{{") {
				if evaluated, err := n.parser.Evaluate(jsonData, exprCtx); err == nil {
					if s, ok := evaluated.(string); ok {
						jsonData = s
					}
				}
			}
			var parsed map[string]interface{}
			if err := json.Unmarshal([]byte(jsonData), &parsed); err != nil {
				rc.Logger.Warn("set_data: invalid JSON", "node", rc.NodeID, "error", err)
			} else {
				for k, val := range parsed {
					result[k] = val
				}
			}

		case "expression":
			if n.expr != "" {
				if evaluated, err := n.parser.Evaluate(n.expr, exprCtx); err == nil {
					if m, ok := evaluated.(map[string]interface{}); ok {
						result = m
					}
				}
			}
		}

		if err := outputs[0].Send(ctx, value.FromGo(result)); err != nil {
			return err
		}
	}
}

func init() {
	noderuntime.Register("set_data", newSetDataNode)
}
