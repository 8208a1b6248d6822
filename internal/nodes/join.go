package nodes

import (
	"context"
	"fmt"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// joinNode pairs values arriving on its two input ports, grounded on
// spec.md §4.6's join description. Two modes:
//
//   - key mode: each side is keyed by a configured field path; a value
//     is emitted as soon as a match appears on the other side. A match
//     consumes exactly one buffered value from the other side (a
//     streaming first-match pairing, not a full cartesian join across
//     repeated keys) so the node never needs to buffer a whole input to
//     produce output.
//   - index mode: the i-th value of input 0 pairs with the i-th value of
//     input 1, in arrival order per side regardless of which side a
//     value happened to arrive on first.
//
// joinType (inner/left/right/outer) controls what happens to values left
// unmatched once both inputs close.
type joinNode struct {
	mode     string // "key" or "index"
	joinType string // "inner", "left", "right", "outer"
	keyField [2]string
}

func newJoinNode() noderuntime.Node {
	return &joinNode{mode: "key", joinType: "inner", keyField: [2]string{"id", "id"}}
}

func (n *joinNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "join",
		Label:       "Join",
		Category:    "flow",
		Description: "Pair values from two inputs by key or by arrival index",
		Inputs: []noderuntime.PortDefinition{
			{Name: "input1", Role: "input1"},
			{Name: "input2", Role: "input2"},
		},
		Outputs: []noderuntime.PortDefinition{{Name: "out", Role: "out"}},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "mode", Label: "Mode", Type: noderuntime.PropertySelect, Default: "key", Options: []noderuntime.PropertyOption{
				{Label: "By Key", Value: "key"}, {Label: "By Index", Value: "index"},
			}},
			{Name: "joinType", Label: "Join Type", Type: noderuntime.PropertySelect, Default: "inner", Options: []noderuntime.PropertyOption{
				{Label: "Inner", Value: "inner"}, {Label: "Left", Value: "left"},
				{Label: "Right", Value: "right"}, {Label: "Outer", Value: "outer"},
			}},
			{Name: "keyField1", Label: "Key Field (input 1)", Type: noderuntime.PropertyText, Default: "id"},
			{Name: "keyField2", Label: "Key Field (input 2)", Type: noderuntime.PropertyText, Default: "id"},
		},
	}
}

func (n *joinNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.mode = stringConfig(config, "mode", "key")
	n.joinType = stringConfig(config, "joinType", "inner")
	n.keyField[0] = stringConfig(config, "keyField1", "id")
	n.keyField[1] = stringConfig(config, "keyField2", "id")
	return nil
}

type joinEvent struct {
	side int
	v    value.Value
	ok   bool
	err  error
}

func (n *joinNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
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

	if n.mode == "index" {
		return n.runIndexMode(ctx, events, outputs[0])
	}
	return n.runKeyMode(ctx, events, outputs[0])
}

func (n *joinNode) runKeyMode(ctx context.Context, events <-chan joinEvent, out channelfabric.Sender) error {
	buffers := [2]map[string][]map[string]interface{}{{}, {}}
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
			item, _ := ev.v.ToGo().(map[string]interface{})
			other := 1 - ev.side
			key := fmt.Sprintf("%v", fieldValue(item, n.keyField[ev.side]))

			if queue := buffers[other][key]; len(queue) > 0 {
				match := queue[0]
				buffers[other][key] = queue[1:]
				merged := n.emitPair(ev.side, item, match)
				if err := out.Send(ctx, value.FromGo(merged)); err != nil {
					return err
				}
				continue
			}
			buffers[ev.side][key] = append(buffers[ev.side][key], item)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return n.flushUnmatched(ctx, buffers, out)
}

func (n *joinNode) emitPair(side int, item, match map[string]interface{}) map[string]interface{} {
	var left, right map[string]interface{}
	if side == 0 {
		left, right = match, item
	} else {
		left, right = item, match
	}
	return mergeObjects(left, right, "merge")
}

func (n *joinNode) flushUnmatched(ctx context.Context, buffers [2]map[string][]map[string]interface{}, out channelfabric.Sender) error {
	emitSide := func(side int, otherKey string) error {
		for _, items := range buffers[side] {
			for _, item := range items {
				var merged map[string]interface{}
				if side == 0 {
					merged = mergeObjects(item, nil, "preferInput1")
				} else {
					merged = mergeObjects(nil, item, "preferInput2")
				}
				if err := out.Send(ctx, value.FromGo(merged)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	switch n.joinType {
	case "left", "outer":
		if err := emitSide(0, ""); err != nil {
			return err
		}
	}
	switch n.joinType {
	case "right", "outer":
		if err := emitSide(1, ""); err != nil {
			return err
		}
	}
	return nil
}

func (n *joinNode) runIndexMode(ctx context.Context, events <-chan joinEvent, out channelfabric.Sender) error {
	var queues [2][]map[string]interface{}
	var closed [2]bool

	drainReady := func() error {
		for len(queues[0]) > 0 && len(queues[1]) > 0 {
			left, right := queues[0][0], queues[1][0]
			queues[0] = queues[0][1:]
			queues[1] = queues[1][1:]
			if err := out.Send(ctx, value.FromGo(mergeObjects(left, right, "merge"))); err != nil {
				return err
			}
		}
		return nil
	}

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
			item, _ := ev.v.ToGo().(map[string]interface{})
			queues[ev.side] = append(queues[ev.side], item)
			if err := drainReady(); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	switch n.joinType {
	case "left", "outer":
		for _, item := range queues[0] {
			if err := out.Send(ctx, value.FromGo(mergeObjects(item, nil, "preferInput1"))); err != nil {
				return err
			}
		}
	}
	switch n.joinType {
	case "right", "outer":
		for _, item := range queues[1] {
			if err := out.Send(ctx, value.FromGo(mergeObjects(nil, item, "preferInput2"))); err != nil {
				return err
			}
		}
	}
	return nil
}

func init() {
	noderuntime.Register("join", newJoinNode)
}
