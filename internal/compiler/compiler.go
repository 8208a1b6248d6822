// Package compiler parses and validates a declarative workflow
// definition, resolves node factories, wires the channel fabric
// according to edge multiplicity, and emits a sealed CompiledGraph
// ready for the scheduler (spec.md §4.4).
package compiler

import (
	"fmt"
	"strconv"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/graphdef"
	"github.com/coryv/rustflow/internal/noderuntime"
)

// CompiledNode is one node bound to its resolved input/output channels.
type CompiledNode struct {
	ID      string
	Type    string
	Node    noderuntime.Node
	Inputs  []channelfabric.Receiver
	Outputs []channelfabric.Sender
}

// CompiledGraph is the sealed, ready-to-run result of a successful
// compile: every node instantiated and configured, every channel wired.
// Execution order is not part of this structure — spec.md §9 notes the
// runtime does not rely on topological order, since all node tasks are
// spawned concurrently; TopoOrder is kept only for diagnostics.
type CompiledGraph struct {
	Nodes     []*CompiledNode
	TopoOrder []string
	// Warnings holds non-fatal compile observations (spec.md §3:
	// "isolated nodes are a warning, not error").
	Warnings []string
}

// Options configures one Compile call.
type Options struct {
	Registry        *noderuntime.Registry
	Credentials     noderuntime.CredentialResolver
	// EdgeEmit, if non-nil, is invoked by the channel fabric on every
	// send, before the value is enqueued (spec.md §4.5's EdgeData instrumentation). Pass
	// nil to disable it entirely (spec.md §4.5: "it can be disabled by
	// config").
	EdgeEmit channelfabric.EdgeEmitFunc
	// DefaultCapacity overrides channelfabric.DefaultCapacity when > 0.
	DefaultCapacity int
}

type resolvedEdge struct {
	fromNode string
	fromIdx  int
	toNode   string
	toIdx    int
}

// Compile validates def and builds a CompiledGraph. No task is spawned;
// that is the scheduler's job.
func Compile(def *graphdef.WorkflowDef, opts Options) (*CompiledGraph, error) {
	if opts.Registry == nil {
		opts.Registry = noderuntime.Global
	}

	specByID, order, err := indexNodes(def)
	if err != nil {
		return nil, err
	}

	metaByID := make(map[string]noderuntime.Metadata, len(order))
	for id, spec := range specByID {
		meta, ok := opts.Registry.Metadata(spec.Type)
		if !ok {
			return nil, newErr(KindUnknownNodeType, "node %q has unregistered type %q", id, spec.Type)
		}
		metaByID[id] = meta
	}

	resolved, err := resolveEdges(def, metaByID)
	if err != nil {
		return nil, err
	}

	if err := checkAcyclic(order, resolved, metaByID, specByID); err != nil {
		return nil, err
	}

	// Count outbound edges per (node, output index) to decide between a
	// single point-to-point edge and a fan-out (spec.md §4.4 step 3).
	outboundGroups := make(map[string][]resolvedEdge)
	for _, e := range resolved {
		key := fmt.Sprintf("%s#%d", e.fromNode, e.fromIdx)
		outboundGroups[key] = append(outboundGroups[key], e)
	}

	// Build nodes, configure them, then wire channels.
	nodes := make(map[string]*CompiledNode, len(order))
	for _, id := range order {
		spec := specByID[id]
		node, err := opts.Registry.New(spec.Type)
		if err != nil {
			return nil, newErr(KindUnknownNodeType, "%s", err)
		}
		if err := node.Configure(spec.Config, opts.Credentials); err != nil {
			return nil, newErr(KindConfigError, "node %q: %v", id, err)
		}
		meta := metaByID[id]
		nodes[id] = &CompiledNode{
			ID:      id,
			Type:    spec.Type,
			Node:    node,
			Inputs:  make([]channelfabric.Receiver, len(meta.Inputs)),
			Outputs: make([]channelfabric.Sender, len(meta.Outputs)),
		}
		for i := range nodes[id].Inputs {
			nodes[id].Inputs[i] = channelfabric.ClosedReceiver()
		}
	}

	capacityFor := func(nodeID string, idx int) int {
		meta := metaByID[nodeID]
		if idx >= 0 && idx < len(meta.Outputs) && meta.Outputs[idx].Capacity > 0 {
			return meta.Outputs[idx].Capacity
		}
		if opts.DefaultCapacity > 0 {
			return opts.DefaultCapacity
		}
		return channelfabric.DefaultCapacity
	}

	for key, group := range outboundGroups {
		from := group[0].fromNode
		fromIdx := group[0].fromIdx
		_ = key

		if len(group) == 1 {
			e := group[0]
			edge := channelfabric.NewEdge(
				capacityFor(from, fromIdx),
				graphdef.PortRef{NodeID: from, Raw: strconv.Itoa(fromIdx)},
				graphdef.PortRef{NodeID: e.toNode, Raw: strconv.Itoa(e.toIdx)},
				opts.EdgeEmit,
			)
			nodes[from].Outputs[fromIdx] = edge
			nodes[e.toNode].Inputs[e.toIdx] = edge
			continue
		}

		branches := make([]*channelfabric.InstrumentedEdge, len(group))
		for i, e := range group {
			branches[i] = channelfabric.NewEdge(
				capacityFor(from, fromIdx),
				graphdef.PortRef{NodeID: from, Raw: strconv.Itoa(fromIdx)},
				graphdef.PortRef{NodeID: e.toNode, Raw: strconv.Itoa(e.toIdx)},
				opts.EdgeEmit,
			)
			nodes[e.toNode].Inputs[e.toIdx] = branches[i]
		}
		fanOut := channelfabric.NewFanOut(branches)
		nodes[from].Outputs[fromIdx] = fanOut
	}

	// Any output port with zero outbound edges gets a sink that
	// discards values (the node may still emit on it; nothing listens).
	for id, n := range nodes {
		meta := metaByID[id]
		for i := range n.Outputs {
			if n.Outputs[i] == nil {
				n.Outputs[i] = newDiscardSender()
			}
		}
		_ = meta
	}

	graph := &CompiledGraph{TopoOrder: order}
	for _, id := range order {
		graph.Nodes = append(graph.Nodes, nodes[id])
	}
	graph.Warnings = findUnreachable(order, resolved, metaByID)
	return graph, nil
}

// indexNodes validates unique, non-empty node ids and returns a stable
// declaration order alongside the id->spec index.
func indexNodes(def *graphdef.WorkflowDef) (map[string]graphdef.NodeSpec, []string, error) {
	if len(def.Nodes) == 0 {
		return map[string]graphdef.NodeSpec{}, nil, nil
	}

	byID := make(map[string]graphdef.NodeSpec, len(def.Nodes))
	order := make([]string, 0, len(def.Nodes))
	for _, n := range def.Nodes {
		if n.ID == "" {
			return nil, nil, newErr(KindDuplicateID, "node id must be non-empty")
		}
		if _, exists := byID[n.ID]; exists {
			return nil, nil, newErr(KindDuplicateID, "duplicate node id %q", n.ID)
		}
		byID[n.ID] = n
		order = append(order, n.ID)
	}
	return byID, order, nil
}

// resolvePortIndex maps a raw edge port token ("", a numeric string, or
// a declared role name) to a numeric index against the given port
// table, per spec.md §4.1.
func resolvePortIndex(raw string, ports []noderuntime.PortDefinition) (int, bool) {
	if raw == "" {
		if len(ports) == 0 {
			return 0, false
		}
		return 0, true
	}
	if idx, err := strconv.Atoi(raw); err == nil {
		if idx < 0 || idx >= len(ports) {
			return 0, false
		}
		return idx, true
	}
	for i, p := range ports {
		if p.Role == raw || p.Name == raw {
			return i, true
		}
	}
	// Fall back to index 0 if nothing declares this name: spec.md §4.1
	// ("If a declared port name is absent, index 0 is the default
	// source and sink") only licenses this when the node has at least
	// one port.
	if len(ports) > 0 {
		return 0, true
	}
	return 0, false
}

func resolveEdges(def *graphdef.WorkflowDef, metaByID map[string]noderuntime.Metadata) ([]resolvedEdge, error) {
	resolved := make([]resolvedEdge, 0, len(def.Edges))
	sinkTaken := make(map[string]bool)

	for _, e := range def.Edges {
		fromMeta, ok := metaByID[e.From.NodeID]
		if !ok {
			return nil, newErr(KindBadEdge, "edge references unknown source node %q", e.From.NodeID)
		}
		toMeta, ok := metaByID[e.To.NodeID]
		if !ok {
			return nil, newErr(KindBadEdge, "edge references unknown target node %q", e.To.NodeID)
		}

		fromIdx, ok := resolvePortIndex(e.From.Raw, fromMeta.Outputs)
		if !ok {
			return nil, newErr(KindMissingPort, "node %q has no output port %q", e.From.NodeID, e.From.Raw)
		}
		toIdx, ok := resolvePortIndex(e.To.Raw, toMeta.Inputs)
		if !ok {
			return nil, newErr(KindMissingPort, "node %q has no input port %q", e.To.NodeID, e.To.Raw)
		}

		sinkKey := fmt.Sprintf("%s#%d", e.To.NodeID, toIdx)
		if sinkTaken[sinkKey] {
			return nil, newErr(KindBadEdge, "input port %q of node %q already has an inbound edge", e.To.Raw, e.To.NodeID)
		}
		sinkTaken[sinkKey] = true

		resolved = append(resolved, resolvedEdge{
			fromNode: e.From.NodeID,
			fromIdx:  fromIdx,
			toNode:   e.To.NodeID,
			toIdx:    toIdx,
		})
	}
	return resolved, nil
}

// checkAcyclic runs Kahn's algorithm over the node-level graph (ignoring
// port granularity) both to reject cycles and, incidentally, to produce
// a topological order useful for diagnostics (spec.md §9). It also
// rejects trigger nodes with inbound edges.
func checkAcyclic(order []string, edges []resolvedEdge, metaByID map[string]noderuntime.Metadata, specByID map[string]graphdef.NodeSpec) error {
	indegree := make(map[string]int, len(order))
	adj := make(map[string][]string, len(order))
	for _, id := range order {
		indegree[id] = 0
	}
	for _, e := range edges {
		adj[e.fromNode] = append(adj[e.fromNode], e.toNode)
		indegree[e.toNode]++
	}

	for id, meta := range metaByID {
		if meta.IsTrigger && indegree[id] > 0 {
			return newErr(KindBadEdge, "trigger node %q must not have inbound edges", id)
		}
	}

	queue := make([]string, 0, len(order))
	for _, id := range order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	topo := make([]string, 0, len(order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		topo = append(topo, id)
		visited++
		for _, next := range adj[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(order) {
		return newErr(KindCycle, "workflow graph contains a cycle")
	}
	return nil
}

// findUnreachable reports nodes with no path from any trigger node as
// warnings rather than errors (spec.md §3).
func findUnreachable(order []string, edges []resolvedEdge, metaByID map[string]noderuntime.Metadata) []string {
	adj := make(map[string][]string, len(order))
	for _, e := range edges {
		adj[e.fromNode] = append(adj[e.fromNode], e.toNode)
	}

	reachable := make(map[string]bool, len(order))
	var stack []string
	for id, meta := range metaByID {
		if meta.IsTrigger {
			stack = append(stack, id)
			reachable[id] = true
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range adj[id] {
			if !reachable[next] {
				reachable[next] = true
				stack = append(stack, next)
			}
		}
	}

	var warnings []string
	for _, id := range order {
		if !reachable[id] {
			warnings = append(warnings, fmt.Sprintf("node %q is not reachable from any trigger", id))
		}
	}
	return warnings
}
