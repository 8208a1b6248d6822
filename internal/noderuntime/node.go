// Package noderuntime defines the contract every node implements
// (spec.md §4.3): static port arity and configuration metadata, a
// configure step run once at compile time, and a long-lived run
// coroutine bound to its input/output channels.
package noderuntime

import (
	"context"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/platform/logger"
)

// PropertyType is the UI type tag for a configuration property, per the
// node registry metadata contract in spec.md §6.
type PropertyType string

const (
	PropertyText    PropertyType = "text"
	PropertyNumber  PropertyType = "number"
	PropertySelect  PropertyType = "select"
	PropertyJSON    PropertyType = "json"
	PropertyCode    PropertyType = "code"
	PropertyBoolean PropertyType = "boolean"
)

// PropertyOption is one choice of a "select"-typed property.
type PropertyOption struct {
	Label string
	Value interface{}
}

// PropertyDefinition describes one entry of a node's configuration.
type PropertyDefinition struct {
	Name     string
	Label    string
	Type     PropertyType
	Required bool
	Default  interface{}
	Options  []PropertyOption
}

// PortDefinition describes one input or output port. Role is the
// semantic name used to resolve string port tokens on edges ("true",
// "false", "success", "error" — spec.md §4.1); the empty role means the
// port has no special semantic name beyond its declared Name.
type PortDefinition struct {
	Name string
	Role string
	// Capacity, if non-zero, requests a channel capacity other than
	// channelfabric.DefaultCapacity for the edges leaving this port when
	// it is an output port. The compiler ignores Capacity on input ports.
	Capacity int
}

// Metadata is the static description of one node type: everything the
// graph compiler and the external node-registry endpoint (spec.md §6)
// need without instantiating the node.
type Metadata struct {
	Type        string
	Label       string
	Category    string
	IsTrigger   bool
	Inputs      []PortDefinition
	Outputs     []PortDefinition
	Properties  []PropertyDefinition
	Description string
}

// CredentialResolver resolves an opaque credential identifier to its
// decrypted key/value fields. Implementations must be safe for
// concurrent use by every node task in a job (spec.md §5).
type CredentialResolver interface {
	Resolve(ctx context.Context, id string) (map[string]string, error)
}

// RunContext is everything a node's Run needs beyond its channels:
// structured logging, the credential resolver, and identifying
// information for diagnostics. Cancellation is carried by the
// context.Context passed to Run, not by this struct (spec.md §5).
type RunContext struct {
	JobID       string
	NodeID      string
	Logger      logger.Logger
	Credentials CredentialResolver
}

// Node is the runtime contract every built-in or registered node type
// implements (spec.md §4.3).
type Node interface {
	// Metadata returns this node type's static description.
	Metadata() Metadata

	// Configure binds a node instance to its declared config and keeps
	// creds for later; the built-in nodes resolve credential references
	// only when they run. Called once at compile time;
	// an error here is a ConfigError, treated as a CompileError
	// (spec.md §7).
	Configure(config map[string]interface{}, creds CredentialResolver) error

	// Run executes once per job. It must return once all of its work is
	// flushed — on success, on an unrecoverable error, or because ctx
	// was cancelled. It must not retain outputs past return: the
	// scheduler closes them for every node, but a node that blocks
	// forever on a send after deciding to terminate will leak a
	// goroutine, so every node is expected to select over ctx.Done() at
	// every channel operation (spec.md §4.3, §9).
	Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *RunContext) error
}

// Factory constructs a fresh, unconfigured instance of a node type. Node
// instances are not reused across jobs (spec.md §3's lifecycle: "nodes
// are created when the workflow is compiled and destroyed when all
// tasks for that job terminate").
type Factory func() Node
