package nodes

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/coryv/rustflow/internal/channelfabric"
	"github.com/coryv/rustflow/internal/noderuntime"
	"github.com/coryv/rustflow/internal/value"
)

// codeNode runs a user-supplied JavaScript snippet against each item in a
// fresh goja.Runtime, grounded on rakunlabs-at's SetupGojaVM helper-global
// registration; the only globals set here are item and a jsonParse
// helper, with no HTTP functions. Adapted to the item-at-a-time
// node contract instead of a whole-execution VM. Each item gets its own
// Runtime: goja.Runtime is not safe for concurrent use and a node task
// here is already the only goroutine touching it, so there is nothing to
// gain and correctness to lose by sharing one across items.
type codeNode struct {
	code    string
	timeout time.Duration
}

func newCodeNode() noderuntime.Node {
	return &codeNode{timeout: 5 * time.Second}
}

func (n *codeNode) Metadata() noderuntime.Metadata {
	return noderuntime.Metadata{
		Type:        "code",
		Label:       "Code",
		Category:    "transform",
		Description: "Run custom JavaScript against each item",
		Inputs:      []noderuntime.PortDefinition{{Name: "in", Role: "in"}},
		Outputs: []noderuntime.PortDefinition{
			{Name: "out", Role: "success"},
			{Name: "error", Role: "error"},
		},
		Properties: []noderuntime.PropertyDefinition{
			{Name: "code", Label: "Code", Type: noderuntime.PropertyCode, Required: true,
				Default: "item"},
			{Name: "timeoutSeconds", Label: "Timeout (seconds)", Type: noderuntime.PropertyNumber, Default: 5},
		},
	}
}

func (n *codeNode) Configure(config map[string]interface{}, creds noderuntime.CredentialResolver) error {
	n.code = stringConfig(config, "code", "")
	if n.code == "" {
		return fmt.Errorf("code: code is required")
	}
	if secs := intConfig(config, "timeoutSeconds", 5); secs > 0 {
		n.timeout = time.Duration(secs) * time.Second
	}
	return nil
}

func (n *codeNode) Run(ctx context.Context, inputs []channelfabric.Receiver, outputs []channelfabric.Sender, rc *noderuntime.RunContext) error {
	for {
		v, ok, err := inputs[0].Recv(ctx)
		if err != nil || !ok {
			return err
		}

		result, runErr := n.evaluate(ctx, v)
		if runErr != nil {
			envelope := value.FromGo(map[string]interface{}{"error": runErr.Error()})
			if err := outputs[1].Send(ctx, envelope); err != nil {
				return err
			}
			continue
		}
		if err := outputs[0].Send(ctx, value.FromGo(result)); err != nil {
			return err
		}
	}
}

func (n *codeNode) evaluate(ctx context.Context, v value.Value) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("code: script panicked: %v", r)
		}
	}()

	vm := goja.New()
	if err := registerCodeHelpers(vm); err != nil {
		return nil, fmt.Errorf("code: setup: %w", err)
	}
	if err := vm.Set("item", v.ToGo()); err != nil {
		return nil, fmt.Errorf("code: bind item: %w", err)
	}

	done := make(chan struct{})
	var runResult goja.Value
	var runErr error
	go func() {
		defer close(done)
		runResult, runErr = vm.RunString(n.code)
	}()

	select {
	case <-ctx.Done():
		vm.Interrupt("cancelled")
		<-done
		return nil, ctx.Err()
	case <-time.After(n.timeout):
		vm.Interrupt("timeout")
		<-done
		return nil, fmt.Errorf("code: exceeded %s timeout", n.timeout)
	case <-done:
	}

	if runErr != nil {
		return nil, fmt.Errorf("code: %w", runErr)
	}
	return runResult.Export(), nil
}

func registerCodeHelpers(vm *goja.Runtime) error {
	if err := vm.Set("jsonParse", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Null()
		}
		raw := call.Arguments[0].String()
		parsed := convertType(raw, "json")
		if s, ok := parsed.(string); ok && s == raw {
			panic(vm.NewTypeError("jsonParse: invalid JSON"))
		}
		return vm.ToValue(parsed)
	}); err != nil {
		return err
	}
	return nil
}

func init() {
	noderuntime.Register("code", newCodeNode)
}
