package compiler

import (
	"context"

	"github.com/coryv/rustflow/internal/value"
)

// discardSender is bound to an output port with no outbound edge. A node
// may still send on it — spec.md does not require a node to consult its
// own compiled fan-out before producing — so sends must succeed
// immediately rather than block forever.
type discardSender struct{}

func newDiscardSender() discardSender { return discardSender{} }

func (discardSender) Send(ctx context.Context, v value.Value) error { return nil }

func (discardSender) Close() {}
