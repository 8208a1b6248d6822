package compiler

import "fmt"

// ErrorKind tags the category of a CompileError, per spec.md §4.4.
type ErrorKind string

const (
	KindUnknownNodeType ErrorKind = "UnknownNodeType"
	KindDuplicateID     ErrorKind = "DuplicateId"
	KindMissingPort     ErrorKind = "MissingPort"
	KindBadEdge         ErrorKind = "BadEdge"
	KindCycle           ErrorKind = "Cycle"
	KindConfigError     ErrorKind = "ConfigError"
	KindCredentialError ErrorKind = "CredentialError"
)

// CompileError is returned synchronously by Compile; no events are
// emitted for a compile failure (spec.md §7), and no partial graph is
// ever executed (spec.md §4.4).
type CompileError struct {
	Kind   ErrorKind
	Detail string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile error [%s]: %s", e.Kind, e.Detail)
}

func newErr(kind ErrorKind, format string, args ...interface{}) *CompileError {
	return &CompileError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
