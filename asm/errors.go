// Package asm translates line-oriented assembly text into an executable
// bytecode program. Loading is two-pass: pass 1 streams statements and
// records symbolic label and call-target references as placeholder indices;
// pass 2 resolves every placeholder to an absolute instruction offset or
// function-table index at finalization.
package asm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Load Error Types
// ---------------------------------------------------------------------------

var (
	ErrUnknownDirective  = errors.New("unknown directive")
	ErrUnknownMnemonic   = errors.New("unknown mnemonic")
	ErrMalformedOperand  = errors.New("malformed operand")
	ErrUnresolvedLabel   = errors.New("unresolved label")
	ErrUnresolvedCall    = errors.New("unresolved call target")
	ErrUnresolvedEntry   = errors.New("unresolved entry function")
	ErrLocalOutOfRange   = errors.New("local index out of range")
	ErrNoFunction        = errors.New("statement outside a function")
	ErrNativeBody        = errors.New("statement inside a native function")
	ErrDuplicateFunction = errors.New("duplicate function name")
)

// LoadError reports why loading failed. Err always wraps one of the
// sentinel discriminants above; Line and Stmt locate the statement the
// failure is attributed to. Resolution failures discovered at finalization
// point at the statement that first referenced the unresolved name.
type LoadError struct {
	Line int    // 1-based source line, 0 when not tied to a statement
	Stmt string // offending statement text, "" when not tied to one
	Err  error
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %v", e.Line, e.Stmt, e.Err)
	}
	return e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
