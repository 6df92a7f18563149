package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Runtime Fault Types
// ---------------------------------------------------------------------------

// Fault discriminants. Every execution abort wraps exactly one of these, so
// hosts can match with errors.Is regardless of the surrounding context.
var (
	ErrStackUnderflow  = errors.New("operand stack underflow")
	ErrLocalIndex      = errors.New("local slot index out of range")
	ErrDivisionByZero  = errors.New("division by zero")
	ErrUnknownFunction = errors.New("call target out of range")
	ErrUnknownNative   = errors.New("no native registered for name")
	ErrNativeResult    = errors.New("native produced no result")
	ErrNativeEntry     = errors.New("entry point is a native function")
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrCallDepth       = errors.New("call depth limit exceeded")
	ErrStackDepth      = errors.New("operand stack limit exceeded")
	ErrStepBudget      = errors.New("step budget exhausted")
)

// RuntimeFault is a fatal execution error. It pins the fault to the function
// and instruction offset that raised it; the wrapped error carries the
// discriminant.
type RuntimeFault struct {
	Function string
	PC       int
	Err      error
}

func (f *RuntimeFault) Error() string {
	return fmt.Sprintf("fault in '%s' at [%04d]: %v", f.Function, f.PC, f.Err)
}

func (f *RuntimeFault) Unwrap() error {
	return f.Err
}
