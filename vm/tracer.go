package vm

import (
	"fmt"
	"io"

	"github.com/darksv/interpreter/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Trace side channel
// ---------------------------------------------------------------------------

// Snapshot is the state captured when a breakpoint instruction executes.
// PC is the offset of the instruction following the breakpoint: the one
// that runs next when execution resumes. Stack lists operands top first.
// Nothing in a Snapshot aliases live interpreter state except Code, which
// is immutable.
type Snapshot struct {
	Function string
	PC       int
	Code     []bytecode.Instruction
	Stack    []uint32
	Locals   []uint32
}

// Tracer receives execution diagnostics. It is write-only: nothing a tracer
// does can feed back into execution.
type Tracer interface {
	// Call reports control transferring into callee from caller.
	Call(callee, caller string)
	// Return reports a frame completing. hasResult is true when the
	// function declares a return value; result is then the value read
	// from the return slot.
	Return(fn string, result uint32, hasResult bool)
	// Breakpoint receives the state snapshot of the current frame.
	Breakpoint(snap Snapshot)
}

// NopTracer discards all diagnostics.
type NopTracer struct{}

func (NopTracer) Call(callee, caller string)                {}
func (NopTracer) Return(fn string, result uint32, has bool) {}
func (NopTracer) Breakpoint(snap Snapshot)                  {}

// StreamTracer writes the human-readable trace: call and return lines go to
// Err, breakpoint snapshots to Out. The split mirrors running a program on
// a terminal, where snapshots are the payload and the call trace is
// commentary.
type StreamTracer struct {
	Out io.Writer
	Err io.Writer
}

func NewStreamTracer(out, err io.Writer) *StreamTracer {
	return &StreamTracer{Out: out, Err: err}
}

func (t *StreamTracer) Call(callee, caller string) {
	fmt.Fprintf(t.Err, "Calling '%s' from '%s'\n", callee, caller)
}

func (t *StreamTracer) Return(fn string, result uint32, hasResult bool) {
	if hasResult {
		fmt.Fprintf(t.Err, "Returning from '%s' with result '%d'\n", fn, result)
		return
	}
	fmt.Fprintf(t.Err, "Returning from '%s'\n", fn)
}

func (t *StreamTracer) Breakpoint(snap Snapshot) {
	fmt.Fprintln(t.Out, "Code:")
	for pos, in := range snap.Code {
		marker := " "
		if pos == snap.PC {
			marker = ">"
		}
		fmt.Fprintf(t.Out, "%s [%04d] %s\n", marker, pos, in)
	}
	fmt.Fprintln(t.Out, "Stack:")
	for idx, v := range snap.Stack {
		fmt.Fprintf(t.Out, "  [%04d] 0x%08x\n", idx, v)
	}
	fmt.Fprintln(t.Out, "Locals:")
	for idx, v := range snap.Locals {
		fmt.Fprintf(t.Out, "  [%04d] 0x%08x\n", idx, v)
	}
}
