package vm

import "github.com/darksv/interpreter/pkg/bytecode"

// ---------------------------------------------------------------------------
// Call frames
// ---------------------------------------------------------------------------

// callFrame is the execution state of one managed function invocation. The
// call stack holds these on the heap, so recursion depth is bounded by
// configuration rather than by the host stack, and a breakpoint can inspect
// the live frame without unwinding.
//
// Frames share nothing: values cross only by argument transfer at call time
// and by the single result push at return time.
type callFrame struct {
	fn     *bytecode.Function
	fnIdx  int
	pc     int
	stack  []uint32
	locals []uint32
}

// newFrame builds a frame for fn with a fresh clone of its default locals,
// an empty operand stack, and pc 0.
func newFrame(fn *bytecode.Function, idx int) *callFrame {
	locals := make([]uint32, len(fn.DefaultLocals))
	copy(locals, fn.DefaultLocals)
	return &callFrame{fn: fn, fnIdx: idx, locals: locals}
}

func (f *callFrame) push(v uint32) {
	f.stack = append(f.stack, v)
}

// pop removes and returns the top of the operand stack. The second result
// is false on underflow; the interpreter turns that into a fault.
func (f *callFrame) pop() (uint32, bool) {
	if len(f.stack) == 0 {
		return 0, false
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, true
}
