package vm

import (
	"fmt"

	"github.com/darksv/interpreter/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Interpreter: bytecode execution engine
// ---------------------------------------------------------------------------

// Default resource limits. The reference behavior is unbounded; bounds here
// are configuration, with zero meaning "use the default".
const (
	DefaultMaxFrames = 256
	DefaultMaxStack  = 1024
)

// Options configures one interpreter. The zero value gives default limits,
// no step budget, no tracing, no profiling, and an empty native table.
type Options struct {
	MaxFrames int       // call stack depth limit
	MaxStack  int       // per-frame operand stack limit
	MaxSteps  uint64    // total instruction budget, 0 = unlimited
	Tracer    Tracer    // diagnostic sink, nil = discard
	Natives   *Registry // host capability table, nil = empty
	Profiler  *Profiler // nil = no profiling
}

// Interpreter executes one Program on an explicit call stack. It is not
// safe for concurrent use; run one program per interpreter at a time.
type Interpreter struct {
	program  *bytecode.Program
	natives  *Registry
	tracer   Tracer
	profiler *Profiler

	maxFrames int
	maxStack  int
	maxSteps  uint64

	frames []*callFrame
	steps  uint64
}

// New builds an interpreter for program. The program must not be mutated
// while the interpreter holds it.
func New(program *bytecode.Program, opts Options) *Interpreter {
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = DefaultMaxFrames
	}
	if opts.MaxStack <= 0 {
		opts.MaxStack = DefaultMaxStack
	}
	if opts.Tracer == nil {
		opts.Tracer = NopTracer{}
	}
	if opts.Natives == nil {
		opts.Natives = NewRegistry()
	}
	return &Interpreter{
		program:   program,
		natives:   opts.Natives,
		tracer:    opts.Tracer,
		profiler:  opts.Profiler,
		maxFrames: opts.MaxFrames,
		maxStack:  opts.MaxStack,
		maxSteps:  opts.MaxSteps,
	}
}

// Run executes the program's entry function to completion. It returns nil
// on success or the RuntimeFault that aborted execution. Execution leaves
// no state behind; a second Run starts fresh.
func (i *Interpreter) Run() error {
	entry, err := i.program.EntryFunction()
	if err != nil {
		return err
	}
	if !entry.IsManaged() {
		return &RuntimeFault{Function: entry.Name, Err: ErrNativeEntry}
	}
	i.frames = i.frames[:0]
	i.steps = 0
	if i.profiler != nil {
		i.profiler.countCall(entry.Name)
	}
	i.frames = append(i.frames, newFrame(entry, int(i.program.Entry)))
	return i.run()
}

// run drives the seeded call stack until it drains or a fault unwinds it.
func (i *Interpreter) run() error {
	for len(i.frames) > 0 {
		f := i.frames[len(i.frames)-1]
		y, err := i.step(f)
		if err != nil {
			return err
		}
		switch y.kind {
		case yieldCall:
			err = i.call(y.callee)
		case yieldReturn:
			err = i.ret()
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Step loop
// ---------------------------------------------------------------------------

// A frame yields control back to the driver only to call or to return;
// everything else, breakpoints included, stays inside the step loop.
type yieldKind int

const (
	yieldReturn yieldKind = iota
	yieldCall
)

type yield struct {
	kind   yieldKind
	callee uint32
}

// step executes instructions in f until the frame yields control. The
// program counter is left pointing at the instruction to resume with.
func (i *Interpreter) step(f *callFrame) (yield, error) {
	body := f.fn.Body
	for {
		if f.pc >= len(body) {
			// Fell off the end: implicit return.
			return yield{kind: yieldReturn}, nil
		}
		if i.maxSteps > 0 && i.steps >= i.maxSteps {
			return yield{}, i.fault(f, ErrStepBudget)
		}
		i.steps++
		in := body[f.pc]
		if i.profiler != nil {
			i.profiler.countOp(in.Op)
		}

		switch in.Op {
		case bytecode.OpLoadArg:
			idx := int(in.Arg)
			if idx >= len(f.locals) {
				return yield{}, i.fault(f, fmt.Errorf("%w: slot %d of %d", ErrLocalIndex, idx, len(f.locals)))
			}
			if err := i.pushOperand(f, f.locals[idx]); err != nil {
				return yield{}, err
			}
			f.pc++

		case bytecode.OpStoreArg:
			v, err := i.popOperand(f)
			if err != nil {
				return yield{}, err
			}
			idx := int(in.Arg)
			if idx >= len(f.locals) {
				return yield{}, i.fault(f, fmt.Errorf("%w: slot %d of %d", ErrLocalIndex, idx, len(f.locals)))
			}
			f.locals[idx] = v
			f.pc++

		case bytecode.OpAddU, bytecode.OpAddS, bytecode.OpSubU, bytecode.OpSubS,
			bytecode.OpMulU, bytecode.OpMulS, bytecode.OpDivU, bytecode.OpDivS:
			// The top of the stack is the left operand: for
			// non-commutative ops the first-pushed value lands on
			// the right-hand side.
			lhs, err := i.popOperand(f)
			if err != nil {
				return yield{}, err
			}
			rhs, err := i.popOperand(f)
			if err != nil {
				return yield{}, err
			}
			if rhs == 0 && (in.Op == bytecode.OpDivU || in.Op == bytecode.OpDivS) {
				return yield{}, i.fault(f, ErrDivisionByZero)
			}
			if err := i.pushOperand(f, evalBinary(in.Op, lhs, rhs)); err != nil {
				return yield{}, err
			}
			f.pc++

		case bytecode.OpJump:
			f.pc = int(in.Arg)

		case bytecode.OpBranchEq:
			v2, err := i.popOperand(f)
			if err != nil {
				return yield{}, err
			}
			v1, err := i.popOperand(f)
			if err != nil {
				return yield{}, err
			}
			if v1 == v2 {
				f.pc = int(in.Arg)
			} else {
				f.pc++
			}

		case bytecode.OpCall:
			f.pc++
			return yield{kind: yieldCall, callee: in.Arg}, nil

		case bytecode.OpRet:
			f.pc++
			return yield{kind: yieldReturn}, nil

		case bytecode.OpBreakpoint:
			// Advance first so the snapshot marks the instruction
			// that resumes execution.
			f.pc++
			i.tracer.Breakpoint(i.snapshot(f))

		default:
			return yield{}, i.fault(f, fmt.Errorf("%w 0x%02X", ErrUnknownOpcode, byte(in.Op)))
		}
	}
}

// evalBinary applies an arithmetic opcode. Signed variants reinterpret both
// u32 bit patterns as i32 and the result back again; wraparound follows
// two's complement in both domains. Division by zero is rejected before
// this is reached.
func evalBinary(op bytecode.Opcode, lhs, rhs uint32) uint32 {
	if op.IsSigned() {
		a, b := int32(lhs), int32(rhs)
		switch op {
		case bytecode.OpAddS:
			return uint32(a + b)
		case bytecode.OpSubS:
			return uint32(a - b)
		case bytecode.OpMulS:
			return uint32(a * b)
		case bytecode.OpDivS:
			return uint32(a / b)
		}
	}
	switch op {
	case bytecode.OpAddU:
		return lhs + rhs
	case bytecode.OpSubU:
		return lhs - rhs
	case bytecode.OpMulU:
		return lhs * rhs
	case bytecode.OpDivU:
		return lhs / rhs
	}
	return 0
}

// ---------------------------------------------------------------------------
// Call and return handling
// ---------------------------------------------------------------------------

// call dispatches a yielded call request. Managed callees get a fresh frame
// with arguments popped off the caller's stack; native callees complete
// synchronously against the host registry.
func (i *Interpreter) call(target uint32) error {
	caller := i.frames[len(i.frames)-1]
	if int(target) >= len(i.program.Functions) {
		return i.fault(caller, fmt.Errorf("%w: index %d of %d", ErrUnknownFunction, target, len(i.program.Functions)))
	}
	callee := &i.program.Functions[target]
	i.tracer.Call(callee.Name, caller.fn.Name)
	if i.profiler != nil {
		i.profiler.countCall(callee.Name)
	}

	if !callee.IsManaged() {
		return i.callNative(caller, callee)
	}

	if len(i.frames) >= i.maxFrames {
		return i.fault(caller, ErrCallDepth)
	}
	frame := newFrame(callee, int(target))
	if int(callee.ArgCount) > len(frame.locals) {
		return i.fault(caller, fmt.Errorf("%w: %d arguments, %d slots", ErrLocalIndex, callee.ArgCount, len(frame.locals)))
	}
	// Argument 0 receives the caller's top of stack; higher indices
	// receive progressively earlier pushes.
	for argIdx := 0; argIdx < int(callee.ArgCount); argIdx++ {
		v, err := i.popOperand(caller)
		if err != nil {
			return err
		}
		frame.locals[argIdx] = v
	}
	i.frames = append(i.frames, frame)
	return nil
}

// callNative completes a native call in place. No frame is pushed: the
// host operation runs, and its result (when the callee declares one) lands
// on the caller's stack.
func (i *Interpreter) callNative(caller *callFrame, callee *bytecode.Function) error {
	fn, ok := i.natives.Lookup(callee.Name)
	if !ok {
		return i.fault(caller, fmt.Errorf("%w %q", ErrUnknownNative, callee.Name))
	}
	result, produced := fn()
	if !callee.ReturnsValue {
		return nil
	}
	if !produced {
		return i.fault(caller, fmt.Errorf("%w %q", ErrNativeResult, callee.Name))
	}
	return i.pushOperand(caller, result)
}

// ret pops the finished frame and, when the function declares a result,
// reads it from the designated return slot (locals[argCount]) and pushes
// it onto the caller's stack if a caller remains.
func (i *Interpreter) ret() error {
	f := i.frames[len(i.frames)-1]
	i.frames = i.frames[:len(i.frames)-1]

	if !f.fn.ReturnsValue {
		i.tracer.Return(f.fn.Name, 0, false)
		return nil
	}
	slot := int(f.fn.ArgCount)
	if slot >= len(f.locals) {
		return i.fault(f, fmt.Errorf("%w: return slot %d of %d", ErrLocalIndex, slot, len(f.locals)))
	}
	result := f.locals[slot]
	i.tracer.Return(f.fn.Name, result, true)
	if len(i.frames) > 0 {
		return i.pushOperand(i.frames[len(i.frames)-1], result)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Operand stack helpers
// ---------------------------------------------------------------------------

func (i *Interpreter) pushOperand(f *callFrame, v uint32) error {
	if len(f.stack) >= i.maxStack {
		return i.fault(f, ErrStackDepth)
	}
	f.push(v)
	return nil
}

func (i *Interpreter) popOperand(f *callFrame) (uint32, error) {
	v, ok := f.pop()
	if !ok {
		return 0, i.fault(f, ErrStackUnderflow)
	}
	return v, nil
}

// snapshot captures the frame for a breakpoint. Stack and locals are
// copied, stack top first; the body is shared since programs are
// immutable.
func (i *Interpreter) snapshot(f *callFrame) Snapshot {
	stack := make([]uint32, len(f.stack))
	for idx, v := range f.stack {
		stack[len(f.stack)-1-idx] = v
	}
	locals := make([]uint32, len(f.locals))
	copy(locals, f.locals)
	return Snapshot{
		Function: f.fn.Name,
		PC:       f.pc,
		Code:     f.fn.Body,
		Stack:    stack,
		Locals:   locals,
	}
}

func (i *Interpreter) fault(f *callFrame, err error) error {
	return &RuntimeFault{Function: f.fn.Name, PC: f.pc, Err: err}
}
