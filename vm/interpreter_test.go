package vm

import (
	"errors"
	"reflect"
	"testing"

	"github.com/darksv/interpreter/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type returnEvent struct {
	fn     string
	result uint32
	has    bool
}

// recordingTracer captures every diagnostic event for assertions.
type recordingTracer struct {
	calls   [][2]string // callee, caller
	returns []returnEvent
	snaps   []Snapshot
}

func (t *recordingTracer) Call(callee, caller string) {
	t.calls = append(t.calls, [2]string{callee, caller})
}

func (t *recordingTracer) Return(fn string, result uint32, has bool) {
	t.returns = append(t.returns, returnEvent{fn, result, has})
}

func (t *recordingTracer) Breakpoint(snap Snapshot) {
	t.snaps = append(t.snaps, snap)
}

func managedFn(name string, argCount uint16, returns bool, locals []uint32, body ...bytecode.Instruction) bytecode.Function {
	return bytecode.Function{
		Kind:          bytecode.FunctionManaged,
		Name:          name,
		ArgCount:      argCount,
		ReturnsValue:  returns,
		DefaultLocals: locals,
		Body:          body,
	}
}

func nativeFn(name string, argCount uint16, returns bool) bytecode.Function {
	return bytecode.Function{
		Kind:         bytecode.FunctionNative,
		Name:         name,
		ArgCount:     argCount,
		ReturnsValue: returns,
	}
}

func programOf(entry uint16, fns ...bytecode.Function) *bytecode.Program {
	return &bytecode.Program{Name: "test", Entry: entry, Functions: fns}
}

// addFn is the two-argument adder: locals[2] = locals[0] + locals[1].
func addFn() bytecode.Function {
	return managedFn("add", 2, true, []uint32{0, 0, 0},
		bytecode.Inst(bytecode.OpLoadArg, 0),
		bytecode.Inst(bytecode.OpLoadArg, 1),
		bytecode.Inst(bytecode.OpAddU, 0),
		bytecode.Inst(bytecode.OpStoreArg, 2),
		bytecode.Inst(bytecode.OpRet, 0),
	)
}

// ---------------------------------------------------------------------------
// Calls, arguments, and returns
// ---------------------------------------------------------------------------

// A hand-seeded frame drives the call machinery one phase at a time:
// arguments must arrive with the caller's top of stack in slot 0, and the
// result must come back onto the caller's stack.
func TestCallArgumentOrderAndResult(t *testing.T) {
	p := programOf(1, addFn(), managedFn("main", 0, false, nil))
	i := New(p, Options{})

	main := newFrame(&p.Functions[1], 1)
	i.frames = append(i.frames, main)
	main.push(2)
	main.push(3)

	if err := i.call(0); err != nil {
		t.Fatalf("call failed: %v", err)
	}
	callee := i.frames[len(i.frames)-1]
	if callee.fn.Name != "add" {
		t.Fatalf("top frame is %q, want add", callee.fn.Name)
	}
	if callee.locals[0] != 3 || callee.locals[1] != 2 {
		t.Errorf("callee locals = %v, want [3 2 0]", callee.locals)
	}
	if len(main.stack) != 0 {
		t.Errorf("caller stack not drained: %v", main.stack)
	}

	y, err := i.step(callee)
	if err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if y.kind != yieldReturn {
		t.Fatalf("yield kind = %d, want return", y.kind)
	}
	if err := i.ret(); err != nil {
		t.Fatalf("ret failed: %v", err)
	}

	got, ok := main.pop()
	if !ok || got != 5 {
		t.Errorf("result on caller stack = %d (ok=%v), want 5", got, ok)
	}
}

func TestRunThroughEntry(t *testing.T) {
	// main sums its two preset slots through add and stores the result
	// in its return slot.
	main := managedFn("main", 0, true, []uint32{0, 2, 3},
		bytecode.Inst(bytecode.OpLoadArg, 1),
		bytecode.Inst(bytecode.OpLoadArg, 2),
		bytecode.Inst(bytecode.OpCall, 1),
		bytecode.Inst(bytecode.OpStoreArg, 0),
		bytecode.Inst(bytecode.OpRet, 0),
	)
	p := programOf(0, main, addFn())
	tracer := &recordingTracer{}

	if err := New(p, Options{Tracer: tracer}).Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	wantReturns := []returnEvent{
		{"add", 5, true},
		{"main", 5, true},
	}
	if !reflect.DeepEqual(tracer.returns, wantReturns) {
		t.Errorf("returns = %v, want %v", tracer.returns, wantReturns)
	}
	wantCalls := [][2]string{{"add", "main"}}
	if !reflect.DeepEqual(tracer.calls, wantCalls) {
		t.Errorf("calls = %v, want %v", tracer.calls, wantCalls)
	}
}

func TestCallStackBalance(t *testing.T) {
	// main -> f -> g, f called twice. Every pushed frame must be popped
	// and the stack must be empty afterwards.
	g := managedFn("g", 0, false, nil,
		bytecode.Inst(bytecode.OpRet, 0),
	)
	f := managedFn("f", 0, false, nil,
		bytecode.Inst(bytecode.OpCall, 2),
		bytecode.Inst(bytecode.OpRet, 0),
	)
	main := managedFn("main", 0, false, nil,
		bytecode.Inst(bytecode.OpCall, 1),
		bytecode.Inst(bytecode.OpCall, 1),
		bytecode.Inst(bytecode.OpRet, 0),
	)
	p := programOf(0, main, f, g)
	tracer := &recordingTracer{}
	i := New(p, Options{Tracer: tracer})

	if err := i.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(i.frames) != 0 {
		t.Errorf("call stack not empty after run: %d frames", len(i.frames))
	}
	// One return per call, plus the entry frame's own return.
	if got, want := len(tracer.returns), len(tracer.calls)+1; got != want {
		t.Errorf("returns = %d, want %d", got, want)
	}
}

func TestImplicitReturn(t *testing.T) {
	// No ret instruction anywhere: both frames fall off the end of their
	// bodies.
	leaf := managedFn("leaf", 0, true, []uint32{99})
	main := managedFn("main", 0, true, []uint32{0},
		bytecode.Inst(bytecode.OpCall, 1),
		bytecode.Inst(bytecode.OpStoreArg, 0),
	)
	p := programOf(0, main, leaf)
	tracer := &recordingTracer{}

	if err := New(p, Options{Tracer: tracer}).Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []returnEvent{
		{"leaf", 99, true},
		{"main", 99, true},
	}
	if !reflect.DeepEqual(tracer.returns, want) {
		t.Errorf("returns = %v, want %v", tracer.returns, want)
	}
}

func TestRunTwiceStartsFresh(t *testing.T) {
	main := managedFn("main", 0, true, []uint32{0, 4, 4},
		bytecode.Inst(bytecode.OpLoadArg, 1),
		bytecode.Inst(bytecode.OpLoadArg, 2),
		bytecode.Inst(bytecode.OpMulU, 0),
		bytecode.Inst(bytecode.OpStoreArg, 0),
		bytecode.Inst(bytecode.OpRet, 0),
	)
	p := programOf(0, main)
	tracer := &recordingTracer{}
	i := New(p, Options{Tracer: tracer})

	for run := 0; run < 2; run++ {
		if err := i.Run(); err != nil {
			t.Fatalf("run %d failed: %v", run, err)
		}
	}
	want := []returnEvent{
		{"main", 16, true},
		{"main", 16, true},
	}
	if !reflect.DeepEqual(tracer.returns, want) {
		t.Errorf("returns = %v, want %v", tracer.returns, want)
	}
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestLoopWithBranches(t *testing.T) {
	// Sums 3+2+1 by counting the counter slot down to zero.
	// Slots: 0 return, 1 counter, 2 one, 3 zero, 4 accumulator.
	main := managedFn("main", 0, true, []uint32{0, 3, 1, 0, 0},
		bytecode.Inst(bytecode.OpLoadArg, 1), // 0: counter
		bytecode.Inst(bytecode.OpLoadArg, 3), // 1: zero
		bytecode.Inst(bytecode.OpBranchEq, 12),
		bytecode.Inst(bytecode.OpLoadArg, 4), // 3: acc
		bytecode.Inst(bytecode.OpLoadArg, 1), // 4: counter
		bytecode.Inst(bytecode.OpAddU, 0),
		bytecode.Inst(bytecode.OpStoreArg, 4),
		bytecode.Inst(bytecode.OpLoadArg, 2), // 7: one
		bytecode.Inst(bytecode.OpLoadArg, 1), // 8: counter
		bytecode.Inst(bytecode.OpSubU, 0),    // counter - 1
		bytecode.Inst(bytecode.OpStoreArg, 1),
		bytecode.Inst(bytecode.OpJump, 0),
		bytecode.Inst(bytecode.OpLoadArg, 4), // 12: done
		bytecode.Inst(bytecode.OpStoreArg, 0),
		bytecode.Inst(bytecode.OpRet, 0),
	)
	p := programOf(0, main)
	tracer := &recordingTracer{}

	if err := New(p, Options{Tracer: tracer}).Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []returnEvent{{"main", 6, true}}
	if !reflect.DeepEqual(tracer.returns, want) {
		t.Errorf("returns = %v, want %v", tracer.returns, want)
	}
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func s32(v int32) uint32 {
	return uint32(v)
}

func TestEvalBinary(t *testing.T) {
	tests := []struct {
		name string
		op   bytecode.Opcode
		lhs  uint32
		rhs  uint32
		want uint32
	}{
		{"unsigned add", bytecode.OpAddU, 2, 3, 5},
		{"unsigned add wraps", bytecode.OpAddU, 0xFFFFFFFF, 1, 0},
		{"unsigned sub", bytecode.OpSubU, 7, 2, 5},
		{"unsigned sub wraps", bytecode.OpSubU, 1, 2, 0xFFFFFFFF},
		{"unsigned mul", bytecode.OpMulU, 6, 7, 42},
		{"unsigned mul wraps", bytecode.OpMulU, 0x80000000, 2, 0},
		{"unsigned div", bytecode.OpDivU, 0xFFFFFFFE, 2, 0x7FFFFFFF},
		{"signed add", bytecode.OpAddS, s32(-3), 5, 2},
		{"signed sub", bytecode.OpSubS, s32(-3), 5, s32(-8)},
		{"signed mul", bytecode.OpMulS, s32(-4), 3, s32(-12)},
		{"signed div truncates", bytecode.OpDivS, s32(-7), 2, s32(-3)},
		{"signed div negative divisor", bytecode.OpDivS, 7, s32(-2), s32(-3)},
		{"signed div overflow wraps", bytecode.OpDivS, 0x80000000, s32(-1), 0x80000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evalBinary(tt.op, tt.lhs, tt.rhs); got != tt.want {
				t.Errorf("evalBinary(%s, %#x, %#x) = %#x, want %#x", tt.op, tt.lhs, tt.rhs, got, tt.want)
			}
		})
	}
}

func TestOperandOrderThroughStack(t *testing.T) {
	// 10 - 4: the subtrahend is pushed first so it lands on the right.
	main := managedFn("main", 0, true, []uint32{0, 10, 4},
		bytecode.Inst(bytecode.OpLoadArg, 2), // push 4 first
		bytecode.Inst(bytecode.OpLoadArg, 1), // 10 on top
		bytecode.Inst(bytecode.OpSubU, 0),
		bytecode.Inst(bytecode.OpStoreArg, 0),
		bytecode.Inst(bytecode.OpRet, 0),
	)
	p := programOf(0, main)
	tracer := &recordingTracer{}

	if err := New(p, Options{Tracer: tracer}).Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := tracer.returns[0].result; got != 6 {
		t.Errorf("10 - 4 = %d, want 6", got)
	}
}

// ---------------------------------------------------------------------------
// Breakpoints
// ---------------------------------------------------------------------------

func TestBreakpointSnapshot(t *testing.T) {
	main := managedFn("main", 0, false, []uint32{7, 9, 0, 0},
		bytecode.Inst(bytecode.OpLoadArg, 0),
		bytecode.Inst(bytecode.OpLoadArg, 1),
		bytecode.Inst(bytecode.OpBreakpoint, 0),
		bytecode.Inst(bytecode.OpStoreArg, 2),
		bytecode.Inst(bytecode.OpStoreArg, 3),
		bytecode.Inst(bytecode.OpBreakpoint, 0),
	)
	p := programOf(0, main)
	tracer := &recordingTracer{}

	if err := New(p, Options{Tracer: tracer}).Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(tracer.snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(tracer.snaps))
	}

	first := tracer.snaps[0]
	if first.Function != "main" {
		t.Errorf("snapshot function = %q, want main", first.Function)
	}
	// The marker points at the instruction after the breakpoint.
	if first.PC != 3 {
		t.Errorf("snapshot pc = %d, want 3", first.PC)
	}
	if want := []uint32{9, 7}; !reflect.DeepEqual(first.Stack, want) {
		t.Errorf("snapshot stack = %v, want %v (top first)", first.Stack, want)
	}
	if want := []uint32{7, 9, 0, 0}; !reflect.DeepEqual(first.Locals, want) {
		t.Errorf("snapshot locals = %v, want %v", first.Locals, want)
	}

	second := tracer.snaps[1]
	if len(second.Stack) != 0 {
		t.Errorf("final stack = %v, want empty", second.Stack)
	}
	if want := []uint32{7, 9, 9, 7}; !reflect.DeepEqual(second.Locals, want) {
		t.Errorf("final locals = %v, want %v", second.Locals, want)
	}
}

func TestBreakpointTransparency(t *testing.T) {
	body := func(withBreakpoints bool) []bytecode.Instruction {
		var code []bytecode.Instruction
		push := func(in bytecode.Instruction) {
			if withBreakpoints {
				code = append(code, bytecode.Inst(bytecode.OpBreakpoint, 0))
			}
			code = append(code, in)
		}
		push(bytecode.Inst(bytecode.OpLoadArg, 1))
		push(bytecode.Inst(bytecode.OpLoadArg, 2))
		push(bytecode.Inst(bytecode.OpMulU, 0))
		push(bytecode.Inst(bytecode.OpStoreArg, 0))
		push(bytecode.Inst(bytecode.OpRet, 0))
		return code
	}

	run := func(code []bytecode.Instruction) *recordingTracer {
		t.Helper()
		main := managedFn("main", 0, true, []uint32{0, 6, 7}, code...)
		tracer := &recordingTracer{}
		if err := New(programOf(0, main), Options{Tracer: tracer}).Run(); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return tracer
	}

	plain := run(body(false))
	traced := run(body(true))

	if !reflect.DeepEqual(plain.returns, traced.returns) {
		t.Errorf("breakpoints changed results: %v vs %v", plain.returns, traced.returns)
	}
	if len(plain.snaps) != 0 {
		t.Errorf("plain run emitted %d snapshots", len(plain.snaps))
	}
	if len(traced.snaps) != 5 {
		t.Errorf("traced run emitted %d snapshots, want 5", len(traced.snaps))
	}
}

// ---------------------------------------------------------------------------
// Native dispatch
// ---------------------------------------------------------------------------

func TestNativeCall(t *testing.T) {
	natives := NewRegistry()
	natives.Register("seven", func() (uint32, bool) { return 7, true })

	main := managedFn("main", 0, true, []uint32{0},
		bytecode.Inst(bytecode.OpCall, 1),
		bytecode.Inst(bytecode.OpStoreArg, 0),
		bytecode.Inst(bytecode.OpRet, 0),
	)
	p := programOf(0, main, nativeFn("seven", 0, true))
	tracer := &recordingTracer{}

	if err := New(p, Options{Tracer: tracer, Natives: natives}).Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := []returnEvent{{"main", 7, true}}
	if !reflect.DeepEqual(tracer.returns, want) {
		t.Errorf("returns = %v, want %v", tracer.returns, want)
	}
	wantCalls := [][2]string{{"seven", "main"}}
	if !reflect.DeepEqual(tracer.calls, wantCalls) {
		t.Errorf("calls = %v, want %v", tracer.calls, wantCalls)
	}
}

func TestNativeWithoutResultDeclaration(t *testing.T) {
	// The native yields a value but the declaration says it returns
	// nothing, so the value must be discarded.
	natives := NewRegistry()
	natives.Register("noisy", func() (uint32, bool) { return 123, true })

	main := managedFn("main", 0, false, nil,
		bytecode.Inst(bytecode.OpCall, 1),
		bytecode.Inst(bytecode.OpRet, 0),
	)
	p := programOf(0, main, nativeFn("noisy", 0, false))

	if err := New(p, Options{Natives: natives}).Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Faults
// ---------------------------------------------------------------------------

func TestRuntimeFaults(t *testing.T) {
	divProgram := programOf(0, managedFn("main", 0, false, []uint32{5, 0},
		bytecode.Inst(bytecode.OpLoadArg, 1), // divisor 0, pushed first
		bytecode.Inst(bytecode.OpLoadArg, 0),
		bytecode.Inst(bytecode.OpDivU, 0),
	))

	tests := []struct {
		name    string
		program *bytecode.Program
		opts    Options
		want    error
	}{
		{
			"stack underflow",
			programOf(0, managedFn("main", 0, false, nil,
				bytecode.Inst(bytecode.OpAddU, 0),
			)),
			Options{},
			ErrStackUnderflow,
		},
		{
			"division by zero",
			divProgram,
			Options{},
			ErrDivisionByZero,
		},
		{
			"load local out of range",
			programOf(0, managedFn("main", 0, false, []uint32{1},
				bytecode.Inst(bytecode.OpLoadArg, 5),
			)),
			Options{},
			ErrLocalIndex,
		},
		{
			"store local out of range",
			programOf(0, managedFn("main", 0, false, []uint32{1},
				bytecode.Inst(bytecode.OpLoadArg, 0),
				bytecode.Inst(bytecode.OpStoreArg, 9),
			)),
			Options{},
			ErrLocalIndex,
		},
		{
			"call target out of range",
			programOf(0, managedFn("main", 0, false, nil,
				bytecode.Inst(bytecode.OpCall, 9),
			)),
			Options{},
			ErrUnknownFunction,
		},
		{
			"unknown opcode",
			programOf(0, managedFn("main", 0, false, nil,
				bytecode.Inst(bytecode.Opcode(0xEE), 0),
			)),
			Options{},
			ErrUnknownOpcode,
		},
		{
			"unregistered native",
			programOf(0, managedFn("main", 0, false, nil,
				bytecode.Inst(bytecode.OpCall, 1),
			), nativeFn("missing", 0, true)),
			Options{},
			ErrUnknownNative,
		},
		{
			"native without result",
			programOf(0, managedFn("main", 0, false, nil,
				bytecode.Inst(bytecode.OpCall, 1),
			), nativeFn("empty", 0, true)),
			Options{Natives: func() *Registry {
				r := NewRegistry()
				r.Register("empty", func() (uint32, bool) { return 0, false })
				return r
			}()},
			ErrNativeResult,
		},
		{
			"native entry point",
			programOf(0, nativeFn("clock", 0, true)),
			Options{},
			ErrNativeEntry,
		},
		{
			"call depth limit",
			programOf(0, managedFn("main", 0, false, nil,
				bytecode.Inst(bytecode.OpCall, 0),
			)),
			Options{MaxFrames: 8},
			ErrCallDepth,
		},
		{
			"operand stack limit",
			programOf(0, managedFn("main", 0, false, []uint32{1},
				bytecode.Inst(bytecode.OpLoadArg, 0),
				bytecode.Inst(bytecode.OpJump, 0),
			)),
			Options{MaxStack: 16},
			ErrStackDepth,
		},
		{
			"step budget",
			programOf(0, managedFn("main", 0, false, nil,
				bytecode.Inst(bytecode.OpJump, 0),
			)),
			Options{MaxSteps: 100},
			ErrStepBudget,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.program, tt.opts).Run()
			if err == nil {
				t.Fatal("Run should have faulted")
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			var fault *RuntimeFault
			if !errors.As(err, &fault) {
				t.Errorf("err = %T, want *RuntimeFault", err)
			}
		})
	}
}

func TestFaultLocation(t *testing.T) {
	p := programOf(0, managedFn("main", 0, false, []uint32{5, 0},
		bytecode.Inst(bytecode.OpLoadArg, 1),
		bytecode.Inst(bytecode.OpLoadArg, 0),
		bytecode.Inst(bytecode.OpDivU, 0),
	))
	err := New(p, Options{}).Run()

	var fault *RuntimeFault
	if !errors.As(err, &fault) {
		t.Fatalf("err = %T, want *RuntimeFault", err)
	}
	if fault.Function != "main" || fault.PC != 2 {
		t.Errorf("fault at %q/[%04d], want main/[0002]", fault.Function, fault.PC)
	}
	want := "fault in 'main' at [0002]: division by zero"
	if got := fault.Error(); got != want {
		t.Errorf("message = %q, want %q", got, want)
	}
}

func TestEntryIndexOutOfRange(t *testing.T) {
	p := &bytecode.Program{Name: "test", Entry: 5, Functions: []bytecode.Function{
		managedFn("main", 0, false, nil),
	}}
	if err := New(p, Options{}).Run(); err == nil {
		t.Error("Run should have failed")
	}
}
