// Package vm executes loaded bytecode programs.
//
// This package contains:
//   - Explicit heap-resident call stack with per-frame operand stacks
//   - Step loop dispatching the instruction set
//   - Native capability registry for host-provided functions
//   - Trace and breakpoint-snapshot side channel
//   - Optional execution profiler
package vm
