package vm

import (
	"fmt"
	"io"
	"sort"

	"github.com/darksv/interpreter/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Execution profiler
// ---------------------------------------------------------------------------

// Profiler counts function invocations and executed opcodes during a run.
// Attach one through Options; a nil profiler costs nothing.
type Profiler struct {
	calls map[string]uint64
	ops   map[bytecode.Opcode]uint64
	steps uint64
}

func NewProfiler() *Profiler {
	return &Profiler{
		calls: make(map[string]uint64),
		ops:   make(map[bytecode.Opcode]uint64),
	}
}

func (p *Profiler) countCall(name string) {
	p.calls[name]++
}

func (p *Profiler) countOp(op bytecode.Opcode) {
	p.ops[op]++
	p.steps++
}

// Steps returns the total number of instructions executed.
func (p *Profiler) Steps() uint64 {
	return p.steps
}

// FunctionCount is one row of the invocation report.
type FunctionCount struct {
	Name  string
	Count uint64
}

// OpcodeCount is one row of the opcode report.
type OpcodeCount struct {
	Op    bytecode.Opcode
	Count uint64
}

// FunctionCounts returns invocation counts, most-called first; ties break
// by name so the report is stable.
func (p *Profiler) FunctionCounts() []FunctionCount {
	rows := make([]FunctionCount, 0, len(p.calls))
	for name, count := range p.calls {
		rows = append(rows, FunctionCount{Name: name, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Name < rows[j].Name
	})
	return rows
}

// OpcodeCounts returns executed-opcode counts, most-executed first; ties
// break by opcode value.
func (p *Profiler) OpcodeCounts() []OpcodeCount {
	rows := make([]OpcodeCount, 0, len(p.ops))
	for op, count := range p.ops {
		rows = append(rows, OpcodeCount{Op: op, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Op < rows[j].Op
	})
	return rows
}

// WriteReport writes the human-readable profile.
func (p *Profiler) WriteReport(w io.Writer) {
	fmt.Fprintf(w, "Executed %d instructions\n", p.steps)
	fmt.Fprintln(w, "Calls:")
	for _, row := range p.FunctionCounts() {
		fmt.Fprintf(w, "  %8d  %s\n", row.Count, row.Name)
	}
	fmt.Fprintln(w, "Opcodes:")
	for _, row := range p.OpcodeCounts() {
		fmt.Fprintf(w, "  %8d  %s\n", row.Count, row.Op)
	}
}
