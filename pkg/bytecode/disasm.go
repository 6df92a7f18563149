package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble renders the canonical listing of a program:
//
//	Assembly 'prog' with entry point 'main':
//	 Function #0 'main' - locals: 2:
//	  ldarg 0
//	  ret
//	 Function #1 'clock' - native
//
// The run command prints this listing before executing a program.
func Disassemble(p *Program) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assembly '%s' with entry point '%s':\n", p.Name, entryName(p))
	for idx := range p.Functions {
		writeFunction(&b, idx, &p.Functions[idx])
	}
	return b.String()
}

func entryName(p *Program) string {
	fn, err := p.EntryFunction()
	if err != nil {
		return "?"
	}
	return fn.Name
}

func writeFunction(b *strings.Builder, idx int, fn *Function) {
	if !fn.IsManaged() {
		fmt.Fprintf(b, " Function #%d '%s' - native\n", idx, fn.Name)
		return
	}
	fmt.Fprintf(b, " Function #%d '%s' - locals: %d:\n", idx, fn.Name, len(fn.DefaultLocals))
	for _, in := range fn.Body {
		fmt.Fprintf(b, "  %s\n", in)
	}
}
