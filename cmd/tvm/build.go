package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/darksv/interpreter/asm"
	"github.com/darksv/interpreter/pkg/bytecode"
)

// handleBuildCommand processes the `tvm build` subcommand.
// Usage:
//
//	tvm build prog.asm             # prog.tvmi
//	tvm build -o myapp.tvmi prog.asm
func handleBuildCommand(args []string) {
	fs := flag.NewFlagSet("build", flag.ContinueOnError)
	output := fs.String("o", "", "Output image path (default: source name with .tvmi)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	path := fs.Arg(0)
	if path == "" {
		fmt.Fprintln(os.Stderr, "Usage: tvm build [-o output] <file.asm>")
		os.Exit(1)
	}

	program, err := asm.LoadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	out := *output
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + imageExt
	}
	if err := bytecode.WriteImageFile(out, program); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// handleDisasmCommand processes the `tvm disasm` subcommand. It accepts
// both assembly sources and compiled images.
func handleDisasmCommand(args []string) {
	fs := flag.NewFlagSet("disasm", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	path := fs.Arg(0)
	if path == "" {
		fmt.Fprintln(os.Stderr, "Usage: tvm disasm <program>")
		os.Exit(1)
	}

	program, err := loadProgram(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(bytecode.Disassemble(program))
}
