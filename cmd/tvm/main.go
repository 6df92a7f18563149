// tvm CLI - assemble, run, and inspect stack machine programs
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/darksv/interpreter/asm"
	"github.com/darksv/interpreter/manifest"
	"github.com/darksv/interpreter/pkg/bytecode"
	"github.com/darksv/interpreter/server"
	"github.com/darksv/interpreter/vm"
)

// imageExt marks compiled program images; everything else is loaded as
// assembly source.
const imageExt = ".tvmi"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		handleRunCommand(os.Args[2:])
	case "check":
		handleCheckCommand(os.Args[2:])
	case "disasm":
		handleDisasmCommand(os.Args[2:])
	case "build":
		handleBuildCommand(os.Args[2:])
	case "history":
		handleHistoryCommand(os.Args[2:])
	case "lsp":
		handleLspCommand()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: tvm <command> [options] [arguments]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run      Load a program and execute its entry function\n")
	fmt.Fprintf(os.Stderr, "  check    Load programs and report assembly errors\n")
	fmt.Fprintf(os.Stderr, "  disasm   Print the disassembly of a program\n")
	fmt.Fprintf(os.Stderr, "  build    Assemble a source file into a program image\n")
	fmt.Fprintf(os.Stderr, "  history  List recorded runs\n")
	fmt.Fprintf(os.Stderr, "  lsp      Start the language server on stdio\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  tvm run examples/countdown.asm    # Assemble and run\n")
	fmt.Fprintf(os.Stderr, "  tvm run -quiet -profile prog.asm  # Run with an execution profile\n")
	fmt.Fprintf(os.Stderr, "  tvm build -o prog.tvmi prog.asm   # Compile to an image\n")
	fmt.Fprintf(os.Stderr, "  tvm run prog.tvmi                 # Run a compiled image\n")
	fmt.Fprintf(os.Stderr, "  tvm history -n 20                 # Show the last 20 runs\n")
}

// handleRunCommand processes the `tvm run` subcommand: load the program,
// print its disassembly, and execute the entry function with trace output
// in the formats the interpreter has always used.
func handleRunCommand(args []string) {
	m := projectManifest()

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	quiet := fs.Bool("quiet", false, "Suppress disassembly and trace output")
	profile := fs.Bool("profile", false, "Print an execution profile after the run")
	record := fs.Bool("record", false, "Record the run in the history store")
	maxFrames := fs.Int("max-frames", m.Limits.MaxFrames, "Call depth limit")
	maxStack := fs.Int("max-stack", m.Limits.MaxStack, "Per-frame operand stack limit")
	maxSteps := fs.Uint64("max-steps", m.Limits.MaxSteps, "Instruction budget, 0 means unlimited")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	path := fs.Arg(0)
	if path == "" && m.Project.Entry != "" {
		path = m.Project.Entry
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.Dir, path)
		}
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "Usage: tvm run [options] <program>")
		os.Exit(1)
	}

	program, err := loadProgram(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !*quiet && m.Trace.Disassembly {
		fmt.Print(bytecode.Disassemble(program))
	}

	var tracer vm.Tracer = vm.NopTracer{}
	if !*quiet {
		out := io.Writer(os.Stdout)
		errw := io.Writer(os.Stderr)
		if !m.Trace.Breakpoints {
			out = io.Discard
		}
		if !m.Trace.Calls {
			errw = io.Discard
		}
		tracer = vm.NewStreamTracer(out, errw)
	}

	recording := *record || m.History.Enabled
	var prof *vm.Profiler
	if *profile || recording {
		prof = vm.NewProfiler()
	}

	interp := vm.New(program, vm.Options{
		MaxFrames: *maxFrames,
		MaxStack:  *maxStack,
		MaxSteps:  *maxSteps,
		Tracer:    tracer,
		Natives:   vm.DefaultRegistry(),
		Profiler:  prof,
	})

	started := time.Now()
	runErr := interp.Run()
	elapsed := time.Since(started)

	if recording {
		if err := recordRun(m, program.Name, runErr, prof.Steps(), elapsed, started); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: recording run: %v\n", err)
		}
	}
	if *profile {
		prof.WriteReport(os.Stderr)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
}

// handleCheckCommand processes the `tvm check` subcommand: load each file
// and report the first error, without executing anything.
func handleCheckCommand(args []string) {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: tvm check <file>...")
		os.Exit(1)
	}

	failed := false
	for _, path := range fs.Args() {
		if _, err := asm.LoadFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}
		fmt.Printf("%s: ok\n", path)
	}
	if failed {
		os.Exit(1)
	}
}

func handleLspCommand() {
	srv := server.NewLSP()
	if err := srv.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

// loadProgram reads a compiled image or assembles a source file, picked by
// file extension.
func loadProgram(path string) (*bytecode.Program, error) {
	if filepath.Ext(path) == imageExt {
		return bytecode.ReadImageFile(path)
	}
	return asm.LoadFile(path)
}

// projectManifest loads the nearest tvm.toml, falling back to defaults
// rooted in the working directory.
func projectManifest() *manifest.Manifest {
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if m != nil {
		return m
	}

	def := manifest.Default()
	def.Dir = "."
	if cwd, err := os.Getwd(); err == nil {
		def.Dir = cwd
	}
	return &def
}
