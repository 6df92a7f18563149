package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/darksv/interpreter/history"
	"github.com/darksv/interpreter/manifest"
)

// handleHistoryCommand processes the `tvm history` subcommand.
// Usage:
//
//	tvm history                    # last 10 runs
//	tvm history -n 50              # last 50 runs
//	tvm history -program prog.asm  # runs of one program
func handleHistoryCommand(args []string) {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	limit := fs.Int("n", 10, "Maximum number of runs to list")
	program := fs.String("program", "", "Only list runs of the named program")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	m := projectManifest()
	store, err := history.Open(m.HistoryPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening history: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	var runs []history.Run
	if *program != "" {
		runs, err = store.ByProgram(*program, *limit)
	} else {
		runs, err = store.Recent(*limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing runs: %v\n", err)
		os.Exit(1)
	}

	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return
	}
	for _, r := range runs {
		fmt.Printf("%s  %-24s  %8d steps  %12s  %s\n",
			r.Started.Local().Format("2006-01-02 15:04:05"),
			r.Program, r.Steps, r.Duration, r.Outcome)
	}
}

// recordRun appends one run to the project history store.
func recordRun(m *manifest.Manifest, program string, runErr error, steps uint64, elapsed time.Duration, started time.Time) error {
	store, err := history.Open(m.HistoryPath())
	if err != nil {
		return err
	}
	defer store.Close()

	outcome := "ok"
	if runErr != nil {
		outcome = runErr.Error()
	}
	_, err = store.Record(history.Run{
		Program:  program,
		Outcome:  outcome,
		Steps:    steps,
		Duration: elapsed,
		Started:  started,
	})
	return err
}
