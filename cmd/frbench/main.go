package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	_ "go.uber.org/automaxprocs"
)

type options struct{}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = "firmware fuzzer benchmark"
	parser.LongDescription = "Runs fuzzing campaigns against firmware targets, replays their findings " +
		"and summarizes how fast each fuzzer reached and triggered the known bugs."

	mustAdd(parser.AddCommand("fuzz", "Run fuzzing campaigns",
		"Schedules every fuzzer against every selected target, one trial per core.", &fuzzCommand{}))
	mustAdd(parser.AddCommand("analyze", "Replay a finished campaign and write its report",
		"Replays the corpus and crashes of every trial in a result directory and writes frb_report.json.", &analyzeCommand{}))
	mustAdd(parser.AddCommand("summarize", "Summarize campaign reports",
		"Prints median reach and trigger times per bug for one or more frb_report.json files.", &summarizeCommand{}))

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		var exitErr exitError
		switch {
		case errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp:
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		case errors.As(err, &exitErr):
			os.Exit(exitErr.code)
		default:
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}

func mustAdd(_ *flags.Command, err error) {
	if err != nil {
		panic(err)
	}
}
