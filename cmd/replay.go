package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/taxfolio"
	"github.com/etnz/taxfolio/renderer"
	"github.com/google/subcommands"
)

type replayCmd struct {
	portfolio string
	year      int
	records   string
}

func (*replayCmd) Name() string     { return "replay" }
func (*replayCmd) Synopsis() string { return "replay event streams into disposals and income" }
func (*replayCmd) Usage() string {
	return `txf replay [-p <portfolio>] [-year <year>] [-records <file>]

  Replays the event streams and prints the disposals, income and expenses of a year.
  With -store, each portfolio resumes from its last snapshot and a new snapshot is saved.

Usage Examples:
# Replays every portfolio of the events folder and writes all records.
$ txf -events events/ replay -records records.jsonl

`
}

func (c *replayCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.portfolio, "p", "", "Portfolio to replay. Replays all by default.")
	f.IntVar(&c.year, "year", 0, "Year to report. Defaults to the year of the last event.")
	f.StringVar(&c.records, "records", "", "Write every record as JSONL to this file.")
}

func (c *replayCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	s, err := OpenStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store %q: %v\n", *storePath, err)
		return subcommands.ExitFailure
	}

	var results map[string]*taxfolio.Result
	if s != nil {
		defer s.Close()
		results, err = a.resume(s, c.portfolio)
	} else {
		results, err = a.replay(ctx, c.portfolio)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error replaying events: %v\n", err)
		return subcommands.ExitFailure
	}

	if c.records != "" {
		if err := writeRecords(c.records, results); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing records to %q: %v\n", c.records, err)
			return subcommands.ExitFailure
		}
	}

	for _, name := range sortedKeys(results) {
		res := results[name]
		year := c.year
		if year == 0 {
			year = res.LastDate.Year()
		}
		printMarkdown(renderer.Replay(res, year))
	}
	return subcommands.ExitSuccess
}

func writeRecords(path string, results map[string]*taxfolio.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	for _, name := range sortedKeys(results) {
		if err := results[name].EncodeRecords(f); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}
