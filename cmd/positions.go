package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/taxfolio/renderer"
	"github.com/google/subcommands"
)

type positionsCmd struct {
	portfolio string
}

func (*positionsCmd) Name() string     { return "positions" }
func (*positionsCmd) Synopsis() string { return "list the open lots after the last event" }
func (*positionsCmd) Usage() string {
	return `txf positions [-p <portfolio>]

  Replays the event streams and lists the open lots of each portfolio in FIFO order.
`
}

func (c *positionsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.portfolio, "p", "", "Portfolio to list. Lists all by default.")
}

func (c *positionsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, err := newApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	results, err := a.replay(ctx, c.portfolio)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error replaying events: %v\n", err)
		return subcommands.ExitFailure
	}
	for _, name := range sortedKeys(results) {
		res := results[name]
		printMarkdown(fmt.Sprintf("# Portfolio %s on %s\n\n", name, res.LastDate) + renderer.Positions(res.Lots))
	}
	return subcommands.ExitSuccess
}
