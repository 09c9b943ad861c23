package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/etnz/taxfolio"
	"github.com/etnz/taxfolio/date"
	"github.com/etnz/taxfolio/renderer"
	"github.com/etnz/taxfolio/tax"
	"github.com/google/subcommands"
)

type taxesCmd struct {
	config    string
	year      int
	portfolio string
	details   bool
}

func (*taxesCmd) Name() string     { return "taxes" }
func (*taxesCmd) Synopsis() string { return "compute the tax due for a year" }
func (*taxesCmd) Usage() string {
	return `txf taxes [-config <file>] [-year <year>] [-p <portfolio>] [-details]

  Replays the event streams from the start and computes the tax of a year over all
  portfolios, or a single one with -p. The accounts section of the configuration
  gives a portfolio its own exemptions.

Usage Examples:
# Tax of last year under the Russian preset.
$ txf -preset russia taxes -config tax.yaml

`
}

func (c *taxesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "tax.yaml", "Path to the tax configuration (YAML).")
	f.IntVar(&c.year, "year", date.Today().Year()-1, "Tax year.")
	f.StringVar(&c.portfolio, "p", "", "Portfolio to tax. Taxes all together by default.")
	f.BoolVar(&c.details, "details", false, "Also list the disposals and income of the year.")
}

func (c *taxesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := tax.LoadConfig(c.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading tax configuration %q: %v\n", c.config, err)
		return subcommands.ExitFailure
	}
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

	var disposals []taxfolio.Disposal
	var income []taxfolio.Income
	for _, name := range sortedKeys(results) {
		disposals = append(disposals, results[name].DisposalsForYear(c.year)...)
		income = append(income, results[name].IncomeForYear(c.year)...)
	}
	r, err := tax.Compute(c.year, cfg, disposals, income)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing taxes: %v\n", err)
		return subcommands.ExitFailure
	}

	var md strings.Builder
	md.WriteString(renderer.Tax(r))
	if c.details {
		md.WriteString("\n")
		md.WriteString(renderer.Disposals(disposals))
		md.WriteString(renderer.Income(income))
	}
	printMarkdown(md.String())
	return subcommands.ExitSuccess
}
