package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
)

// datasetsCmd holds the flags for the 'datasets' subcommand.
type datasetsCmd struct {
	*app
	remove string
}

func (*datasetsCmd) Name() string     { return "datasets" }
func (*datasetsCmd) Synopsis() string { return "list or delete stored datasets" }
func (*datasetsCmd) Usage() string {
	return `allocator datasets [-rm <name>]

  Lists the stored datasets, or deletes one.
`
}

func (c *datasetsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.remove, "rm", "", "Delete the named dataset")
}

func (c *datasetsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	store, closeStore, err := c.openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening the dataset database: %v\n", err)
		return subcommands.ExitFailure
	}
	defer closeStore()

	if c.remove != "" {
		if err := store.Delete(ctx, c.remove); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting %q: %v\n", c.remove, err)
			return subcommands.ExitFailure
		}
		fmt.Fprintf(c.out, "Deleted %q\n", c.remove)
		return subcommands.ExitSuccess
	}

	list, err := store.List(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing datasets: %v\n", err)
		return subcommands.ExitFailure
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Name\tPeriods\tCreated\tAssets")
	for _, ds := range list {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", ds.Name, ds.Periods, ds.CreatedAt.Format("2006-01-02 15:04"), strings.Join(ds.Assets, ","))
	}
	tw.Flush()
	return subcommands.ExitSuccess
}
