package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aristath/allocator/internal/modules/returns"
	"github.com/google/subcommands"
)

// importCmd holds the flags for the 'import' subcommand.
type importCmd struct {
	*app
	name   string
	prices bool
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "store a CSV table of returns as a dataset" }
func (*importCmd) Usage() string {
	return `allocator import -name <dataset> [-prices] <file.csv>

  Reads a CSV table whose header row names the assets and stores it in the
  dataset database. An existing dataset with the same name is replaced.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.name, "name", "", "Dataset name")
	f.BoolVar(&c.prices, "prices", false, "The CSV holds prices; convert them to simple returns")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.name == "" || f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: a dataset name and exactly one CSV file are required")
		return subcommands.ExitUsageError
	}

	file, err := os.Open(f.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %q: %v\n", f.Arg(0), err)
		return subcommands.ExitFailure
	}
	defer file.Close()

	series, err := returns.ReadCSV(file, returns.CSVOptions{Prices: c.prices})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %q: %v\n", f.Arg(0), err)
		return subcommands.ExitFailure
	}

	store, closeStore, err := c.openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening the dataset database: %v\n", err)
		return subcommands.ExitFailure
	}
	defer closeStore()

	ds, err := store.Save(ctx, c.name, series)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error saving dataset: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Fprintf(c.out, "Stored %q: %d assets, %d periods\n", ds.Name, len(ds.Assets), ds.Periods)
	return subcommands.ExitSuccess
}
