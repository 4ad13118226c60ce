// Command allocator builds portfolios and reports their risk from CSV return tables or
// datasets kept in the allocator database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/pkg/logger"
	"github.com/google/subcommands"
)

var logLevel = flag.String("log-level", "warn", "Log level: debug, info, warn or error")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	a := &app{out: os.Stdout}
	Register(subcommands.DefaultCommander, a)

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(int(subcommands.ExitFailure))
	}
	a.cfg = cfg
	a.log = logger.New(logger.Config{Level: *logLevel, Pretty: true})

	os.Exit(int(subcommands.Execute(context.Background())))
}

// Register the subcommands.
func Register(c *subcommands.Commander, a *app) {
	c.Register(&optimizeCmd{app: a}, "portfolios")
	c.Register(&frontierCmd{app: a}, "portfolios")
	c.Register(&riskCmd{app: a}, "portfolios")

	c.Register(&importCmd{app: a}, "datasets")
	c.Register(&datasetsCmd{app: a}, "datasets")
	c.Register(&backupCmd{app: a}, "datasets")
}
