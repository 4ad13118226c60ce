package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/reliability"
	"github.com/google/subcommands"
)

// backupCmd holds the flags for the 'backup' subcommand.
type backupCmd struct {
	*app
	list   bool
	verify string
}

func (*backupCmd) Name() string     { return "backup" }
func (*backupCmd) Synopsis() string { return "back up the dataset database" }
func (*backupCmd) Usage() string {
	return `allocator backup [-list | -verify <archive>]

  Writes a compressed snapshot of the dataset database to the backups directory
  and rotates old archives, lists the archives, or verifies one.
`
}

func (c *backupCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.list, "list", false, "List the existing backups")
	f.StringVar(&c.verify, "verify", "", "Verify the checksum of an archive")
}

func (c *backupCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	db, err := database.New(database.Config{
		Path:    c.cfg.DatabasePath(),
		Profile: database.ProfileStandard,
		Name:    "returns",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening the dataset database: %v\n", err)
		return subcommands.ExitFailure
	}
	defer db.Close()

	backups := reliability.NewBackupService(db, c.cfg.BackupDir(), c.log)

	switch {
	case c.list:
		list, err := backups.ListBackups()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing backups: %v\n", err)
			return subcommands.ExitFailure
		}
		tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "Archive\tSize\tAge (h)")
		for _, b := range list {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", b.Filename, b.SizeBytes, b.AgeHours)
		}
		tw.Flush()

	case c.verify != "":
		metadata, err := backups.VerifyBackup(c.verify)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error verifying %q: %v\n", c.verify, err)
			return subcommands.ExitFailure
		}
		fmt.Fprintf(c.out, "%s: %s OK (%s)\n", c.verify, metadata.Database.Filename, metadata.Database.Checksum)

	default:
		if err := reliability.NewBackupJob(backups, c.cfg.Backup.RetentionDays, c.log).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error backing up: %v\n", err)
			return subcommands.ExitFailure
		}
		list, err := backups.ListBackups()
		if err == nil && len(list) > 0 {
			fmt.Fprintf(c.out, "Wrote %s\n", list[0].Filename)
		}
	}
	return subcommands.ExitSuccess
}
