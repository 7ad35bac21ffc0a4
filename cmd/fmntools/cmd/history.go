/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssargent/fmntools/pkg/journal"
)

func newHistoryCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history [uuid]",
		Short: "Show provisioning runs recorded in the journal",
		Long: `Show every provisioning run recorded in the journal, or the latest run
that provisioned the given token UUID.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.NoJournal {
				return badUsage("history needs the journal, drop --no-journal", nil)
			}

			j, err := root.container.OpenJournal()
			if err != nil {
				return failed("failed to open journal", err)
			}
			defer j.Close()

			var entries []journal.Entry
			if len(args) == 1 {
				e, err := j.ByUUID(args[0])
				if errors.Is(err, journal.ErrNotFound) {
					return failed("no provisioning run", err)
				}
				if err != nil {
					return failed("failed to read journal", err)
				}
				entries = append(entries, *e)
			} else {
				entries, err = j.List()
				if err != nil {
					return failed("failed to read journal", err)
				}
			}

			return outputEntries(cmd, root, entries)
		},
	}
}

// outputEntries displays journal entries
func outputEntries(cmd *cobra.Command, root *RootOptions, entries []journal.Entry) error {
	if root.Format == "json" {
		return root.formatter(cmd).Success(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No provisioning runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tTIME\tDEVICE\tBASE\tUUID\tSERIAL\tOUTPUT")
	for _, e := range entries {
		serial := e.Serial
		if serial == "" {
			serial = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%#x\t%s\t%s\t%s\n",
			e.ID, e.Time.Format(time.RFC3339), e.Device, e.SettingsBase, e.UUID, serial, e.OutputPath)
	}
	return nil
}
