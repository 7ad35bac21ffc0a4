/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// deviceRow is one line of the device table
type deviceRow struct {
	Name                  string `json:"name"`
	FlashSize             string `json:"flash_size"`
	SettingsPartitionSize string `json:"settings_partition_size"`
	DefaultSettingsBase   string `json:"default_settings_base"`
}

func newDevicesCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the supported device families",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows []deviceRow
			for _, f := range root.container.Registry().Families() {
				rows = append(rows, deviceRow{
					Name:                  f.Name,
					FlashSize:             fmt.Sprintf("%#x", f.FlashSize),
					SettingsPartitionSize: fmt.Sprintf("%#x", f.FlashSize-f.DefaultSettingsBase()),
					DefaultSettingsBase:   fmt.Sprintf("%#x", f.DefaultSettingsBase()),
				})
			}

			if root.Format == "json" {
				return root.formatter(cmd).Success(rows)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()

			fmt.Fprintln(w, "DEVICE\tFLASH SIZE\tSETTINGS SIZE\tSETTINGS BASE")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, r.FlashSize, r.SettingsPartitionSize, r.DefaultSettingsBase)
			}
			return nil
		},
	}
}
