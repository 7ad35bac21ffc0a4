/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssargent/fmntools/pkg/device"
	"github.com/ssargent/fmntools/pkg/extract"
	"github.com/ssargent/fmntools/pkg/flash"
	"github.com/ssargent/fmntools/pkg/metadata"
	"github.com/ssargent/fmntools/pkg/store"
)

type extractOptions struct {
	device       string
	settingsBase string
	input        string
	dumpBase     string
}

// extractReport prints one field per line in text mode
type extractReport struct {
	extract.Report
}

func (r extractReport) String() string {
	return strings.Join(r.Lines(), "\n")
}

func newExtractCommand(root *RootOptions) *cobra.Command {
	opts := &extractOptions{}

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Recover the provisioned MFi credentials from a flash dump",
		Long: `Scan a dump of the device flash for the provisioned settings records and
print the SW authentication UUID, token and serial number.

Raw dumps (.bin) start at --dump-base; Intel HEX dumps carry their own
addresses.

Example:
  fmntools extract -e NRF52840 -i flash.hex`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.device, "device", "e", "", "device family")
	cmd.Flags().StringVarP(&opts.settingsBase, "settings-base", "f", "", "settings base address in hex (default: flash size - settings partition size)")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "flash dump (.bin or .hex)")
	cmd.Flags().StringVar(&opts.dumpBase, "dump-base", "0", "address of the first byte of a raw dump, in hex")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runExtract(cmd *cobra.Command, root *RootOptions, opts *extractOptions) (err error) {
	defer root.observe("extract", time.Now(), &err)

	c := root.container
	cfg := c.Config()

	name := firstNonEmpty(opts.device, cfg.Device)
	if name == "" {
		return failed("invalid extraction parameters", fmt.Errorf("%w: no device selected (use --device or set device in the config)",
			store.ErrMalformedInput))
	}
	family, err := c.Registry().Get(name)
	if err != nil {
		return failed("invalid extraction parameters", err)
	}
	base, err := family.SettingsBase(firstNonEmpty(opts.settingsBase, cfg.SettingsBase))
	if err != nil {
		return failed("invalid extraction parameters", err)
	}
	dumpBase, err := device.ParseAddress(opts.dumpBase)
	if err != nil {
		return failed("invalid dump base", err)
	}

	reader, err := flash.OpenDump(opts.input, dumpBase)
	if err != nil {
		return badUsage("failed to open dump", err)
	}

	creds, err := c.Extractor().Extract(reader, family, base)
	if err != nil {
		return failed("extraction failed", err)
	}

	c.Metrics().RecordField(metadata.UUID.Name, creds.UUID != nil)
	c.Metrics().RecordField(metadata.AuthToken.Name, creds.Token != nil)
	c.Metrics().RecordField(metadata.SerialNumber.Name, creds.Serial != nil)

	report := extractReport{creds.Report()}
	if err := creds.Complete(); err != nil {
		if ferr := root.formatter(cmd).Incomplete(report, err); ferr != nil {
			return ferr
		}
		return failed("extraction incomplete", err)
	}
	return root.formatter(cmd).Success(report)
}
