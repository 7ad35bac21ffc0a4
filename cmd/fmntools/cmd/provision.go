/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssargent/fmntools/pkg/provision"
	"github.com/ssargent/fmntools/pkg/store"
)

type provisionOptions struct {
	uuid         string
	token        string
	serial       string
	outputPath   string
	device       string
	settingsBase string
	inputHex     string
	force        bool
}

// provisionSummary is printed after a successful run
type provisionSummary struct {
	OutputPath   string `json:"output_path"`
	Device       string `json:"device"`
	SettingsBase string `json:"settings_base"`
	Records      int    `json:"records"`
	MergedWith   string `json:"merged_with,omitempty"`
	JournalID    string `json:"journal_id,omitempty"`
}

func (s provisionSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Provisioned data written to %s\n", s.OutputPath)
	fmt.Fprintf(&b, "Device: %s, settings base: %s, records: %d", s.Device, s.SettingsBase, s.Records)
	if s.MergedWith != "" {
		fmt.Fprintf(&b, "\nMerged with: %s", s.MergedWith)
	}
	if s.JournalID != "" {
		fmt.Fprintf(&b, "\nJournal entry: %s", s.JournalID)
	}
	return b.String()
}

func newProvisionCommand(root *RootOptions) *cobra.Command {
	opts := &provisionOptions{}

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Generate a hex file with provisioned MFi credentials",
		Long: `Build the settings partition holding the MFi software authentication
UUID, token and optional serial number, and write it as an Intel HEX file.

Example:
  fmntools provision -e NRF52840 \
    -u 12345678-9abc-def0-1234-56789abcdef0 \
    -m <base64 token> -s 0123456789ABCDEF0123456789ABCDEF`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProvision(cmd, root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.uuid, "mfi-uuid", "u", "", "SW authentication token UUID (aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee)")
	cmd.Flags().StringVarP(&opts.token, "mfi-token", "m", "", "SW authentication token, base64 encoded")
	cmd.Flags().StringVarP(&opts.serial, "serial-number", "s", "", "serial number as 32 hex characters (optional)")
	cmd.Flags().StringVarP(&opts.outputPath, "output-path", "o", "", "output hex file (default from config, provisioned.hex)")
	cmd.Flags().StringVarP(&opts.device, "device", "e", "", "device family")
	cmd.Flags().StringVarP(&opts.settingsBase, "settings-base", "f", "", "settings base address in hex (default: flash size - settings partition size)")
	cmd.Flags().StringVarP(&opts.inputHex, "input-hex-file", "x", "", "firmware hex file to merge the settings into")
	cmd.Flags().BoolVar(&opts.force, "force", false, "provision even if the journal already holds the UUID")
	_ = cmd.MarkFlagRequired("mfi-uuid")
	_ = cmd.MarkFlagRequired("mfi-token")

	return cmd
}

func runProvision(cmd *cobra.Command, root *RootOptions, opts *provisionOptions) (err error) {
	defer root.observe("provision", time.Now(), &err)

	c := root.container
	cfg := c.Config()

	req := provision.Request{
		UUID:         opts.uuid,
		Token:        opts.token,
		Serial:       opts.serial,
		Device:       firstNonEmpty(opts.device, cfg.Device),
		SettingsBase: firstNonEmpty(opts.settingsBase, cfg.SettingsBase),
		OutputPath:   firstNonEmpty(opts.outputPath, cfg.OutputPath),
		InputHex:     opts.inputHex,
	}
	if req.Device == "" {
		return failed("invalid provisioning parameters", fmt.Errorf("%w: no device selected (use --device or set device in the config)",
			store.ErrMalformedInput))
	}

	plan, err := provision.Parse(req, c.Registry())
	if err != nil {
		return failed("invalid provisioning parameters", err)
	}

	var history provision.History
	if !root.NoJournal {
		j, err := c.OpenJournal()
		if err != nil {
			return failed("failed to open journal", err)
		}
		defer j.Close()
		history = j
	}

	result, err := c.Provisioner(history).Run(plan, opts.force)
	if err != nil {
		return failed("provisioning failed", err)
	}

	c.Metrics().RecordImage(len(result.Image.Records), len(result.Image.Data))

	summary := provisionSummary{
		OutputPath:   plan.OutputPath,
		Device:       plan.Family.Name,
		SettingsBase: fmt.Sprintf("%#x", plan.Base),
		Records:      len(result.Image.Records),
		MergedWith:   plan.InputHex,
	}
	if result.Entry != nil {
		summary.JournalID = result.Entry.ID
	}
	return root.formatter(cmd).Success(summary)
}
