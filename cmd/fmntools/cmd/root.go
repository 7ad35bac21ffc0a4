/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssargent/fmntools/pkg/config"
	"github.com/ssargent/fmntools/pkg/di"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath  string
	Verbose     bool
	Format      string // "json" | "text"
	JournalDir  string
	NoJournal   bool
	MetricsFile string

	container *di.Container
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of fmntools.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fmntools",
		Short: "fmntools - Find My accessory provisioning tools",
		Long: `fmntools writes MFi software authentication credentials into the
settings partition of an accessory as an Intel HEX file, and recovers
them from a dump of the settings partition.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default "+config.GetDefaultConfigPath()+")")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.JournalDir, "journal-dir", "", "directory of the provisioning journal")
	cmd.PersistentFlags().BoolVar(&opts.NoJournal, "no-journal", false, "do not use the provisioning journal")
	cmd.PersistentFlags().StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics of the run to this file")

	// Add subcommands
	cmd.AddCommand(newProvisionCommand(opts))
	cmd.AddCommand(newExtractCommand(opts))
	cmd.AddCommand(newDevicesCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))

	return cmd
}

// Execute runs the root command and exits with the code of its error.
// This is called by main.main().
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		os.Exit(exitStatus(err))
	}
}

// setup loads the configuration and builds the container
func (o *RootOptions) setup(cmd *cobra.Command) error {
	if !isValidFormat(o.Format) {
		return badUsage(fmt.Sprintf("invalid format %q", o.Format),
			fmt.Errorf("must be one of %v", ValidFormats))
	}

	cfg, err := o.loadConfig()
	if err != nil {
		return badUsage("failed to load config", err)
	}
	if o.JournalDir != "" {
		cfg.JournalDir = o.JournalDir
	}
	if o.MetricsFile != "" {
		cfg.MetricsFile = o.MetricsFile
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		return badUsage("invalid config", err)
	}
	if o.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	container, err := di.NewContainer(cfg, logger)
	if err != nil {
		return badUsage("invalid device table", err)
	}
	o.container = container
	return nil
}

// loadConfig reads the explicit config file, or the default one when it exists
func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.ConfigPath != "" {
		return config.LoadConfig(o.ConfigPath)
	}
	path := config.GetDefaultConfigPath()
	if config.ConfigExists(path) {
		return config.LoadConfig(path)
	}
	return config.DefaultConfig(), nil
}

// observe records a finished run and writes the metrics file if one is
// configured. err points at the run's named result.
func (o *RootOptions) observe(operation string, start time.Time, err *error) {
	m := o.container.Metrics()
	m.RecordOperation(operation, *err == nil, time.Since(start))

	path := o.container.Config().MetricsFile
	if path == "" {
		return
	}
	if werr := m.WriteToTextfile(path); werr != nil {
		o.container.Logger().Warn("failed to write metrics", "path", path, "error", werr)
	}
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
