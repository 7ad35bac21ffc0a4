// Package di provides dependency injection container
package di

import (
	"log/slog"

	"github.com/ssargent/fmntools/pkg/config"
	"github.com/ssargent/fmntools/pkg/device"
	"github.com/ssargent/fmntools/pkg/extract"
	"github.com/ssargent/fmntools/pkg/journal"
	"github.com/ssargent/fmntools/pkg/metrics"
	"github.com/ssargent/fmntools/pkg/provision"
)

// JournalOpener opens the provisioning journal stored in dir
type JournalOpener func(dir string) (*journal.Journal, error)

// Container holds all the dependencies for the application
type Container struct {
	config        *config.Config
	logger        *slog.Logger
	registry      *device.Registry
	metrics       *metrics.Metrics
	journalOpener JournalOpener
}

// NewContainer creates a new dependency injection container. The device
// table is built from the configured families.
func NewContainer(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}

	return &Container{
		config:        cfg,
		logger:        logger,
		registry:      registry,
		metrics:       metrics.NewMetrics(),
		journalOpener: journal.Open,
	}, nil
}

// Config returns the loaded configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the application logger
func (c *Container) Logger() *slog.Logger {
	return c.logger
}

// Registry returns the device table
func (c *Container) Registry() *device.Registry {
	return c.registry
}

// Metrics returns the run metrics
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// OpenJournal opens the journal at the configured path
func (c *Container) OpenJournal() (*journal.Journal, error) {
	return c.journalOpener(c.config.JournalPath())
}

// Provisioner returns a provisioner recording into history, which may be nil
func (c *Container) Provisioner(history provision.History) *provision.Provisioner {
	return provision.NewProvisioner(c.logger, history)
}

// Extractor returns a settings extractor
func (c *Container) Extractor() *extract.Extractor {
	return extract.NewExtractor(c.logger)
}

// SetJournalOpener allows overriding how the journal is opened (for testing)
func (c *Container) SetJournalOpener(opener JournalOpener) {
	c.journalOpener = opener
}
