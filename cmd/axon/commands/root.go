// Package commands defines all Cobra CLI commands for the axon binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/axon-embed/axon/internal/audit"
	"github.com/axon-embed/axon/internal/config"
	"github.com/axon-embed/axon/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "axon",
		Short: "axon — crawl-to-vector embedding pipeline and daemon",
		Long: `axon turns web-crawl output into vector embeddings stored in Qdrant.

A crawl is started against a remote scraping API and tracked as a durable
queue job; axon's background daemon claims the job when the crawl
completes (via webhook or periodic sweep), chunks and embeds the pages
through a TEI instance, and upserts the resulting vectors into a named
Qdrant collection.

Configuration is layered: a YAML file (--config / AXON_CONFIG /
~/.axon/config.yaml / ./axon.yaml) provides defaults, and environment
variables always override it. See 'axon --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.axon/config.yaml)")

	root.AddCommand(
		NewEnqueueCmd(),
		NewDaemonCmd(),
		NewQueueCmd(),
		NewVersionCmd(),
	)

	return root
}
