package main

import (
	"github.com/spf13/cobra"

	"github.com/Dipanshu-verma/profilesync/config"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "profilesync",
		Short:         "Durable profile update and sync service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the YAML config file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newWorkerCommand(opts))
	cmd.AddCommand(newRunsCommand(opts))
	cmd.AddCommand(newDiagramCommand())

	return cmd
}

// load returns the defaults when no config file was given.
func (o *rootOptions) load() (config.Config, error) {
	if o.configPath == "" {
		var cfg config.Config
		cfg.SetDefaults()
		return cfg, cfg.Validate()
	}

	return config.Load(o.configPath)
}
