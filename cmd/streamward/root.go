package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the Streamward CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "streamward",
		Short: "Streamward - a command dispatch service for chat platforms",
		Long: `Streamward routes chat commands to runtime-loaded handler modules.
Modules are separate processes discovered in a modules directory and can
be reloaded without restarting the service.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG config dir)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}
