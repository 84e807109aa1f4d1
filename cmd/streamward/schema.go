package main

import (
	"github.com/spf13/cobra"

	"github.com/streamward/streamward/internal/module"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the module manifest JSON Schema",
		Long: `Print the JSON Schema used to validate module.yaml manifests.
Module authors can use it for editor validation and CI checks.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := module.GenerateSchema()
			if err != nil {
				return err
			}
			cmd.Println(string(schema))
			return nil
		},
	}
}
