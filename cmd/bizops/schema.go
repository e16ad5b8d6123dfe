package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systemshift/bizops/internal/server/schema"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Inspect schema directories",
}

var schemaCheckCmd = &cobra.Command{
	Use:   "check <dir>",
	Short: "Load a schema directory and report what it declares",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchemaCheck,
}

func init() {
	schemaCmd.AddCommand(schemaCheckCmd)
}

func runSchemaCheck(cmd *cobra.Command, args []string) error {
	snap, err := schema.LoadDir(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "schema %s: %d types, %d enums, %d string patterns\n",
		snap.Version, len(snap.Types), len(snap.Enums), len(snap.StringPatterns))
	for _, name := range snap.TypeNames() {
		t, _ := snap.Type(name)
		fmt.Fprintf(out, "  %-20s %d properties, %d relationships\n",
			name, len(t.Properties), len(t.Relationships()))
	}
	return nil
}
