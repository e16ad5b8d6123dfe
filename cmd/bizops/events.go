package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systemshift/bizops/internal/server/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Read the local change event log",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the most recent change events, newest first",
	RunE:  runEventsTail,
}

func init() {
	eventsTailCmd.Flags().String("path", os.Getenv("EVENT_LOG_PATH"), "SQLite event log (defaults to EVENT_LOG_PATH)")
	eventsTailCmd.Flags().Int("limit", 20, "Number of events to print")
	eventsCmd.AddCommand(eventsTailCmd)
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("path")
	limit, _ := cmd.Flags().GetInt("limit")
	if path == "" {
		return fmt.Errorf("no event log: pass --path or set EVENT_LOG_PATH")
	}
	if limit < 1 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}

	sink, err := events.NewSQLiteSink(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer sink.Close()

	recent, err := sink.Recent(cmd.Context(), limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, e := range recent {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}
