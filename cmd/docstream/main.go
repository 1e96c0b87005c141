package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/getpup/docstream/es/adapters/bolt"
)

var (
	// Global flags
	dbPath  string
	timeout time.Duration

	// Global store instance, opened once per invocation
	db *bolt.Store
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docstream",
		Short: "Event store command line interface",
		Long: `docstream is a command line interface for a file-backed event store.
It provides commands for appending events, reading streams, tailing the
global event feed, and inspecting read model documents.`,
		PersistentPreRunE:  openStore,
		PersistentPostRunE: closeStore,
		SilenceUsage:       true,
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "docstream.db", "Path to the event store database file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Operation timeout")

	rootCmd.AddCommand(newAppendCommand())
	rootCmd.AddCommand(newReadCommand())
	rootCmd.AddCommand(newTailCommand())
	rootCmd.AddCommand(newStreamCommand())
	rootCmd.AddCommand(newDocCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// openStore opens the database file named by the global --db flag.
func openStore(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	var err error
	db, err = bolt.Open(dbPath, bolt.NewStoreConfig(bolt.WithOpenTimeout(time.Second)))
	if err != nil {
		return fmt.Errorf("failed to open store at %q: %w", dbPath, err)
	}
	return nil
}

func closeStore(cmd *cobra.Command, args []string) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
