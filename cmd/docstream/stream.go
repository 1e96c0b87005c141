package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStreamCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream <name>",
		Short: "Show stream metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(args[0])
		},
	}

	return cmd
}

func runStream(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	meta, found, err := db.Stream(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load stream metadata: %w", err)
	}
	if !found {
		return fmt.Errorf("stream %q does not exist", name)
	}

	fmt.Printf("Stream:   %s\n", meta.Name)
	fmt.Printf("Version:  %d\n", meta.Version)
	fmt.Printf("Events:   %d\n", meta.Version+1)
	fmt.Printf("Created:  %s\n", meta.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:  %s\n", meta.UpdatedAt.Format(time.RFC3339))

	return nil
}
