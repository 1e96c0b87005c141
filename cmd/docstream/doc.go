package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newDocCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Inspect read model documents",
	}

	cmd.AddCommand(newDocGetCommand())
	cmd.AddCommand(newDocDeleteCommand())

	return cmd
}

func newDocGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <projection> <id>",
		Short: "Print a read model document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDocGet(args[0], args[1])
		},
	}
}

func runDocGet(projection, id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	doc, found, err := db.GetDocument(ctx, projection, id)
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	if !found {
		return fmt.Errorf("document %q/%q does not exist", projection, id)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func newDocDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <projection> <id>",
		Short: "Delete a read model document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := db.DeleteDocument(ctx, args[0], args[1]); err != nil {
				return fmt.Errorf("failed to delete document: %w", err)
			}
			fmt.Printf("Deleted document %s/%s\n", args[0], args[1])
			return nil
		},
	}
}
