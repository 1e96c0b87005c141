package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/getpup/docstream/es"
	"github.com/getpup/docstream/es/store"
)

func newReadCommand() *cobra.Command {
	var (
		stream   string
		from     int64
		to       int64
		maxCount int
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read events from a stream",
		Long: `Read events from a stream in version order. Use --from and --to to
read a window of the stream, and --max to cap the number of events.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := store.ReadOptions{MaxCount: maxCount}
			if cmd.Flags().Changed("from") {
				opts.FromVersion = &from
			}
			if cmd.Flags().Changed("to") {
				opts.ToVersion = &to
			}
			return runRead(stream, opts, asJSON)
		},
	}

	cmd.Flags().StringVar(&stream, "stream", "", "Stream to read (required)")
	cmd.Flags().Int64Var(&from, "from", 0, "First stream version to read")
	cmd.Flags().Int64Var(&to, "to", 0, "Last stream version to read")
	cmd.Flags().IntVar(&maxCount, "max", 0, "Maximum number of events (0 = unlimited)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON lines")
	if err := cmd.MarkFlagRequired("stream"); err != nil {
		panic(fmt.Sprintf("Failed to mark stream as required: %v", err))
	}

	return cmd
}

func runRead(stream string, opts store.ReadOptions, asJSON bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := db.Read(ctx, stream, opts)
	if err != nil {
		return fmt.Errorf("failed to read stream: %w", err)
	}
	if !result.Exists {
		return fmt.Errorf("stream %q does not exist", stream)
	}

	for _, event := range result.Events {
		if err := printEvent(event, asJSON); err != nil {
			return err
		}
	}
	fmt.Printf("Read %d event(s), stream at version %d\n", len(result.Events), result.CurrentVersion)

	return nil
}

func printEvent(event es.RecordedEvent, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		return enc.Encode(event)
	}
	fmt.Printf("%s@%d [%d] %s %s\n",
		event.StreamName, event.StreamVersion, event.GlobalPosition,
		event.Type, string(event.Data))
	return nil
}
