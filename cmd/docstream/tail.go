package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newTailCommand() *cobra.Command {
	var (
		after    int64
		limit    int
		follow   bool
		interval time.Duration
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Read the global event feed",
		Long: `Read the global event feed across all streams in global position
order. With --follow, keep polling for new events until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(after, limit, follow, interval, asJSON)
		},
	}

	cmd.Flags().Int64Var(&after, "after", 0, "Read events strictly after this global position")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum events per read")
	cmd.Flags().BoolVar(&follow, "follow", false, "Keep polling for new events")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Poll interval with --follow")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print events as JSON lines")

	return cmd
}

func runTail(after int64, limit int, follow bool, interval time.Duration, asJSON bool) error {
	ctx := context.Background()
	if follow {
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer cancel()
	}

	position := after
	for {
		events, err := db.ReadAll(ctx, position, limit)
		if err != nil {
			return fmt.Errorf("failed to read global feed: %w", err)
		}

		for _, event := range events {
			if err := printEvent(event, asJSON); err != nil {
				return err
			}
			position = event.GlobalPosition
		}

		if !follow {
			if len(events) == limit {
				fmt.Printf("More events may follow position %d\n", position)
			}
			return nil
		}
		if len(events) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
