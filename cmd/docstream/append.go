package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/getpup/docstream/es"
)

func newAppendCommand() *cobra.Command {
	var (
		stream    string
		eventType string
		data      string
		expect    string
	)

	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append an event to a stream",
		Long: `Append an event to a stream. The data should be valid JSON.

The --expect flag controls optimistic concurrency: "any" appends
unconditionally, "nostream" requires the stream to not exist yet,
"exists" requires it to exist, and a number requires the stream to be
at exactly that version.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(stream, eventType, data, expect)
		},
	}

	cmd.Flags().StringVar(&stream, "stream", "", "Stream to append to (required)")
	cmd.Flags().StringVar(&eventType, "type", "", "Event type (required)")
	cmd.Flags().StringVar(&data, "data", "{}", "Event data as JSON")
	cmd.Flags().StringVar(&expect, "expect", "any", "Expected stream version: any, nostream, exists, or a version number")
	if err := cmd.MarkFlagRequired("stream"); err != nil {
		panic(fmt.Sprintf("Failed to mark stream as required: %v", err))
	}
	if err := cmd.MarkFlagRequired("type"); err != nil {
		panic(fmt.Sprintf("Failed to mark type as required: %v", err))
	}

	return cmd
}

func runAppend(stream, eventType, data, expect string) error {
	if !json.Valid([]byte(data)) {
		return fmt.Errorf("invalid JSON data")
	}

	expected, err := parseExpectedVersion(expect)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := db.Append(ctx, stream, []es.Event{{
		Type: eventType,
		Data: json.RawMessage(data),
	}}, expected)
	if err != nil {
		return fmt.Errorf("failed to append: %w", err)
	}

	if result.CreatedStream {
		fmt.Printf("Created stream '%s'\n", stream)
	}
	fmt.Printf("Appended %s at version %d\n", eventType, result.NextVersion)

	return nil
}

func parseExpectedVersion(s string) (es.ExpectedVersion, error) {
	switch s {
	case "any":
		return es.Any(), nil
	case "nostream":
		return es.NoStream(), nil
	case "exists":
		return es.StreamExists(), nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return es.ExpectedVersion{}, fmt.Errorf("invalid --expect value %q: want any, nostream, exists, or a version number", s)
	}
	return es.Exact(v), nil
}
