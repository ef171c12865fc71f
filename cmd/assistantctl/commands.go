package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/assist-engine/internal/contextstore"
	"github.com/ashureev/assist-engine/internal/domain"
	"github.com/ashureev/assist-engine/internal/store"
)

type options struct {
	dbPath      string
	staleWindow time.Duration
	format      string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "assistantctl",
		Short: "Inspect and reset per-device assistant state",
		Long: `assistantctl reads the assistant database directly.

Available commands:
  context       - Show the pending navigation context of a device
  clear-context - Drop the navigation context of a device
  insights      - Export the insight log of a device`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", envOr("DB_PATH", "./data/assistant.db"), "SQLite database path")

	contextCmd := &cobra.Command{
		Use:   "context <device-id>",
		Short: "Show the pending navigation context of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, args[0], func(ctx context.Context, s *contextstore.Store) error {
				return showContext(ctx, cmd.OutOrStdout(), s, opts.staleWindow)
			})
		},
	}
	contextCmd.Flags().DurationVar(&opts.staleWindow, "stale-window", 24*time.Hour, "Age after which a context is reported stale")

	clearCmd := &cobra.Command{
		Use:   "clear-context <device-id>",
		Short: "Drop the navigation context of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, args[0], func(ctx context.Context, s *contextstore.Store) error {
				s.ClearContext(ctx)
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "cleared navigation context for %s\n", args[0])
				return err
			})
		},
	}

	insightsCmd := &cobra.Command{
		Use:   "insights <device-id>",
		Short: "Export the insight log of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, args[0], func(ctx context.Context, s *contextstore.Store) error {
				return exportInsights(cmd.OutOrStdout(), s.Insights(ctx), opts.format)
			})
		},
	}
	insightsCmd.Flags().StringVar(&opts.format, "format", "json", "Output format: json or ndjson")

	root.AddCommand(contextCmd, clearCmd, insightsCmd)
	return root
}

func withStore(ctx context.Context, opts *options, deviceID string, fn func(context.Context, *contextstore.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	repo, err := store.NewSQLite(opts.dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = repo.Close() }()

	s, err := contextstore.New(repo, deviceID)
	if err != nil {
		return err
	}
	return fn(ctx, s)
}

func showContext(ctx context.Context, out io.Writer, s *contextstore.Store, staleWindow time.Duration) error {
	nc := s.GetContext(ctx)
	if nc == nil {
		_, err := fmt.Fprintln(out, "no navigation context")
		return err
	}
	return writeJSON(out, map[string]any{
		"context": nc,
		"pending": nc.IsPending(),
		"stale":   nc.IsStale(time.Now(), staleWindow),
	})
}

func exportInsights(out io.Writer, insights []domain.Insight, format string) error {
	switch format {
	case "json":
		if insights == nil {
			insights = []domain.Insight{}
		}
		return writeJSON(out, insights)
	case "ndjson":
		enc := json.NewEncoder(out)
		for _, in := range insights {
			if err := enc.Encode(in); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
