package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sc2-map-indexer/internal/app"
	"github.com/JakeFAU/sc2-map-indexer/internal/events"
	"github.com/JakeFAU/sc2-map-indexer/internal/storage/memory"
)

type indexOptions struct {
	input        string
	dryRun       bool
	drainTimeout time.Duration
}

// newIndexCmd creates the 'index' subcommand.
func newIndexCmd() *cobra.Command {
	opts := indexOptions{}
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index events read as newline-delimited JSON",
		Long: `Reads discover and revision events, one JSON object per line, from a file or
stdin and processes them on the worker pool. Malformed lines are logged and skipped;
an unreadable stream stops intake, drains queued events and fails the command.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "-", "event file, - for stdin")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "use the in-memory store and print row counts")
	cmd.Flags().DurationVar(&opts.drainTimeout, "drain-timeout", 5*time.Minute, "how long to wait for queued events on shutdown")
	return cmd
}

func runIndex(cmd *cobra.Command, opts indexOptions) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	logger := rt.logger

	in := cmd.InOrStdin()
	if opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, rt.cfg, logger, app.Options{DryRun: opts.dryRun})
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	a.StartOps()
	a.Dispatcher.Start(ctx)

	submitted, skipped := 0, 0
	var streamErr error
	reader := events.NewReader(in)
	for ctx.Err() == nil {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, events.ErrStream) {
			streamErr = err
			logger.Error("input unreadable", zap.Int("line", reader.Line()), zap.Error(err))
			break
		}
		if err != nil {
			skipped++
			logger.Warn("skipping event", zap.Error(err))
			continue
		}
		if _, err := a.Dispatcher.Submit(ctx, ev); err != nil {
			if ctx.Err() != nil {
				logger.Info("input interrupted", zap.Int("line", reader.Line()))
				break
			}
			skipped++
			logger.Warn("event rejected", zap.Int("line", reader.Line()), zap.Error(err))
			continue
		}
		submitted++
	}
	logger.Info("input consumed", zap.Int("submitted", submitted), zap.Int("skipped", skipped))

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), opts.drainTimeout)
	defer cancel()
	if err := a.Close(drainCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if store, ok := a.Store.(*memory.Store); ok {
		stats := store.Stats()
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "maps=%d revisions=%d profiles=%d submitted=%d skipped=%d\n",
			stats.Maps, stats.Revisions, stats.Profiles, submitted, skipped)
	}
	return streamErr
}
