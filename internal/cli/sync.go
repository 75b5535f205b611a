package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"notionsync/internal/config"
	"notionsync/internal/service"
)

type syncOptions struct {
	once        bool
	continuous  bool
	full        bool
	noRelations bool
	relations   bool
	collections string
	relPath     string
	tables      []string
	every       time.Duration
	schedule    string
	metricsAddr string
}

func newSyncCmd(g *globalOptions) *cobra.Command {
	o := &syncOptions{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the replicated collections into the destination",
		Long: `Sync runs one incremental pass over every replicated collection, or keeps
running passes on a schedule with --continuous. Table failures are reported in
the summary and do not fail the command.`,
		Example: `  notionsync sync --once
  notionsync sync --continuous --every 5m --metrics-addr :9464
  notionsync sync --full-sync --table posts --table users`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, g, o)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&o.once, "once", false, "run a single pass and exit (default)")
	f.BoolVar(&o.continuous, "continuous", false, "keep running passes until interrupted")
	f.BoolVar(&o.full, "full-sync", false, "ignore watermarks (continuous mode: first table of the first pass only)")
	f.BoolVar(&o.noRelations, "no-relations", false, "skip the relations pass")
	f.BoolVar(&o.relations, "relations", false, "run the relations pass after syncing")
	f.StringVar(&o.collections, "collections", "", "collection directory file")
	f.StringVar(&o.relPath, "relations-file", "", "relation declarations file")
	f.StringArrayVar(&o.tables, "table", nil, "restrict the pass to this table (repeatable)")
	f.DurationVar(&o.every, "every", 0, "delay between continuous passes")
	f.StringVar(&o.schedule, "schedule", "", "cron expression for continuous passes")
	f.StringVar(&o.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	cmd.MarkFlagsMutuallyExclusive("once", "continuous")
	cmd.MarkFlagsMutuallyExclusive("relations", "no-relations")
	return cmd
}

// apply copies flag overrides into the configuration and validates the
// result.
func (o *syncOptions) apply(rt *runtime) error {
	cfg := rt.cfg
	if o.collections != "" {
		cfg.Sync.CollectionsPath = o.collections
	}
	if o.relPath != "" {
		cfg.Relations.Path = o.relPath
	}
	if o.relations {
		cfg.Sync.Relations = true
	}
	if o.every > 0 {
		cfg.Sync.PollEvery = config.Seconds(o.every)
	}
	if o.schedule != "" {
		cfg.Sync.Schedule = o.schedule
	}
	if o.metricsAddr != "" {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func runSync(cmd *cobra.Command, g *globalOptions, o *syncOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := g.open(ctx, needs{source: true, destination: true, state: true})
	if err != nil {
		return err
	}
	defer rt.Close()
	if err := o.apply(rt); err != nil {
		return err
	}

	svc, err := rt.newSyncService()
	if err != nil {
		return err
	}
	req := service.RunRequest{Full: o.full, Tables: o.tables, SkipRelations: o.noRelations}

	if !o.continuous {
		res, err := svc.RunOnce(ctx, req)
		if err != nil && ctx.Err() == nil {
			return err
		}
		printPass(cmd.OutOrStdout(), res)
		if ctx.Err() != nil {
			rt.logger.Warn("cli: interrupted")
		}
		return nil
	}

	if addr := rt.cfg.Metrics.Addr; addr != "" {
		srv := rt.metrics.NewServer(addr)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.logger.Error("cli: metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		rt.logger.Info("cli: serving metrics", zap.String("addr", addr))
	}
	return svc.RunContinuous(ctx, req)
}
