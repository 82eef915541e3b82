package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/delegate-run/delegate/internal/config"
	"github.com/delegate-run/delegate/internal/daemon"
	"github.com/delegate-run/delegate/internal/db"
	"github.com/delegate-run/delegate/internal/ids"
	"github.com/delegate-run/delegate/internal/log"
	"github.com/delegate-run/delegate/internal/tracing"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the delegate tick loop in the foreground",
	Long:  "Runs the daemon's tick loop (spec §4.10): reconciles teams, dispatches agent turns, runs the merge worker, drives workflow auto stages, and exits cleanly on SIGINT/SIGTERM.",
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := home()

	cfg, err := config.Load(h)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := tracing.NewProvider(tracing.Config{})
	if err != nil {
		return fmt.Errorf("starting tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	d, err := db.Open(ctx, h)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer d.Close()

	resolver := ids.NewResolver(d)

	ex, err := daemon.BuildExchange(h, resolver)
	if err != nil {
		return fmt.Errorf("building exchange: %w", err)
	}

	watcher, err := config.NewWatcher(h)
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	changed, err := watcher.Start()
	if err != nil {
		return fmt.Errorf("watching config: %w", err)
	}
	defer watcher.Stop()

	dm, err := daemon.New(h, cfg, d, resolver, ex)
	if err != nil {
		return fmt.Errorf("building daemon: %w", err)
	}
	dm.WatchConfig(changed)

	log.Info(log.CatDaemon, "delegate daemon starting", "home", h, "teams", len(cfg.Teams))
	return dm.Run(ctx)
}
