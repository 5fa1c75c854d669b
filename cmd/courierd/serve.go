package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type appRunner func(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error

func newServeCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run workers, the cron scheduler and the configured trigger source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, serve)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.engine.Start(ctx); err != nil {
		return err
	}
	a.logger.Info("courierd started",
		slog.String("store", a.cfg.Store.Driver),
		slog.Int("concurrency", a.cfg.Courier.Concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)

	if src, client := a.source(); src != nil {
		if client != nil {
			defer client.Close()
		}
		g.Go(func() error { return src.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Courier.ShutdownTimeout)
		defer cancel()
		return a.engine.Stop(shutdownCtx)
	})

	return g.Wait()
}
