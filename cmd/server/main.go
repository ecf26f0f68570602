package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dontdude/coderoom/internal/app"
	"github.com/dontdude/coderoom/internal/config"
	"github.com/dontdude/coderoom/internal/dispatch"
	"github.com/dontdude/coderoom/internal/docsync"
	"github.com/dontdude/coderoom/internal/gateway"
	"github.com/dontdude/coderoom/internal/logging"
	"github.com/dontdude/coderoom/internal/platform/web"
	"github.com/dontdude/coderoom/internal/presence"
	"github.com/dontdude/coderoom/internal/room"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "coderoom-server",
		Short:         "Collaborative code rooms with sandboxed execution",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(v, cfgFile); err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stdout)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	d := config.Default()
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default ./coderoom.yaml)")
	cmd.Flags().String("addr", d.Server.Addr, "HTTP listen address")
	cmd.Flags().String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().Bool("embedded-worker", d.Worker.Embedded, "run the worker pool in this process")
	_ = v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("log.level", cmd.Flags().Lookup("log-level"))
	_ = v.BindPFlag("worker.embedded", cmd.Flags().Lookup("embedded-worker"))

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	// 1. Rooms. The document engine subscribes before presence so a joiner
	// receives init ahead of the roster.
	hub := gateway.NewHub()
	rooms := room.NewRegistry(room.WithMaxRooms(cfg.Rooms.Max))
	docs := docsync.NewEngine(rooms, hub)
	tracker := presence.NewTracker(rooms, hub)

	// 2. Queue
	q, err := app.OpenQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	if !cfg.Worker.Embedded && !q.Distributed() {
		return errors.New("worker.embedded=false requires queue.backend=redis")
	}

	g, gctx := errgroup.WithContext(ctx)

	// 3. Result routing
	disp := dispatch.New(q, cfg.Worker.QueueTimeout, cfg.Worker.ResultTimeout)
	if err := disp.Start(gctx); err != nil {
		return err
	}

	// 4. Workers
	if cfg.Worker.Embedded {
		workers, err := app.StartWorkers(gctx, cfg, q)
		if err != nil {
			return err
		}
		defer workers.Stop()
	}
	if q.Redis != nil {
		g.Go(func() error {
			q.Redis.RunRecovery(gctx, cfg.Redis.RecoveryInterval, cfg.Redis.RecoveryMaxAge)
			return nil
		})
	}

	// 5. Background maintenance
	var limiter *web.RateLimiter
	if cfg.RateLimit.Rate > 0 {
		limiter = web.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst)
		g.Go(func() error {
			limiter.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		rooms.RunReaper(gctx, cfg.Rooms.ReapInterval, cfg.Rooms.ReapGrace)
		return nil
	})

	// 6. HTTP
	gw := gateway.New(gateway.Options{
		Rooms:          rooms,
		Docs:           docs,
		Presence:       tracker,
		Hub:            hub,
		Runner:         disp,
		Limiter:        limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		slog.Info("Server starting", "addr", cfg.Server.Addr, "executor", cfg.Executor.Backend, "queue", cfg.Queue.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
