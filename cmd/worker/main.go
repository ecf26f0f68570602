package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dontdude/coderoom/internal/app"
	"github.com/dontdude/coderoom/internal/config"
	"github.com/dontdude/coderoom/internal/logging"
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
		Use:           "coderoom-worker",
		Short:         "Execute queued jobs from Redis",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(v, cfgFile); err != nil {
				return err
			}
			// A standalone worker only makes sense on a shared queue.
			v.Set("queue.backend", "redis")
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
	cmd.Flags().String("redis-addr", d.Redis.Addr, "Redis address")
	cmd.Flags().Int("concurrency", d.Worker.Concurrency, "jobs executed at once")
	cmd.Flags().String("backend", d.Executor.Backend, "executor backend (local, docker)")
	cmd.Flags().String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	_ = v.BindPFlag("redis.addr", cmd.Flags().Lookup("redis-addr"))
	_ = v.BindPFlag("worker.concurrency", cmd.Flags().Lookup("concurrency"))
	_ = v.BindPFlag("executor.backend", cmd.Flags().Lookup("backend"))
	_ = v.BindPFlag("log.level", cmd.Flags().Lookup("log-level"))

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("Starting coderoom worker", "concurrency", cfg.Worker.Concurrency, "executor", cfg.Executor.Backend)

	q, err := app.OpenQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()
	if q.Redis == nil {
		return errors.New("worker requires the redis queue backend")
	}

	workers, err := app.StartWorkers(ctx, cfg, q)
	if err != nil {
		return err
	}

	go q.Redis.RunRecovery(ctx, cfg.Redis.RecoveryInterval, cfg.Redis.RecoveryMaxAge)

	<-ctx.Done()
	slog.Info("Shutting down worker, waiting for running jobs")
	workers.Stop()
	return nil
}
