// Command producer submits the starter program of every language and prints
// the results. It is a smoke test for a running worker fleet, or for the
// whole execution stack in-process when the queue is in memory.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dontdude/coderoom/internal/app"
	"github.com/dontdude/coderoom/internal/config"
	"github.com/dontdude/coderoom/internal/dispatch"
	"github.com/dontdude/coderoom/internal/domain"
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
	var (
		cfgFile string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:           "coderoom-producer",
		Short:         "Run every language template through the job queue",
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
			logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return run(ctx, cfg, cmd.OutOrStdout())
		},
	}

	d := config.Default()
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default ./coderoom.yaml)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline")
	cmd.Flags().String("queue", d.Queue.Backend, "queue backend (memory, redis)")
	_ = v.BindPFlag("queue.backend", cmd.Flags().Lookup("queue"))

	return cmd
}

type report struct {
	JobID    string          `json:"jobID"`
	Language domain.Language `json:"language"`
	Result   domain.Result   `json:"result"`
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	q, err := app.OpenQueue(ctx, cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	disp := dispatch.New(q, cfg.Worker.QueueTimeout, cfg.Worker.ResultTimeout)
	if err := disp.Start(ctx); err != nil {
		return err
	}

	// Nothing else can consume an in-memory queue.
	if !q.Distributed() {
		workers, err := app.StartWorkers(ctx, cfg, q)
		if err != nil {
			return err
		}
		defer workers.Stop()
	}

	var (
		mu  sync.Mutex
		enc = json.NewEncoder(out)
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, lang := range domain.Languages() {
		g.Go(func() error {
			job := domain.Job{ID: uuid.NewString(), Language: lang, Source: domain.Template(lang)}
			slog.Info("Submitting job", "jobID", job.ID, "language", lang)
			res, err := disp.Wait(gctx, job)
			if err != nil {
				return fmt.Errorf("run %s: %w", lang, err)
			}

			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(report{JobID: job.ID, Language: lang, Result: res})
		})
	}
	return g.Wait()
}
