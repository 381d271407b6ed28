package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/opsflow/workflow"
)

func newOutboxCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{Use: "outbox", Short: "Inspect the event outbox"}
	var limit int
	flush := &cobra.Command{
		Use:   "flush",
		Short: "Redeliver events that were committed but never acknowledged",
		Args:  cobra.NoArgs,
		RunE: r.run(func(ctx context.Context, a *app, _ []string) error {
			n, err := a.engine.FlushOutbox(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "delivered %d events\n", n)
			return nil
		}),
	}
	flush.Flags().IntVar(&limit, "limit", 100, "maximum events to deliver")
	cmd.AddCommand(flush)
	return cmd
}

func newSweepCmd(r *runner) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail in-progress steps open longer than --max-age",
		Args:  cobra.NoArgs,
		RunE: r.run(func(ctx context.Context, a *app, _ []string) error {
			org, err := a.org()
			if err != nil {
				return err
			}
			res, err := workflow.NewSweeper(a.engine).FailStale(ctx, org, maxAge)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "failed %d stale steps (%d changed concurrently)\n", res.Failed, res.Conflicts)
			return nil
		}),
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 72*time.Hour, "how long a step may stay in progress")
	return cmd
}

func newMetricsCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{Use: "metrics", Short: "Expose engine metrics"}
	var (
		addr          string
		flushInterval time.Duration
	)
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve /metrics and flush the outbox periodically until interrupted",
		Args:  cobra.NoArgs,
		RunE: r.run(func(ctx context.Context, a *app, _ []string) error {
			if addr == "" {
				addr = a.cfg.Metrics.Addr
			}
			return serveMetrics(ctx, a, addr, flushInterval)
		}),
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default: metrics.addr)")
	serve.Flags().DurationVar(&flushInterval, "flush-interval", 30*time.Second, "outbox flush interval (0 disables)")
	cmd.AddCommand(serve)
	return cmd
}

func serveMetrics(ctx context.Context, a *app, addr string, flushInterval time.Duration) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("serving metrics", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	var tick <-chan time.Time
	if flushInterval > 0 {
		ticker := time.NewTicker(flushInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-tick:
			if _, err := a.engine.FlushOutbox(ctx, 0); err != nil {
				a.logger.Warn("flush outbox", zap.Error(err))
			}
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	}
}
