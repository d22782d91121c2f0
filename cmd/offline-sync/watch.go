package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dsbaciga/captainslog/offline"
	"github.com/dsbaciga/captainslog/offline/connectivity"
)

func newWatchCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync automatically whenever connectivity returns or the process is foregrounded",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides CAPTAINSLOG_SYNC_METRICS_ADDR)")
	return cmd
}

// runWatch blocks until ctx is cancelled.
func runWatch(ctx context.Context, metricsAddr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// the monitor gates the engine and probes through it
	var eng *offline.Engine
	monitor := connectivity.NewMonitor(func(ctx context.Context) error { return eng.Ping(ctx) }, cfg.ProbeInterval, log.Logger)

	a, err := openAppWithConfig(cfg, offline.WithConnectivity(monitor))
	if err != nil {
		return err
	}
	defer a.Close()
	eng = a.engine

	if metricsAddr == "" {
		metricsAddr = a.cfg.MetricsAddr
	}

	if rep, err := eng.PruneHistory(ctx); err != nil {
		log.Warn().Err(err).Msg("history pruning failed")
	} else if rep.Conflicts+rep.DeadLetters > 0 {
		log.Info().Int("conflicts", rep.Conflicts).Int("dead_letters", rep.DeadLetters).Msg("pruned sync history")
	}

	unsubscribe := eng.OnSyncComplete(func(res offline.SyncResult) {
		if len(res.Conflicts) > 0 {
			log.Warn().Int("conflicts", len(res.Conflicts)).Msg("conflicts need a decision; run `offline-sync conflicts`")
		}
	})
	defer unsubscribe()

	foreground := connectivity.NewForeground()
	teardown := eng.ScheduleAutoSync(monitor, foreground)
	defer teardown()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return foreground.Run(gctx) })

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", metricsAddr).Msg("metrics server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info().Str("api_url", a.cfg.APIURL).Dur("probe_interval", a.cfg.ProbeInterval).Msg("watching for connectivity")
	err = g.Wait()
	log.Info().Msg("watch stopped")
	return err
}
