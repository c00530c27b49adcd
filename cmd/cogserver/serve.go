package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/airbusgeo/cogserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve dataset [dataset...]",
		Short: "serve datasets as virtual cogs over http",
		Long: "serve each dataset at /<basename>.tif. Datasets are GDAL dataset names " +
			"(or tiled uncompressed tiffs with --driver=tiff), gs:// urls, or {dummy} " +
			"for a 3000x2000 yellow test image.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), args)
		},
	}
	cmd.Flags().IntVar(&cfg.Port, "port", cfg.Port, "http port")
	cmd.Flags().IntVar(&cfg.MetricsPort, "metricsPort", cfg.MetricsPort, "prometheus metrics port, 0 to disable")
	cmd.Flags().Int64Var(&cfg.CacheTiles, "cacheTiles", cfg.CacheTiles, "number of tiles kept in memory per dataset, 0 to disable")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "number of tiles produced in parallel per dataset")
	return cmd
}

func serve(ctx context.Context, args []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := cogserver.NewMetrics(reg)

	srv := cogserver.NewServer(logger, metrics)
	for _, arg := range args {
		ds, err := openDataset(ctx, arg, metrics)
		if err != nil {
			return err
		}
		defer ds.Close()
		srv.Handle(datasetName(arg), ds)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "ok")
	})
	mux.Handle("/", srv)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		mmux := http.NewServeMux()
		mmux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler:           mmux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("address", httpServer.Addr), zap.Strings("datasets", srv.Names()))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("metrics server listening", zap.String("address", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Warn("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			err = errors.Join(err, metricsServer.Shutdown(shutdownCtx))
		}
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("server group", zap.Error(err))
		return err
	}
	return nil
}
