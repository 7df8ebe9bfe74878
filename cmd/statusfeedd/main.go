package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"statusfeed/internal/api"
	"statusfeed/internal/config"
	"statusfeed/internal/ingest"
	"statusfeed/internal/metrics"
	"statusfeed/internal/publish"
	"statusfeed/internal/resolver"
	"statusfeed/internal/store/sqlite"
	"statusfeed/internal/stream"
	"statusfeed/internal/stream/kafka"
	"statusfeed/internal/stream/websocket"
)

func main() {
	cfgPath := flag.String("config", "statusfeed.yaml", "path to config file")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("statusfeedd exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	metrics.Register()

	st, err := sqlite.NewStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sourceName := cfg.Stream.Source
	fromCursor, ok, err := st.Cursor(ctx, sourceName)
	if err != nil {
		return err
	}
	if !ok {
		fromCursor = 0
	}

	pipeline := ingest.New(ingest.Config{QueueCapacity: cfg.Ingest.QueueCapacity}, st, sourceName, fromCursor, log)

	var source stream.Source
	switch sourceName {
	case config.SourceWebsocket:
		source, err = websocket.NewClient(websocket.Config{
			Enabled:     true,
			URL:         cfg.Stream.Websocket.URL,
			DialTimeout: cfg.Stream.Websocket.DialTimeout,
			MinBackoff:  cfg.Stream.Websocket.MinBackoff,
			MaxBackoff:  cfg.Stream.Websocket.MaxBackoff,
		}, pipeline, log)
	case config.SourceKafka:
		source, err = kafka.NewSource(kafka.Config{
			Enabled: true,
			Brokers: cfg.Stream.Kafka.Brokers,
			Topic:   cfg.Stream.Kafka.Topic,
			GroupID: cfg.Stream.Kafka.GroupID,
		}, pipeline, log)
	}
	if err != nil {
		return err
	}

	res := resolver.New(resolver.Config{
		TTL:     cfg.Resolver.TTL,
		Timeout: cfg.Resolver.Timeout,
	}, resolver.NewHTTPDirectory(cfg.Resolver.DirectoryURL), log)

	coord := publish.NewCoordinator(publish.NewHTTPRepository(cfg.Publish.RepoURL), st, log)

	mux := http.NewServeMux()
	api.NewServer(st, coord, res, log).RegisterRoutes(mux)
	apiSrv := &http.Server{Addr: cfg.Server.APIAddr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}

	pipeline.Start(ctx)

	sourceErr := make(chan error, 1)
	go func() {
		log.Info("consuming mutation log", "source", sourceName, "cursor", fromCursor)
		sourceErr <- source.Run(ctx, fromCursor)
	}()

	errCh := make(chan error, 2)
	go func() {
		log.Info("api listening", "addr", cfg.Server.APIAddr)
		if err := apiSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info("metrics listening", "addr", cfg.Server.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	sourceStopped := false
	select {
	case <-ctx.Done():
	case runErr = <-sourceErr:
		sourceStopped = true
		stop()
	case runErr = <-errCh:
		stop()
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", "err", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics shutdown", "err", err)
	}
	// the source must have stopped delivering before the pipeline closes
	// its queues
	if !sourceStopped {
		if err := <-sourceErr; runErr == nil {
			runErr = err
		}
	}
	pipeline.Stop()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
