package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TimurManjosov/flagledger/internal/api"
	"github.com/TimurManjosov/flagledger/internal/auth"
	"github.com/TimurManjosov/flagledger/internal/cache"
	"github.com/TimurManjosov/flagledger/internal/clock"
	"github.com/TimurManjosov/flagledger/internal/config"
	"github.com/TimurManjosov/flagledger/internal/decision"
	"github.com/TimurManjosov/flagledger/internal/logging"
	"github.com/TimurManjosov/flagledger/internal/service"
	"github.com/TimurManjosov/flagledger/internal/store"
	"github.com/TimurManjosov/flagledger/internal/telemetry"
	"github.com/TimurManjosov/flagledger/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "flagledger: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: "flagledger",
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	st, err := store.NewStore(ctx, store.Options{Type: cfg.StoreType, DSN: cfg.DatabaseDSN, SQLitePath: cfg.SQLitePath})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()
	logger.Info().Str("store", cfg.StoreType).Msg("flag store ready")

	decisions := decision.LogFor(st)
	recorder, err := decision.NewRecorder(cfg.DecisionLogMode, decisions, clock.System{}, logger, decision.AsyncOptions{
		QueueSize: cfg.DecisionQueueSize,
		Workers:   cfg.DecisionWorkers,
		BatchSize: cfg.DecisionBatchSize,
	})
	if err != nil {
		return err
	}

	flagCache, err := cache.New(ctx, cache.Options{Type: cfg.CacheType, RedisURL: cfg.RedisURL, TTL: cfg.CacheTTL})
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer flagCache.Close()

	deps := service.Deps{
		Store:    st,
		Log:      decisions,
		Recorder: recorder,
		Cache:    flagCache,
		Logger:   logger,
	}
	var dispatcher *webhook.Dispatcher
	if len(cfg.WebhookURLs) > 0 {
		endpoints := make([]webhook.Endpoint, 0, len(cfg.WebhookURLs))
		for _, u := range cfg.WebhookURLs {
			endpoints = append(endpoints, webhook.Endpoint{URL: u})
		}
		dispatcher = webhook.NewDispatcher(webhook.Options{Endpoints: endpoints, Secret: cfg.WebhookSecret}, logger)
		dispatcher.Start()
		deps.Webhooks = dispatcher
		logger.Info().Int("endpoints", len(endpoints)).Msg("webhook dispatcher started")
	}

	svc := service.New(deps, service.Options{RolloutSalt: cfg.RolloutSalt, CacheTTL: cfg.CacheTTL})
	authn := auth.NewAuthenticator(cfg.AdminAPIKey, cfg.AdminAPIKeyHash, logger)
	srvAPI := api.NewServer(svc, authn, logger, api.Options{
		RateLimitPerIP: cfg.RateLimitPerIP,
		RequestTimeout: cfg.RequestTimeout,
		ReadyChecks: map[string]api.ReadyCheck{
			"store": store.Healthcheck(st),
			"cache": cache.Healthcheck(flagCache),
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srvAPI.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(logger, "api", srv) })
	g.Go(func() error { return serve(logger, "metrics", metricsSrv) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// HTTP first: nothing may record after the recorder closes.
		err := errors.Join(srv.Shutdown(shutCtx), metricsSrv.Shutdown(shutCtx))
		if cerr := recorder.Close(shutCtx); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close decision recorder: %w", cerr))
		}
		if dispatcher != nil {
			err = errors.Join(err, dispatcher.Close())
		}
		return errors.Join(err, shutdownTracing(shutCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("stopped")
	return nil
}

func serve(logger zerolog.Logger, name string, srv *http.Server) error {
	logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
