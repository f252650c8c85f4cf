package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/amqp"
	"fintrack/internal/backend"
	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/grpcserver"
	apphttp "fintrack/internal/http"
	"fintrack/internal/identity"
	flog "fintrack/internal/log"
	"fintrack/internal/session"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig((*config.Config).Validate)
	logger := cli.SetupLogger(cfg, flog.ComponentApp)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server stopped with error", flog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}

func run(cfg *config.Config, logger *flog.Logger) error {
	ctx, stop := cli.SignalContext(logger)
	defer stop()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	be, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Close(); err != nil {
			logger.Error("Failed to close backend", flog.FieldError, err)
		}
	}()

	provider, err := identity.NewProvider(be.Store, identity.Config{
		Secret: []byte(cfg.JWTSecret),
		TTL:    cfg.JWTTTL,
	}, logger)
	if err != nil {
		return err
	}

	// Events are optional: without a broker the worker's sweep still
	// mirrors durable rows.
	var publisher session.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, transaction events disabled", flog.FieldError, err)
		} else {
			defer client.Close()
			publisher = client
			logger.Info("AMQP publisher connected", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	manager := session.NewManager(be.Store, session.Options{
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
		Publisher: publisher,
		Logger:    logger,
	})
	unsubscribe := provider.Subscribe(manager.OnAuthEvent)
	defer unsubscribe()

	caches := cache.NewManager(logger.Logger)
	caches.Register(manager.Cache())
	caches.StartCleanup(time.Minute)
	defer caches.Stop()

	srv, err := apphttp.NewServer(":"+cfg.Port, apphttp.Options{
		Auth:               provider,
		Ledger:             manager,
		Pinger:             be.Pinger,
		TrustedProxies:     cfg.TrustedProxies,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Locale:             cfg.Locale,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	var grpcSrv *grpcserver.Server
	if cfg.GRPCAddr != "" {
		grpcSrv = grpcserver.New(cfg.GRPCAddr, logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting fintrack server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if grpcSrv != nil {
		grpcSrv.SetServing(true)
		g.Go(grpcSrv.Start)
	}
	g.Go(func() error {
		<-gctx.Done()
		steps := []func(context.Context) error{}
		if grpcSrv != nil {
			steps = append(steps, func(context.Context) error {
				grpcSrv.Stop()
				return nil
			})
		}
		steps = append(steps, srv.Shutdown, func(context.Context) error {
			provider.Wait()
			return nil
		})
		return cli.Shutdown(logger, shutdownTimeout, steps...)
	})
	return g.Wait()
}
