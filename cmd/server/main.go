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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"reconcile/internal/contact/handler"
	contactmetrics "reconcile/internal/contact/metrics"
	"reconcile/internal/contact/lock"
	"reconcile/internal/contact/service"
	"reconcile/internal/platform/config"
	"reconcile/internal/platform/httpserver"
	"reconcile/internal/platform/logger"
	"reconcile/internal/platform/metrics"
	"reconcile/internal/platform/redis"
	httptransport "reconcile/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "reconcile: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	contactMetrics := contactmetrics.NewWithRegisterer(reg)

	checks := map[string]httptransport.HealthCheck{}

	tx, ping, closeStore, err := contactTx(ctx, cfg, contactMetrics, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	if ping != nil {
		checks["postgres"] = ping
	}

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(contactMetrics),
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
		checks["redis"] = redisClient.Health
		opts = append(opts, service.WithLocker(lock.NewRedisLocker(redisClient,
			lock.WithTTL(cfg.LockTTL),
			lock.WithLogger(log),
		)))
		log.Info("serializing identify calls with redis locks", "ttl", cfg.LockTTL)
	}

	publisher, worker, kafkaClient, err := auditPipeline(ctx, cfg.Kafka, log)
	if err != nil {
		return err
	}
	if kafkaClient != nil {
		defer kafkaClient.Close()
		checks["kafka"] = kafkaClient.Ping
	}
	opts = append(opts, service.WithAuditPublisher(publisher))

	svc := service.New(tx, opts...)
	router := httptransport.NewRouter(httptransport.Config{
		Logger:         log,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		RequestTimeout: cfg.RequestTimeout,
		HealthChecks:   checks,
	}, handler.New(svc, log))

	srv := httpserver.New(cfg.Addr, router, cfg.RequestTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting reconcile", "addr", cfg.Addr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	if worker != nil {
		// Run flushes whatever is still queued once gctx is done.
		g.Go(func() error { return worker.Run(gctx) })
	}
	return g.Wait()
}
