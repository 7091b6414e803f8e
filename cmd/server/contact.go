package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"reconcile/internal/audit"
	"reconcile/internal/contact/metrics"
	"reconcile/internal/contact/ports"
	"reconcile/internal/contact/store"
	"reconcile/internal/platform/config"
	"reconcile/internal/platform/kafka"
	"reconcile/internal/platform/postgres"
	"reconcile/pkg/platform/circuit"
)

// contactTx picks the contact store backend named by cfg.Store. ping is nil
// for the in-memory store.
func contactTx(ctx context.Context, cfg config.Server, m *metrics.Metrics, log *slog.Logger) (ports.StoreTx, func(context.Context) error, func() error, error) {
	if cfg.Store != config.StorePostgres {
		log.Info("using in-memory contact store")
		return store.NewInMemoryTx(store.NewInMemoryStore()), nil, func() error { return nil }, nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := postgres.Migrate(ctx, db, store.Migrations, store.MigrationsRoot); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("migrate contacts schema: %w", err)
	}
	log.Info("using postgres contact store", "max_retries", cfg.Database.TxMaxRetries)

	tx := store.NewPostgresTx(db,
		store.WithTxTimeout(cfg.Database.TxTimeout),
		store.WithMaxRetries(cfg.Database.TxMaxRetries),
		store.WithRetryObserver(m.IncrementTxRetries),
	)
	return tx, db.PingContext, db.Close, nil
}

// auditPipeline returns the publisher the service emits to and, when Kafka is
// configured, the worker that drains it. A nil worker means events are
// written synchronously to the log.
func auditPipeline(ctx context.Context, cfg config.KafkaConfig, log *slog.Logger) (ports.AuditPublisher, *audit.Worker, *kgo.Client, error) {
	logSink := audit.NewLogSink(log)

	client, err := kafka.New(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if client == nil {
		return audit.NewPublisher(logSink), nil, nil, nil
	}
	if err := kafka.EnsureTopic(ctx, client, cfg.AuditTopic, cfg.Partitions, cfg.Replication); err != nil {
		client.Close()
		return nil, nil, nil, err
	}

	sink := audit.NewBreakerSink(
		audit.NewKafkaSink(client, cfg.AuditTopic),
		logSink,
		circuit.New("audit-kafka"),
		log,
	)
	async := audit.NewAsyncPublisher(audit.NewPublisher(sink), 0)
	log.Info("publishing audit events to kafka", "topic", cfg.AuditTopic, "brokers", cfg.Brokers)
	return async, async.Worker(log), client, nil
}
