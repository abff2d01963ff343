package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pat-backend/internal/api"
	"pat-backend/internal/cache"
	"pat-backend/internal/config"
	"pat-backend/internal/db"
	"pat-backend/internal/dynamo"
	"pat-backend/internal/metrics"
	"pat-backend/internal/mqtt"
	"pat-backend/internal/processors/ingester"
	"pat-backend/internal/registry"
	"pat-backend/internal/service"
	"pat-backend/internal/storage"
	"pat-backend/internal/stream"
	"pat-backend/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

// run owns every resource it opens, so deferred releases happen before main exits.
func run() error {
	cfg, err := config.Load(os.Getenv("PAT_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg.Logging)

	policy, err := webhook.ParseRepeatPolicy(cfg.Webhook.RepeatPolicy)
	if err != nil {
		return fmt.Errorf("reading webhook config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	slog.InfoContext(ctx, "Starting service...", "backend", cfg.Storage.Backend)
	metrics.MustRegister("pat-backend")

	tables, closeStore, err := openTables(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer closeStore()

	cacheCfg := cache.Config{}
	if cfg.Kafka.Enabled && cfg.Kafka.HydrateCache {
		cacheCfg = cache.Config{Brokers: cfg.Kafka.Brokers, ConsumerTopic: cfg.Kafka.TelemetryTopic}
	}
	stateCache := cache.New(cacheCfg)
	stateCache.Hydrate(ctx)

	notifier := webhook.NewNotifier(webhook.NotifierConfig{
		Subscriptions: webhook.NewSubscriptions(webhook.SubscriptionsConfig{
			Table:   tables.Devices,
			Devices: registry.New(registry.Config{Table: tables.Devices}),
		}),
		Workers:   cfg.Webhook.Workers,
		QueueSize: cfg.Webhook.QueueSize,
		Timeout:   cfg.Webhook.Timeout,
		Policy:    policy,
		Cache:     stateCache,
	})
	notifier.Start(ctx)

	svcCfg := service.Config{Tables: tables, Notifier: notifier}
	var publisher *stream.Publisher
	if cfg.Kafka.Enabled {
		publisher = stream.New(stream.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.TelemetryTopic})
		publisher.Start(ctx)
		svcCfg.Publisher = publisher
	}
	svc := service.New(svcCfg)

	wg := sync.WaitGroup{}
	var wIngester *ingester.Ingester
	if cfg.Kafka.Enabled {
		wIngester = ingester.New(ingester.Config{
			Brokers:         cfg.Kafka.Brokers,
			ConsumerGroupID: cfg.Kafka.ConsumerGroupID,
			ConsumerTopic:   cfg.Kafka.IngestTopic,
			Service:         svc,
		})
		wg.Go(func() {
			wIngester.Run(ctx)
		})
	}

	var runErr error
	var subscriber *mqtt.Subscriber
	if cfg.MQTT.Enabled {
		subscriber = mqtt.New(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		}, svc)
		if err := subscriber.Connect(ctx); err != nil {
			runErr = fmt.Errorf("connecting to MQTT broker: %w", err)
			subscriber = nil
			cancel()
		}
	}

	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.New(api.Config{
			Service:        svc,
			RateLimit:      cfg.HTTP.RateLimit,
			AllowedOrigins: cfg.HTTP.AllowedOrigins,
			RequestTimeout: cfg.HTTP.WriteTimeout,
		}).Routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	if runErr == nil {
		wg.Go(func() {
			slog.InfoContext(ctx, "HTTP server listening", "addr", cfg.HTTP.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.ErrorContext(ctx, "HTTP server error", "error", err)
				cancel()
			}
		})
	}

	select {
	case <-sigs:
	case <-ctx.Done():
	}
	slog.InfoContext(ctx, "Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "HTTP server shutdown error", "error", err)
	}
	if subscriber != nil {
		subscriber.Close(shutdownCtx)
	}
	wg.Wait()
	if wIngester != nil {
		wIngester.Close(shutdownCtx)
	}
	notifier.Close(shutdownCtx)
	if publisher != nil {
		publisher.Close(shutdownCtx)
	}
	slog.InfoContext(shutdownCtx, "Service stopped")
	return runErr
}

func setupLogging(cfg config.LoggingConfig) {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// openTables returns the three tables on the configured backend and a func releasing it.
func openTables(ctx context.Context, cfg config.Config) (service.Tables, func(), error) {
	names := cfg.Storage
	switch names.Backend {
	case config.BackendDynamoDB:
		client, err := dynamo.NewClient(ctx, dynamo.Config{
			Region:          cfg.DynamoDB.Region,
			Endpoint:        cfg.DynamoDB.Endpoint,
			AccessKeyID:     cfg.DynamoDB.AccessKeyID,
			SecretAccessKey: cfg.DynamoDB.SecretAccessKey,
		})
		if err != nil {
			return service.Tables{}, nil, err
		}
		return service.Tables{
			Devices: dynamo.NewTable(client, names.DevicesTable, storage.DeviceSchema),
			Data:    dynamo.NewTable(client, names.DataTable, storage.DataSchema),
			Issues:  dynamo.NewTable(client, names.IssuesTable, storage.DataSchema),
		}, func() {}, nil
	case config.BackendPostgres:
		pg, err := db.Init(ctx, db.Config{
			ConnString:     cfg.Postgres.ConnString,
			MigrationsPath: cfg.Postgres.MigrationsPath,
		})
		if err != nil {
			return service.Tables{}, nil, err
		}
		return service.Tables{
			Devices: pg.Table(names.DevicesTable, storage.DeviceSchema),
			Data:    pg.Table(names.DataTable, storage.DataSchema),
			Issues:  pg.Table(names.IssuesTable, storage.DataSchema),
		}, pg.Close, nil
	}
	slog.WarnContext(ctx, "Using in-memory storage, data is lost on restart")
	return service.Tables{
		Devices: storage.NewMemory(names.DevicesTable, storage.DeviceSchema),
		Data:    storage.NewMemory(names.DataTable, storage.DataSchema),
		Issues:  storage.NewMemory(names.IssuesTable, storage.DataSchema),
	}, func() {}, nil
}
