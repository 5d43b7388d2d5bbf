package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/TrackNumbers/config"
	"github.com/BearBump/TrackNumbers/internal/broker/kafka"
	"github.com/BearBump/TrackNumbers/internal/cache/rediscache"
	"github.com/BearBump/TrackNumbers/internal/encoding/symbology"
	"github.com/BearBump/TrackNumbers/internal/metrics"
	"github.com/BearBump/TrackNumbers/internal/services/trackings"
	"github.com/BearBump/TrackNumbers/internal/storage/pgtracking"
	"github.com/BearBump/TrackNumbers/internal/trackcode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type trackAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     trackAPIOpts
	svc      *trackings.Service
	consumer *kafka.Consumer
	closers  []func() error
	closeDB  func()
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config, %v", err))
	}
	tn := cfg.TrackNumbers

	httpAddr := tn.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := tn.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "track-api"
	}
	statusTopic := cfg.Kafka.StatusTopicName
	if statusTopic == "" {
		statusTopic = "tracking.status"
	}
	allocatedTopic := cfg.Kafka.AllocatedTopicName
	if allocatedTopic == "" {
		allocatedTopic = "tracking.allocated"
	}
	namespace := tn.MetricsNamespace
	if namespace == "" {
		namespace = "tracknumbers"
	}
	createPerMinute := tn.CreateRateLimitPerMinute
	if createPerMinute == 0 {
		createPerMinute = 600
	}

	cacheTTL := time.Duration(tn.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	st := mustOpenPostgresWithRetry(cfg.Database.PostgresConnString(), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	limiter := rediscache.NewRateLimiter(redisAddr)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, namespace)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, statusTopic, consumerGroup)

	svc := trackings.New(st, st, symbology.NewPNGEncoder(), trackcode.New(nil, tn.MaxGenerationAttempts)).
		WithCache(rc, cacheTTL).
		WithPublisher(producer, allocatedTopic).
		WithMetrics(m)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &trackAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: trackAPIOpts{
			httpAddr:        httpAddr,
			swaggerPath:     swaggerPath,
			statusTopic:     statusTopic,
			consumerGroup:   consumerGroup,
			gatherer:        reg,
			limiter:         limiter,
			createPerMinute: createPerMinute,
		},
		svc:      svc,
		consumer: consumer,
		closers:  []func() error{consumer.Close, producer.Close, rc.Close, limiter.Close},
		closeDB:  st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgtracking.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgtracking.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, c := range a.closers {
		_ = c()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *trackAPIApp) Run() error {
	return runTrackAPI(a.ctx, a.opts, a.svc, a.consumer)
}
