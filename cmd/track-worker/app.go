package main

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/TrackNumbers/config"
	"github.com/BearBump/TrackNumbers/internal/cache/rediscache"
	"github.com/BearBump/TrackNumbers/internal/encoding/symbology"
	"github.com/BearBump/TrackNumbers/internal/metrics"
	"github.com/BearBump/TrackNumbers/internal/services/reconciler"
	"github.com/BearBump/TrackNumbers/internal/services/trackings"
	"github.com/BearBump/TrackNumbers/internal/storage/pgtracking"
	"github.com/prometheus/client_golang/prometheus"
)

// workerStore is what the worker needs from storage: drift detection plus
// everything trackings.Service reads and writes while repairing.
type workerStore interface {
	reconciler.Repository
	trackings.Repository
	trackings.OwnerStore
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (st workerStore, closeFn func(), err error)
	newRateLimiter func(cfg *config.Config) reconciler.RateLimiter
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStore, func(), error) {
			st, err := pgtracking.New(cfg.Database.PostgresConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newRateLimiter: func(cfg *config.Config) reconciler.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
	}
}

type workerSettings struct {
	httpAddr        string
	interval        time.Duration
	batchSize       int
	concurrency     int
	writesPerMinute int64
}

func settingsFrom(cfg *config.Config) workerSettings {
	tn := cfg.TrackNumbers
	s := workerSettings{
		httpAddr:        tn.WorkerHTTPAddr,
		interval:        time.Duration(tn.WorkerIntervalSeconds) * time.Second,
		batchSize:       tn.WorkerBatchSize,
		concurrency:     tn.WorkerConcurrency,
		writesPerMinute: int64(tn.WorkerOwnerWritesPerMinute),
	}
	if s.httpAddr == "" {
		s.httpAddr = ":8082"
	}
	if s.interval <= 0 {
		s.interval = 30 * time.Second
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.concurrency <= 0 {
		s.concurrency = 4
	}
	if s.writesPerMinute <= 0 {
		s.writesPerMinute = 600
	}
	return s
}

func RunTrackWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	s := settingsFrom(cfg)

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	namespace := cfg.TrackNumbers.MetricsNamespace
	if namespace == "" {
		namespace = "tracknumbers"
	}
	reg := prometheus.NewRegistry()
	svc := trackings.New(st, st, symbology.NewPNGEncoder(), nil).
		WithMetrics(metrics.New(reg, namespace))

	rec := reconciler.New(st, svc, f.newRateLimiter(cfg)).
		WithSettings(s.interval, s.batchSize, s.concurrency, s.writesPerMinute)

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:   s.httpAddr,
			reconciler: rec,
			settings:   s,
			gatherer:   reg,
		})
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- rec.Run(ctx) }()

	select {
	case err := <-httpErr:
		if err != nil && ctx.Err() == nil {
			return err
		}
		return <-runErr
	case err := <-runErr:
		return err
	}
}
