package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	trackingsapi "github.com/BearBump/TrackNumbers/internal/api/trackings_api"
	"github.com/BearBump/TrackNumbers/internal/broker/messages"
	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/BearBump/TrackNumbers/internal/services/trackings"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type trackAPIOpts struct {
	httpAddr    string
	swaggerPath string

	statusTopic   string
	consumerGroup string

	// status message retry backoff and consumer restart delay
	retryInitial time.Duration
	restartDelay time.Duration

	gatherer        prometheus.Gatherer
	limiter         trackingsapi.RateLimiter
	createPerMinute int

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runTrackAPI(ctx context.Context, opts trackAPIOpts, svc trackingsapi.Service, consumer kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, opts, svc)
	}()

	if consumer != nil {
		go consumeStatuses(ctx, opts, svc, consumer)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-httpErr:
		if err == nil {
			return ctx.Err()
		}
		return err
	}
}

// consumeStatuses runs the status consumer until ctx is done. A failing
// message is retried with backoff and its offset stays uncommitted until it
// is applied; a consumer that stops on fetch or commit errors is restarted.
func consumeStatuses(ctx context.Context, opts trackAPIOpts, svc trackingsapi.Service, consumer kafkaConsumer) {
	restartDelay := opts.restartDelay
	if restartDelay <= 0 {
		restartDelay = time.Second
	}
	for {
		slog.Info("kafka consumer started", "topic", opts.statusTopic, "group", opts.consumerGroup)
		err := consumer.Consume(ctx, func(_key, value []byte) error {
			return handleWithRetry(ctx, opts.retryInitial, svc, value)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("kafka consumer stopped, restarting", "topic", opts.statusTopic, "error", err.Error())
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func handleWithRetry(ctx context.Context, initial time.Duration, svc trackingsapi.Service, value []byte) error {
	b := backoff.NewExponentialBackOff()
	if initial > 0 {
		b.InitialInterval = initial
	}
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		return handleStatusMessage(ctx, svc, value)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		slog.Warn("status message failed, retrying", "in", next.String(), "error", err.Error())
	})
}

// handleStatusMessage appends a status from the status topic. Messages that
// can never succeed are logged and skipped so they do not block the partition.
func handleStatusMessage(ctx context.Context, svc trackingsapi.Service, value []byte) error {
	var m messages.StatusAppended
	if err := json.Unmarshal(value, &m); err != nil {
		slog.Warn("skip malformed status message", "error", err.Error())
		return nil
	}
	tenant, err := svc.Tenant(ctx, m.CompanyID, "")
	if err != nil {
		return err
	}
	in := models.StatusInput{Status: m.Status, Code: m.Code, Details: m.Details}
	if m.Location != nil {
		in.Location = &models.Point{Lat: m.Location.Lat, Lon: m.Location.Lon}
	}

	_, ev, err := svc.AppendStatus(ctx, tenant, m.TrackingID, in)
	if errors.Is(err, trackings.ErrValidation) || errors.Is(err, models.ErrNotFound) {
		slog.Warn("skip status message", "tracking_id", m.TrackingID, "code", m.Code, "error", err.Error())
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("status appended", "tracking_id", ev.TrackingID, "code", ev.Code)
	return nil
}

func runHTTPServer(ctx context.Context, lis net.Listener, opts trackAPIOpts, svc trackingsapi.Service) error {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	gatherer := opts.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, opts.swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(opts.swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))

	trackingsapi.New(svc).
		WithRateLimit(opts.limiter, opts.createPerMinute).
		Register(r)

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
