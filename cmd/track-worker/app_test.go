package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/BearBump/TrackNumbers/config"
	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/BearBump/TrackNumbers/internal/services/reconciler"
	"github.com/stretchr/testify/require"
)

// fakeStore embeds the interface so only the drift query needs an implementation.
type fakeStore struct {
	workerStore
}

func (s *fakeStore) ListOwnerStatusDrift(ctx context.Context, limit int) ([]*models.TrackingRecord, error) {
	return nil, nil
}

func TestDefaultWorkerFactories_RateLimiter_NonNil(t *testing.T) {
	f := defaultWorkerFactories()
	cfg := &config.Config{Redis: config.RedisConfig{Host: "localhost", Port: 6379}}
	require.NotNil(t, f.newRateLimiter(cfg))
}

func TestSettingsFrom_Defaults(t *testing.T) {
	s := settingsFrom(&config.Config{})
	require.Equal(t, workerSettings{
		httpAddr:        ":8082",
		interval:        30 * time.Second,
		batchSize:       100,
		concurrency:     4,
		writesPerMinute: 600,
	}, s)

	s = settingsFrom(&config.Config{TrackNumbers: config.TrackNumbersConfig{WorkerIntervalSeconds: 5, WorkerConcurrency: 2}})
	require.Equal(t, 5*time.Second, s.interval)
	require.Equal(t, 2, s.concurrency)
}

func TestRunTrackWorker_ContextCanceled(t *testing.T) {
	calledClose := false

	f := workerFactories{
		newStorage: func(cfg *config.Config) (workerStore, func(), error) {
			return &fakeStore{}, func() { calledClose = true }, nil
		},
		newRateLimiter: func(cfg *config.Config) reconciler.RateLimiter {
			return nil
		},
	}
	cfg := &config.Config{TrackNumbers: config.TrackNumbersConfig{WorkerHTTPAddr: "127.0.0.1:0", WorkerIntervalSeconds: 1}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunTrackWorker(ctx, cfg, f)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}

func TestWorkerHTTPServer_Endpoints(t *testing.T) {
	rec := reconciler.New(&fakeStore{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:   "127.0.0.1:0",
			onListen:   func(addr string) { addrCh <- addr },
			reconciler: rec,
			settings:   settingsFrom(&config.Config{}),
		})
	}()
	base := "http://" + <-addrCh

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(base+"/trigger", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/stats")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	var st reconciler.Stats
	require.NoError(t, json.Unmarshal(body, &st))
	require.NotNil(t, st.LastTriggerAt)

	resp, err = http.Get(base + "/config")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.JSONEq(t, `{"intervalSeconds":30,"batchSize":100,"concurrency":4,"writesPerMinute":600}`, string(body))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting worker http server to stop")
	}
}
