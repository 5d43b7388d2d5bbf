package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/TrackNumbers/internal/models"
	"github.com/pkg/errors"
)

// Repository lists, per owner, the live record holding the owner's newest
// current status when the owner's status differs from its lower-cased code.
type Repository interface {
	ListOwnerStatusDrift(ctx context.Context, limit int) ([]*models.TrackingRecord, error)
}

type Updater interface {
	UpdateOwnerStatus(ctx context.Context, rec *models.TrackingRecord, status *models.StatusEvent) (*models.TrackingRecord, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

var errThrottled = errors.New("owner status writes throttled")

// Reconciler repairs owner statuses left behind by failed best-effort writes.
type Reconciler struct {
	repo    Repository
	updater Updater
	rl      RateLimiter

	interval        time.Duration
	batchSize       int
	concurrency     int
	writesPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalFound          atomic.Int64
	totalRepaired       atomic.Int64
	totalThrottled      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, updater Updater, rl RateLimiter) *Reconciler {
	return &Reconciler{
		repo: repo, updater: updater, rl: rl,
		interval:          30 * time.Second,
		batchSize:         100,
		concurrency:       4,
		writesPerMinute:   600,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (r *Reconciler) WithSettings(interval time.Duration, batchSize, concurrency int, writesPerMinute int64) *Reconciler {
	if interval > 0 {
		r.interval = interval
	}
	if batchSize > 0 {
		r.batchSize = batchSize
	}
	if concurrency > 0 {
		r.concurrency = concurrency
	}
	if writesPerMinute > 0 {
		r.writesPerMinute = writesPerMinute
	}
	return r
}

// Trigger requests an immediate cycle without blocking.
func (r *Reconciler) Trigger() {
	r.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalFound     int64      `json:"totalFound"`
	TotalRepaired  int64      `json:"totalRepaired"`
	TotalThrottled int64      `json:"totalThrottled"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (r *Reconciler) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalFound:     r.totalFound.Load(),
		TotalRepaired:  r.totalRepaired.Load(),
		TotalThrottled: r.totalThrottled.Load(),
		TotalErrors:    r.totalErrors.Load(),
		InFlight:       r.inFlight.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := r.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

func (r *Reconciler) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.runOnce(ctx)
		case <-r.triggerCh:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	r.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())

	items, err := r.repo.ListOwnerStatusDrift(ctx, r.batchSize)
	if err != nil {
		slog.Error("list owner status drift", "error", err.Error())
		r.setLastError(err)
		return
	}
	items = onePerOwner(items)
	r.totalFound.Add(int64(len(items)))

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for _, rec := range items {
		sem <- struct{}{}
		wg.Add(1)
		r.inFlight.Add(1)
		go func() {
			defer func() {
				r.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			err := r.processOne(ctx, rec)
			switch {
			case errors.Is(err, errThrottled):
				r.totalThrottled.Add(1)
			case err != nil:
				r.totalErrors.Add(1)
				r.setLastError(err)
				slog.Error("reconcile owner status", "tracking_id", rec.ID, "owner_id", rec.OwnerID, "error", err.Error())
			default:
				r.totalRepaired.Add(1)
			}
		}()
	}
	wg.Wait()
}

// processOne rewrites the owner status from the record's current status.
// Throttled records stay drifted and are picked up by a later cycle.
func (r *Reconciler) processOne(ctx context.Context, rec *models.TrackingRecord) error {
	if r.rl != nil && r.writesPerMinute > 0 {
		minuteKey := "rl:owner-status:" + time.Now().UTC().Format("200601021504")
		allowed, n, err := r.rl.Allow(ctx, minuteKey, r.writesPerMinute, 70*time.Second)
		if err != nil {
			return errors.Wrap(err, "owner status rate limit")
		}
		if !allowed {
			slog.Debug("owner status writes throttled", "count", n)
			return errThrottled
		}
	}
	if _, err := r.updater.UpdateOwnerStatus(ctx, rec, nil); err != nil {
		return err
	}
	return nil
}

// onePerOwner keeps the first record of each owner so an owner is written at
// most once per cycle.
func onePerOwner(items []*models.TrackingRecord) []*models.TrackingRecord {
	seen := make(map[models.OwnerRef]struct{}, len(items))
	out := items[:0:0]
	for _, rec := range items {
		ref := models.OwnerRef{Kind: rec.OwnerKind, ID: rec.OwnerID}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, rec)
	}
	return out
}

func (r *Reconciler) setLastError(err error) {
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}
