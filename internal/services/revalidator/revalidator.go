package revalidator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/PinBox/internal/cache/rediscache"
	"github.com/BearBump/PinBox/internal/integrations/serviceability"
	"github.com/BearBump/PinBox/internal/models"
	"github.com/BearBump/PinBox/internal/storage/pglocations"
	"github.com/BearBump/PinBox/internal/telemetry"
)

type Repository interface {
	ClaimDuePincodes(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.PincodeCheck, error)
	ApplyPincodeCheck(ctx context.Context, upd pglocations.PincodeCheckUpdate) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// MemoStore receives fresh answers so the API stops serving stale ones.
type MemoStore interface {
	Store(ctx context.Context, pincode string, r serviceability.Result) error
}

// Revalidator periodically re-checks known pincodes against the backend.
type Revalidator struct {
	repo    Repository
	backend serviceability.Client
	memo    MemoStore
	rl      RateLimiter
	metrics *telemetry.Metrics

	planner *Planner

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalErrors         atomic.Int64
	totalRateLimited    atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, backend serviceability.Client, memo MemoStore, rl RateLimiter) *Revalidator {
	return &Revalidator{
		repo: repo, backend: backend, memo: memo, rl: rl,
		planner:            DefaultPlanner(),
		pollInterval:       30 * time.Second,
		batchSize:          100,
		concurrency:        4,
		lease:              120 * time.Second,
		rateLimitPerMinute: 60,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (v *Revalidator) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Revalidator {
	if pollInterval > 0 {
		v.pollInterval = pollInterval
	}
	if batchSize > 0 {
		v.batchSize = batchSize
	}
	if concurrency > 0 {
		v.concurrency = concurrency
	}
	if lease > 0 {
		v.lease = lease
	}
	if rlPerMin > 0 {
		v.rateLimitPerMinute = rlPerMin
	}
	return v
}

func (v *Revalidator) WithPlanner(cfg PlannerConfig) *Revalidator {
	v.planner = NewPlanner(cfg, nil)
	return v
}

func (v *Revalidator) WithMetrics(m *telemetry.Metrics) *Revalidator {
	v.metrics = m
	return v
}

// Trigger forces an immediate cycle (best-effort, non-blocking).
func (v *Revalidator) Trigger() {
	v.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case v.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt        time.Time  `json:"startedAt"`
	LastCycleAt      *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt    *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed     int64      `json:"totalClaimed"`
	TotalProcessed   int64      `json:"totalProcessed"`
	TotalErrors      int64      `json:"totalErrors"`
	TotalRateLimited int64      `json:"totalRateLimited"`
	InFlight         int64      `json:"inFlight"`
	LastError        string     `json:"lastError,omitempty"`
}

func (v *Revalidator) Stats() Stats {
	st := Stats{
		StartedAt:        time.Unix(0, v.startedAtUnixNano).UTC(),
		TotalClaimed:     v.totalClaimed.Load(),
		TotalProcessed:   v.totalProcessed.Load(),
		TotalErrors:      v.totalErrors.Load(),
		TotalRateLimited: v.totalRateLimited.Load(),
		InFlight:         v.inFlight.Load(),
	}
	if n := v.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := v.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	v.lastErrorMu.Lock()
	st.LastError = v.lastError
	v.lastErrorMu.Unlock()
	return st
}

func (v *Revalidator) Run(ctx context.Context) error {
	t := time.NewTicker(v.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			v.runOnce(ctx)
		case <-v.triggerCh:
			v.runOnce(ctx)
		}
	}
}

func (v *Revalidator) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	v.lastCycleUnixNano.Store(now.UnixNano())

	items, err := v.repo.ClaimDuePincodes(ctx, now, v.batchSize, v.lease)
	if err != nil {
		slog.Error("claim due pincodes", "error", err.Error())
		v.setLastError(err)
		return
	}
	v.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, v.concurrency)
	var wg sync.WaitGroup
	for _, pc := range items {
		sem <- struct{}{}
		wg.Add(1)
		v.inFlight.Add(1)
		go func() {
			defer func() {
				v.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := v.processOne(ctx, pc); err != nil {
				v.totalErrors.Add(1)
				v.setLastError(err)
				slog.Error("revalidate pincode", "pincode", pc.Pincode, "error", err.Error())
			}
			v.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

func (v *Revalidator) processOne(ctx context.Context, pc *models.PincodeCheck) error {
	now := time.Now().UTC()

	if v.rl != nil && v.rateLimitPerMinute > 0 {
		allowed, n, err := v.rl.Allow(ctx, rediscache.MinuteKey("serviceability", now), v.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// Бэкенд перегружать нельзя: оставляем пинкод, его вернёт истёкшая аренда.
			slog.Warn("rate limit exceeded", "pincode", pc.Pincode, "count", n)
			v.totalRateLimited.Add(1)
			v.metrics.Revalidated("rate_limited")
			return nil
		}
	}

	upd := pglocations.PincodeCheckUpdate{Pincode: pc.Pincode, CheckedAt: now}

	res, err := v.backend.Validate(ctx, pc.Pincode)
	if err != nil {
		e := err.Error()
		upd.Error = &e
		upd.NextCheckAt = now.Add(v.planner.BackoffDelay(pc.CheckFailCount + 1))
		v.metrics.Revalidated("failure")
		return v.repo.ApplyPincodeCheck(ctx, upd)
	}

	upd.Serviceability = models.FromFlag(res.IsServiceable)
	upd.LocationID = res.LocationID
	upd.AreaName = res.AreaName
	upd.NextCheckAt = now.Add(v.planner.NextCheckDelay(upd.Serviceability))
	v.metrics.Revalidated(string(upd.Serviceability))

	if err := v.repo.ApplyPincodeCheck(ctx, upd); err != nil {
		return err
	}
	if v.memo != nil {
		if err := v.memo.Store(ctx, pc.Pincode, res); err != nil {
			slog.Warn("refresh serviceability memo", "pincode", pc.Pincode, "error", err.Error())
		}
	}
	return nil
}

func (v *Revalidator) setLastError(err error) {
	v.lastErrorMu.Lock()
	v.lastError = err.Error()
	v.lastErrorMu.Unlock()
}
