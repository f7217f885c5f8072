package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/PinBox/config"
	"github.com/BearBump/PinBox/internal/broker/kafka"
	"github.com/BearBump/PinBox/internal/broker/messages"
	"github.com/BearBump/PinBox/internal/cache/rediscache"
	"github.com/BearBump/PinBox/internal/integrations/serviceability"
	"github.com/BearBump/PinBox/internal/integrations/serviceability/backendhttp"
	svcfake "github.com/BearBump/PinBox/internal/integrations/serviceability/fake"
	"github.com/BearBump/PinBox/internal/services/history"
	"github.com/BearBump/PinBox/internal/services/revalidator"
	"github.com/BearBump/PinBox/internal/storage/pglocations"
	"github.com/BearBump/PinBox/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// workerStorage is everything the worker needs from Postgres.
type workerStorage interface {
	revalidator.Repository
	history.Repository
	Ping(ctx context.Context) error
	RefreshPincode(ctx context.Context, pincode string) error
	CountPincodes(ctx context.Context, now time.Time) (total, due int64, err error)
}

type locationConsumer interface {
	ConsumeLocationResolved(ctx context.Context, handle func(ctx context.Context, msg messages.LocationResolved) error) error
	Close() error
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (st workerStorage, closeFn func(), err error)
	newConsumer    func(cfg *config.Config) locationConsumer
	newRateLimiter func(cfg *config.Config) revalidator.RateLimiter
	newBackend     func(cfg *config.Config) serviceability.Client
	newMemo        func(cfg *config.Config) revalidator.MemoStore
}

func defaultWorkerFactories() workerFactories {
	// rate limiter и memo ходят в Redis через один пул
	var (
		redisOnce   sync.Once
		redisClient *redis.Client
	)
	sharedRedis := func(addr string) *redis.Client {
		redisOnce.Do(func() { redisClient = redis.NewClient(&redis.Options{Addr: addr}) })
		return redisClient
	}

	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			st, err := pglocations.New(cfg.Database.ConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newConsumer: func(cfg *config.Config) locationConsumer {
			brokers := cfg.Kafka.Brokers()
			if len(brokers) == 0 {
				return nil
			}
			topic := cfg.Kafka.LocationResolvedTopicName
			if topic == "" {
				topic = kafka.TopicLocationResolved
			}
			group := cfg.Kafka.ConsumerGroup
			if group == "" {
				group = "pin-worker"
			}
			return kafka.NewConsumer(brokers, topic, group)
		},
		newRateLimiter: func(cfg *config.Config) revalidator.RateLimiter {
			if addr := cfg.Redis.Addr(); addr != "" {
				return rediscache.NewRateLimiterFromClient(sharedRedis(addr))
			}
			return nil
		},
		newBackend: func(cfg *config.Config) serviceability.Client {
			if cfg.Backend.Mode == "fake" {
				return svcfake.New()
			}
			if c := backendhttp.New(cfg.Backend.BaseURL); c != nil {
				return c
			}
			return nil
		},
		newMemo: func(cfg *config.Config) revalidator.MemoStore {
			addr := cfg.Redis.Addr()
			if addr == "" {
				return nil
			}
			ttl := time.Duration(cfg.PinBox.MemoTTLSeconds) * time.Second
			if ttl <= 0 {
				ttl = 10 * time.Minute
			}
			// next не нужен: воркер только обновляет значения
			return serviceability.NewMemo(nil, rediscache.NewFromClient(sharedRedis(addr)), ttl)
		},
	}
}

type workerRunOpts struct {
	swaggerPath string
	onListen    func(httpAddr string)
}

func RunPinWorker(ctx context.Context, cfg *config.Config, f workerFactories, opts workerRunOpts) error {
	pollInterval := time.Duration(cfg.PinBox.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	batchSize := cfg.PinBox.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.PinBox.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	lease := time.Duration(cfg.PinBox.WorkerLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	rlPerMin := int64(cfg.PinBox.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 60
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	plannerCfg := plannerConfigFrom(cfg.PinBox)

	var rv *revalidator.Revalidator
	if backend := f.newBackend(cfg); backend != nil {
		rv = revalidator.New(st, backend, f.newMemo(cfg), f.newRateLimiter(cfg)).
			WithSettings(pollInterval, batchSize, concurrency, lease, rlPerMin).
			WithPlanner(plannerCfg).
			WithMetrics(metrics)
	} else {
		slog.Warn("serviceability backend is not configured, revalidation is disabled")
	}

	consumer := f.newConsumer(cfg)
	if consumer != nil {
		defer func() { _ = consumer.Close() }()
	} else {
		slog.Warn("kafka is not configured, location history is not recorded")
	}

	g, gctx := errgroup.WithContext(ctx)

	if consumer != nil {
		sink := history.NewSink(st, revalidator.NewPlanner(plannerCfg, nil), metrics)
		g.Go(func() error {
			slog.Info("kafka consumer started", "topic", cfg.Kafka.LocationResolvedTopicName, "group", cfg.Kafka.ConsumerGroup)
			return consumer.ConsumeLocationResolved(gctx, func(ctx context.Context, msg messages.LocationResolved) error {
				return handleWithRetry(ctx, sink.Handle, msg, 5, time.Second)
			})
		})
	}
	if rv != nil {
		g.Go(func() error {
			return rv.Run(gctx)
		})
	}
	g.Go(func() error {
		return runWorkerHTTPServer(gctx, workerHTTPOpts{
			httpAddr:    cfg.PinBox.WorkerHTTPAddr,
			swaggerPath: opts.swaggerPath,
			onListen:    opts.onListen,
			revalidator: rv,
			store:       st,
			cfg:         cfg,
			gatherer:    reg,
		})
	})

	return g.Wait()
}

// handleWithRetry retries transient storage failures with linear backoff.
// The last error is returned so the message stays uncommitted.
func handleWithRetry(ctx context.Context, handle func(context.Context, messages.LocationResolved) error, msg messages.LocationResolved, attempts int, step time.Duration) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = handle(ctx, msg); err == nil {
			return nil
		}
		slog.Warn("handle location.resolved", "session_id", msg.SessionID, "attempt", i, "error", err.Error())
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i) * step):
		}
	}
	return err
}

func plannerConfigFrom(c config.PinBoxConfig) revalidator.PlannerConfig {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return revalidator.PlannerConfig{
		ServiceableDelay:    sec(c.WorkerNextCheckServiceableSeconds),
		NotServiceableDelay: sec(c.WorkerNextCheckNotServiceableSeconds),
		Jitter:              sec(c.WorkerNextCheckJitterSeconds),
		Backoff1:            sec(c.WorkerBackoff1Seconds),
		Backoff2:            sec(c.WorkerBackoff2Seconds),
		Backoff3:            sec(c.WorkerBackoff3Seconds),
		Backoff4:            sec(c.WorkerBackoff4Seconds),
	}
}
