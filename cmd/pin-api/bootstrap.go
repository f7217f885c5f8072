package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/PinBox/config"
	"github.com/BearBump/PinBox/internal/broker/kafka"
	"github.com/BearBump/PinBox/internal/cache"
	"github.com/BearBump/PinBox/internal/cache/memcache"
	"github.com/BearBump/PinBox/internal/cache/rediscache"
	"github.com/BearBump/PinBox/internal/integrations/geocoder"
	geofake "github.com/BearBump/PinBox/internal/integrations/geocoder/fake"
	"github.com/BearBump/PinBox/internal/integrations/geocoder/googlehttp"
	"github.com/BearBump/PinBox/internal/integrations/serviceability"
	"github.com/BearBump/PinBox/internal/integrations/serviceability/backendhttp"
	svcfake "github.com/BearBump/PinBox/internal/integrations/serviceability/fake"
	"github.com/BearBump/PinBox/internal/logging"
	"github.com/BearBump/PinBox/internal/services/locations"
	"github.com/BearBump/PinBox/internal/storage/pglocations"
	"github.com/BearBump/PinBox/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type pinAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    pinAPIOpts
	deps    pinAPIDeps
	closers []func()
}

func mustBootstrapPinAPI() *pinAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	slog.SetDefault(logging.New(os.Stdout, cfg.Logging.Env, cfg.Logging.Level))

	httpAddr := cfg.PinBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	cacheTTL := time.Duration(cfg.PinBox.LocationCacheTTLHours) * time.Hour
	if cacheTTL <= 0 {
		cacheTTL = locations.DefaultCacheTTL
	}
	memoTTL := time.Duration(cfg.PinBox.MemoTTLSeconds) * time.Second
	if memoTTL <= 0 {
		memoTTL = 10 * time.Minute
	}
	topic := cfg.Kafka.LocationResolvedTopicName
	if topic == "" {
		topic = kafka.TopicLocationResolved
	}

	app := &pinAPIApp{}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	var history *pglocations.Storage
	if cfg.Database.Host != "" {
		history = mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)
		app.closers = append(app.closers, history.Close)
	} else {
		slog.Warn("database is not configured, history endpoints are disabled")
	}

	var bytesCache cache.BytesCache
	if addr := cfg.Redis.Addr(); addr != "" {
		rc := rediscache.New(addr)
		app.closers = append(app.closers, func() { _ = rc.Close() })
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rc.Ping(pingCtx); err != nil {
			slog.Warn("redis is not reachable yet, location cache will retry per request", "addr", addr, "error", err.Error())
		}
		cancel()
		bytesCache = rc
	} else {
		slog.Warn("redis is not configured, using in-process cache")
		bytesCache = memcache.New(10 * time.Minute)
	}

	deps := locations.Deps{
		Geocoder: newGeocoder(cfg.Geocoder),
		Slots:    locations.NewSlotStore(bytesCache, cacheTTL, nil),
		Metrics:  metrics,
	}
	if backend := newBackend(cfg.Backend); backend != nil {
		deps.Backend = serviceability.NewMemo(backend, bytesCache, memoTTL)
	}
	if brokers := cfg.Kafka.Brokers(); len(brokers) > 0 && cfg.PinBox.PublishEvents {
		producer := kafka.NewProducer(brokers)
		app.closers = append(app.closers, func() { _ = producer.Close() })
		deps.Events = kafka.NewLocationPublisher(producer, topic)
	}

	sessions := locations.NewSessions(deps, locations.WithIdleTTL(time.Duration(cfg.PinBox.SessionIdleMinutes)*time.Minute))
	app.closers = append([]func(){sessions.Close}, app.closers...)

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	app.opts = pinAPIOpts{
		httpAddr:    httpAddr,
		swaggerPath: os.Getenv("swaggerPath"),
	}
	app.deps = pinAPIDeps{
		sessions:    sessions,
		gatherer:    reg,
		httpMetrics: telemetry.NewHTTPMetrics(reg, "pin-api"),
	}
	if history != nil {
		app.deps.history = history
	}
	return app
}

func newGeocoder(cfg config.GeocoderConfig) geocoder.Client {
	switch cfg.Mode {
	case "fake":
		return geofake.New()
	case "google", "":
		if cfg.APIKey == "" {
			slog.Warn("geocoder api key is not set, pincode detection is disabled")
			return nil
		}
		return googlehttp.New(cfg.BaseURL, cfg.APIKey, cfg.QPS)
	default:
		slog.Warn("unknown geocoder mode, pincode detection is disabled", "mode", cfg.Mode)
		return nil
	}
}

// newBackend returns nil when no backend is configured.
func newBackend(cfg config.BackendConfig) serviceability.Client {
	if cfg.Mode == "fake" {
		return svcfake.New()
	}
	if c := backendhttp.New(cfg.BaseURL); c != nil {
		return c
	}
	slog.Warn("serviceability backend is not configured, pincodes stay UNKNOWN")
	return nil
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pglocations.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pglocations.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *pinAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for _, c := range a.closers {
		c()
	}
}

func (a *pinAPIApp) Run() error {
	return runPinAPI(a.ctx, a.opts, a.deps)
}
