package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/PinBox/config"
	"github.com/BearBump/PinBox/internal/models"
	"github.com/BearBump/PinBox/internal/services/revalidator"
	"github.com/BearBump/PinBox/internal/storage/pglocations"
	"github.com/BearBump/PinBox/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	httpSwagger "github.com/swaggo/http-swagger"
)

type workerHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	revalidator *revalidator.Revalidator
	store       workerStorage
	cfg         *config.Config
	gatherer    prometheus.Gatherer
}

type workerStats struct {
	Revalidator  *revalidator.Stats `json:"revalidator,omitempty"`
	PincodesSeen int64              `json:"pincodesSeen"`
	PincodesDue  int64              `json:"pincodesDue"`
}

func runWorkerHTTPServer(ctx context.Context, opts workerHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8082"
	}
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("worker swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newWorkerRouter(opts), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}

func newWorkerRouter(opts workerHTTPOpts) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.store == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage not wired"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := opts.store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		var out workerStats
		if opts.revalidator != nil {
			st := opts.revalidator.Stats()
			out.Revalidator = &st
		}
		if opts.store != nil {
			total, due, err := opts.store.CountPincodes(r.Context(), time.Now().UTC())
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			out.PincodesSeen, out.PincodesDue = total, due
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		if opts.cfg == nil {
			writeJSON(w, http.StatusOK, map[string]string{"error": "config not wired"})
			return
		}
		c := opts.cfg.PinBox
		// без секретов: только настройки воркера
		writeJSON(w, http.StatusOK, map[string]any{
			"pollIntervalSeconds":            c.WorkerPollIntervalSeconds,
			"batchSize":                      c.WorkerBatchSize,
			"concurrency":                    c.WorkerConcurrency,
			"leaseSeconds":                   c.WorkerLeaseSeconds,
			"rateLimitPerMinute":             c.WorkerRateLimitPerMinute,
			"nextCheckServiceableSeconds":    c.WorkerNextCheckServiceableSeconds,
			"nextCheckNotServiceableSeconds": c.WorkerNextCheckNotServiceableSeconds,
			"nextCheckJitterSeconds":         c.WorkerNextCheckJitterSeconds,
			"backoffSeconds":                 []int{c.WorkerBackoff1Seconds, c.WorkerBackoff2Seconds, c.WorkerBackoff3Seconds, c.WorkerBackoff4Seconds},
			"locationResolvedTopic":          opts.cfg.Kafka.LocationResolvedTopicName,
			"revalidationEnabled":            opts.revalidator != nil,
		})
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		if opts.revalidator == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "revalidation disabled"})
			return
		}
		opts.revalidator.Trigger()
		writeJSON(w, http.StatusOK, map[string]bool{"triggered": true})
	})

	r.Post("/pincodes/{pincode}/refresh", func(w http.ResponseWriter, r *http.Request) {
		pin := chi.URLParam(r, "pincode")
		if !models.ValidPincode(pin) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid pincode"})
			return
		}
		if opts.store == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "storage not wired"})
			return
		}
		if err := opts.store.RefreshPincode(r.Context(), pin); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, pglocations.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSON(w, status, map[string]string{"error": err.Error()})
			return
		}
		if opts.revalidator != nil {
			opts.revalidator.Trigger()
		}
		writeJSON(w, http.StatusOK, map[string]bool{"scheduled": true})
	})

	r.Method(http.MethodGet, "/metrics", telemetry.Handler(opts.gatherer))

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
