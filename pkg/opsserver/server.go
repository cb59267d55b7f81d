// Package opsserver exposes liveness, readiness, and Prometheus metrics for
// the background processes.
package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/catalog-media/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	envHeader       = "X-Catalog-Media-Env"
	readyTimeout    = 3 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Pinger is anything the readiness probe can check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Params struct {
	Env      string
	Service  string
	Logger   *logger.Logger
	Gatherer prometheus.Gatherer
	// Checks are pinged by /health/ready, keyed by dependency name.
	Checks map[string]Pinger
}

// Router builds the ops routes.
func Router(p Params) http.Handler {
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(recoverer(logg), requestID(logg))
	r.Route("/health", func(r chi.Router) {
		r.Get("/live", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set(envHeader, p.Env)
			writeJSON(w, http.StatusOK, map[string]string{"status": "live", "service": p.Service})
		})
		r.Get("/ready", ready(p.Env, p.Checks, logg))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func ready(env string, checks map[string]Pinger, logg *logger.Logger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(envHeader, env)
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		status := http.StatusOK
		report := map[string]string{}
		for _, name := range names {
			if err := checks[name].Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				report[name] = err.Error()
				logg.Warn(logg.WithFields(ctx, map[string]any{"dependency": name, "error": err.Error()}), "readiness check failed")
				continue
			}
			report[name] = "ok"
		}
		writeJSON(w, status, map[string]any{"status": statusWord(status), "checks": report})
	}
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "ready"
	}
	return "unavailable"
}

// Serve runs handler on addr until ctx ends, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logg *logger.Logger) error {
	if logg == nil {
		logg = logger.Nop()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(logg.WithField(ctx, "addr", addr), "ops server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	return nil
}

func requestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)
			next.ServeHTTP(w, r.WithContext(logg.WithRequestID(r.Context(), reqID)))
		})
	}
}

func recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					ctx := logg.WithFields(r.Context(), map[string]any{"panic": rec})
					logg.Error(ctx, "panic.recovered", fmt.Errorf("panic: %v", rec))
					writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
