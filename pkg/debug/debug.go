// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package debug serves the process's operational endpoints: Prometheus
// metrics, pprof, liveness, readiness and JSON status pages registered by
// other packages.
package debug

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
)

// ReadyCheck reports why a dependency is not ready, or nil
type ReadyCheck func(ctx context.Context) error

const readyCheckTimeout = 2 * time.Second

var (
	ready atomic.Bool

	handlersMu sync.RWMutex
	handlers   = make(map[string]http.Handler)

	checksMu sync.RWMutex
	checks   = make(map[string]ReadyCheck)

	globalRegistry = prometheus.NewRegistry()
)

func init() {
	globalRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func SetReady() {
	ready.Store(true)
}

func SetNotReady() {
	ready.Store(false)
}

// AddReadyCheck registers a named readiness check. /ready fails while any
// check fails, even after SetReady.
func AddReadyCheck(name string, check ReadyCheck) {
	checksMu.Lock()
	defer checksMu.Unlock()
	checks[name] = check
}

// CheckReady runs every registered check and returns the failures by name.
// A process that has not called SetReady reports "startup".
func CheckReady(ctx context.Context) map[string]string {
	failures := make(map[string]string)
	if !ready.Load() {
		failures["startup"] = "not ready"
	}

	checksMu.RLock()
	snapshot := make(map[string]ReadyCheck, len(checks))
	for name, c := range checks {
		snapshot[name] = c
	}
	checksMu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
	defer cancel()
	for name, check := range snapshot {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	return failures
}

// RegisterHandler registers a handler on the debug mux. Handlers must be
// registered before Mux is called.
func RegisterHandler(pattern string, handler http.Handler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers[pattern] = handler
}

// RegisterJSON serves the value returned by fn as JSON on pattern.
func RegisterJSON(pattern string, fn func(ctx context.Context) (any, error)) {
	RegisterHandler(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, err := fn(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, v)
	}))
}

// Registry returns the Prometheus registry that /metrics exports.
func Registry() prometheus.Registerer {
	return globalRegistry
}

// Gatherer returns the registry behind /metrics, for tests.
func Gatherer() prometheus.Gatherer {
	return globalRegistry
}

// Mux builds the debug handler.
func Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(globalRegistry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		failures := CheckReady(r.Context())
		if len(failures) == 0 {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "not ready",
			"failures": failures,
		})
	})

	handlersMu.RLock()
	defer handlersMu.RUnlock()
	patterns := make([]string, 0, len(handlers))
	for p := range handlers {
		patterns = append(patterns, p)
	}
	slices.Sort(patterns)
	for _, p := range patterns {
		mux.Handle(p, handlers[p])
	}

	return mux
}

// Serve runs the debug server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln)
}

// ServeListener runs the debug server on ln until ctx is cancelled.
func ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("debug server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug().Err(err).Msg("debug: write response")
	}
}
