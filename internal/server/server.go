package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arwahdevops/replisearch/internal/metrics"
)

// Pinger is anything readiness can probe, e.g. *db.Connector.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck names one dependency probed by /readyz.
type ReadinessCheck struct {
	Name   string
	Pinger Pinger
}

// OpsOptions configures the metrics/health listener.
type OpsOptions struct {
	Port        int
	EnablePprof bool
	PingTimeout time.Duration
}

// NewOpsHandler serves /metrics, /healthz, /readyz and, when enabled, /debug/pprof/.
func NewOpsHandler(opts OpsOptions, metricsStore *metrics.Store, checks []ReadinessCheck, logger *zap.Logger) http.Handler {
	log := logger.Named("ops-server")
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 3 * time.Second
	}
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(metricsStore.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), opts.PingTimeout)
		defer cancel()

		errs := make([]error, len(checks))
		var wg sync.WaitGroup
		for i, c := range checks {
			if c.Pinger == nil {
				errs[i] = errors.New("connection not established")
				continue
			}
			wg.Add(1)
			go func(i int, p Pinger) {
				defer wg.Done()
				errs[i] = p.Ping(pingCtx)
			}(i, c.Pinger)
		}
		wg.Wait()

		parts := make([]string, len(checks))
		ready := true
		fields := make([]zap.Field, 0, len(checks))
		for i, c := range checks {
			parts[i] = fmt.Sprintf("%s=%s", c.Name, formatPingError(errs[i]))
			if errs[i] != nil {
				ready = false
				fields = append(fields, zap.NamedError(c.Name+"_ping_error", errs[i]))
			}
		}

		if ready {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "Ready")
			return
		}
		log.Warn("Readiness check failed", fields...)
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "Not Ready: %s\n", strings.Join(parts, ", "))
	})

	if opts.EnablePprof {
		log.Info("Enabling pprof endpoints on /debug/pprof/")
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		log.Info("Pprof endpoints are disabled.")
	}
	return mux
}

// Run serves handler on port until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, name string, port int, handler http.Handler, writeTimeout time.Duration, logger *zap.Logger) {
	log := logger.Named(name)
	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server ListenAndServe error", zap.Error(err))
		}
		log.Info("HTTP server stopped listening")
	}()

	<-ctx.Done()
	log.Info("Shutting down HTTP server due to context cancellation...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		log.Info("HTTP server gracefully stopped")
	}
}

func formatPingError(err error) string {
	if err == nil {
		return "OK"
	}
	return fmt.Sprintf("Error (%v)", err)
}
