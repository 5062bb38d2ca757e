package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/arwahdevops/replisearch/internal/metrics"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func okPinger() Pinger { return pingerFunc(func(context.Context) error { return nil }) }

func TestOpsHandler(t *testing.T) {
	store := metrics.NewMetricsStore()
	store.Up.Set(1)

	tests := []struct {
		name       string
		checks     []ReadinessCheck
		pprof      bool
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "healthz", path: "/healthz", wantStatus: http.StatusOK, wantBody: "OK"},
		{name: "metrics", path: "/metrics", wantStatus: http.StatusOK, wantBody: "replisearch_up 1"},
		{name: "ready", path: "/readyz", checks: []ReadinessCheck{{"source", okPinger()}, {"target", okPinger()}},
			wantStatus: http.StatusOK, wantBody: "Ready"},
		{name: "target down", path: "/readyz",
			checks: []ReadinessCheck{
				{"source", okPinger()},
				{"target", pingerFunc(func(context.Context) error { return errors.New("refused") })},
			},
			wantStatus: http.StatusServiceUnavailable, wantBody: "source=OK, target=Error (refused)"},
		{name: "missing connection", path: "/readyz", checks: []ReadinessCheck{{"vector_store", nil}},
			wantStatus: http.StatusServiceUnavailable, wantBody: "vector_store=Error (connection not established)"},
		{name: "pprof disabled", path: "/debug/pprof/", wantStatus: http.StatusNotFound},
		{name: "pprof enabled", path: "/debug/pprof/", pprof: true, wantStatus: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewOpsHandler(OpsOptions{EnablePprof: tt.pprof}, store, tt.checks, zaptest.NewLogger(t))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, "test-server", 0, http.NotFoundHandler(), 0, zap.NewNop())
		close(done)
	}()
	cancel()
	<-done
}
