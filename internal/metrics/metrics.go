// Package metrics exposes Prometheus counters for collection operations.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Outcome labels.
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
	OutcomeFallback    = "fallback"
)

var (
	namespace = "toursync"

	opsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Collection operations by collection, operation and outcome",
		},
		[]string{"collection", "op", "outcome"},
	)

	snapshotsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Decoded snapshots delivered to subscribers",
		},
		[]string{"collection"},
	)

	droppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Records excluded from reads because they failed validation",
		},
		[]string{"collection"},
	)

	subscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Live subscriptions per collection",
		},
		[]string{"collection"},
	)
)

// Op counts one operation.
func Op(collection, op, outcome string) {
	opsTotal.WithLabelValues(collection, op, outcome).Inc()
}

// Snapshot counts one delivered snapshot.
func Snapshot(collection string) {
	snapshotsTotal.WithLabelValues(collection).Inc()
}

// Dropped counts records excluded by validation.
func Dropped(collection string, n int) {
	if n > 0 {
		droppedTotal.WithLabelValues(collection).Add(float64(n))
	}
}

// Subscribed adjusts the live subscription gauge by delta.
func Subscribed(collection string, delta int) {
	subscribers.WithLabelValues(collection).Add(float64(delta))
}

// Serve starts an HTTP server exposing /metrics on addr.
func Serve(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.String("addr", addr), zap.Error(err))
		}
	}()
	return srv
}
