// Package metrics provides application-level metrics collection backed by
// Prometheus collectors on a private registry.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mwcbridge"

// Result labels.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the bridge's collectors.
type Metrics struct {
	registry *prometheus.Registry

	nodeRequests     *prometheus.CounterVec
	nodeLatency      *prometheus.HistogramVec
	slateTransitions *prometheus.CounterVec
	listenerMessages *prometheus.CounterVec
	walletOps        *prometheus.CounterVec
	activeListeners  prometheus.Gauge
}

// Global is the global metrics instance.
// Use this for recording metrics throughout the application.
//
//nolint:gochecknoglobals // Intentional global for metrics access
var Global = New()

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_requests_total",
			Help:      "Chain node requests by method and result.",
		}, []string{"method", "result"}),
		nodeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_request_duration_seconds",
			Help:      "Chain node request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		slateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slate_transitions_total",
			Help:      "Slate state transitions by target state.",
		}, []string{"state"}),
		listenerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_messages_total",
			Help:      "Relay messages handled by listeners, by outcome.",
		}, []string{"result"}),
		walletOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wallet_operations_total",
			Help:      "Wallet operations by name and result.",
		}, []string{"op", "result"}),
		activeListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_listeners",
			Help:      "Listeners currently running.",
		}),
	}

	m.registry.MustRegister(
		m.nodeRequests,
		m.nodeLatency,
		m.slateTransitions,
		m.listenerMessages,
		m.walletOps,
		m.activeListeners,
		collectors.NewGoCollector(),
	)
	return m
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// RecordNodeRequest records a chain node call with its duration and outcome.
func (m *Metrics) RecordNodeRequest(method string, duration time.Duration, err error) {
	m.nodeRequests.WithLabelValues(method, result(err)).Inc()
	m.nodeLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordTransition records a slate reaching state.
func (m *Metrics) RecordTransition(state string) {
	m.slateTransitions.WithLabelValues(state).Inc()
}

// RecordListenerMessage records how a listener handled one relay message.
func (m *Metrics) RecordListenerMessage(outcome string) {
	m.listenerMessages.WithLabelValues(outcome).Inc()
}

// RecordWalletOp records a wallet lifecycle operation.
func (m *Metrics) RecordWalletOp(op string, err error) {
	m.walletOps.WithLabelValues(op, result(err)).Inc()
}

// ListenerStarted increments the active listener gauge.
func (m *Metrics) ListenerStarted() { m.activeListeners.Inc() }

// ListenerStopped decrements the active listener gauge.
func (m *Metrics) ListenerStopped() { m.activeListeners.Dec() }

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns the HTTP handler serving the registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
