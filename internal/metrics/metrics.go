// Package metrics exposes benchmark progress as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Metrics struct {
	Registry *prometheus.Registry

	ConnectAttempts prometheus.Counter
	ConnectFailures prometheus.Counter
	LoggedIn        prometheus.Gauge
	InFlight        prometheus.Gauge
	Published       prometheus.Counter
	Received        prometheus.Counter
	Rounds          prometheus.Counter
	RoundDuration   prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dsbench_connect_attempts_total",
			Help: "Total connection attempts issued",
		}),
		ConnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dsbench_connect_failures_total",
			Help: "Connection attempts that failed and were retried",
		}),
		LoggedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dsbench_logged_in_connections",
			Help: "Connections that completed the handshake",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dsbench_inflight_connections",
			Help: "Connection attempts waiting to log in",
		}),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dsbench_events_published_total",
			Help: "Event publish frames sent",
		}),
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dsbench_notifications_received_total",
			Help: "Event notification units received",
		}),
		Rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dsbench_rounds_total",
			Help: "Completed benchmark rounds",
		}),
		RoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dsbench_round_duration_seconds",
			Help:    "Time for every subscriber to receive every notification of a round",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
	}
	m.Registry.MustRegister(
		m.ConnectAttempts, m.ConnectFailures, m.LoggedIn, m.InFlight,
		m.Published, m.Received, m.Rounds, m.RoundDuration,
	)
	return m
}

func (m *Metrics) ObserveRound(d time.Duration) {
	m.Rounds.Inc()
	m.RoundDuration.Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}
