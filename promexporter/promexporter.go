// Package promexporter exposes flow discovery results and live poll progress
// to Prometheus.
package promexporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	nstat "github.com/danweinerdev/go-nstat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nstat"

// Sink implements nstat.Sink for Prometheus. It runs an HTTP server that
// exposes its own registry at the configured path.
type Sink struct {
	cfg      nstat.PrometheusConfig
	registry *prometheus.Registry
	logger   *slog.Logger

	elapsed    *prometheus.GaugeVec
	discovered *prometheus.GaugeVec
	expected   *prometheus.GaugeVec
	repeats    *prometheus.CounterVec

	pollCount     prometheus.Gauge
	pollExpected  prometheus.Gauge
	sinceProgress prometheus.Gauge
	pollSamples   prometheus.Counter
	pollFailures  prometheus.Counter

	mu      sync.RWMutex
	server  *http.Server
	healthy bool
}

// New creates a new Prometheus sink.
func New(cfg nstat.PrometheusConfig, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sink{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		logger:   logger,
		elapsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flow_discovery_elapsed_seconds",
			Help:      "Time to discover all expected flows in the last converged repeat.",
		}, []string{"test", "controller"}),
		discovered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flow_discovery_discovered_flows",
			Help:      "Flows observed at the end of the last repeat.",
		}, []string{"test", "controller"}),
		expected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flow_discovery_expected_flows",
			Help:      "Flows expected in the last repeat.",
		}, []string{"test", "controller"}),
		repeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_discovery_repeats_total",
			Help:      "Finished repeats by outcome.",
		}, []string{"test", "controller", "outcome"}),
		pollCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "count",
			Help:      "Most recently sampled flow count.",
		}),
		pollExpected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "expected",
			Help:      "Flow count the running poll session waits for.",
		}),
		sinceProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "seconds_since_progress",
			Help:      "Time since the sampled count last changed.",
		}),
		pollSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "samples_total",
			Help:      "Count source samples taken.",
		}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "sampling_failures_total",
			Help:      "Count source samples that failed.",
		}),
	}

	s.registry.MustRegister(
		s.elapsed, s.discovered, s.expected, s.repeats,
		s.pollCount, s.pollExpected, s.sinceProgress, s.pollSamples, s.pollFailures,
	)
	return s
}

func (s *Sink) Name() string {
	return "prometheus"
}

// Handler returns the HTTP handler serving the sink's metrics.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *Sink) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func(srv *http.Server) {
		s.logger.Info("starting Prometheus server", "addr", addr, "path", s.cfg.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Prometheus server error", "error", err)
			s.mu.Lock()
			s.healthy = false
			s.mu.Unlock()
		}
	}(s.server)

	s.healthy = true
	return nil
}

func (s *Sink) Write(ctx context.Context, samples []*nstat.Sample) error {
	for _, sample := range samples {
		s.update(sample)
	}
	s.logger.Debug("updated Prometheus metrics", "count", len(samples))
	return nil
}

func (s *Sink) update(sample *nstat.Sample) {
	labels := prometheus.Labels{"test": sample.Test, "controller": sample.Controller}

	s.repeats.WithLabelValues(sample.Test, sample.Controller, sample.Outcome).Inc()
	s.discovered.With(labels).Set(float64(sample.Discovered))
	s.expected.With(labels).Set(float64(sample.Expected))
	if sample.Converged() {
		s.elapsed.With(labels).Set(sample.ElapsedSeconds)
	}
}

// Observe records live poll progress. It can be passed to nstat.WithObserver.
func (s *Sink) Observe(p nstat.Progress) {
	s.pollSamples.Inc()
	if p.Err != nil {
		s.pollFailures.Inc()
	}
	s.pollCount.Set(float64(p.Count))
	s.pollExpected.Set(float64(p.Expected))
	s.sinceProgress.Set(p.SinceProgress.Seconds())
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Error("error shutting down Prometheus server", "error", err)
			return err
		}
		s.server = nil
	}

	s.healthy = false
	s.logger.Info("Prometheus server stopped")
	return nil
}

func (s *Sink) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

var _ nstat.Sink = (*Sink)(nil)
