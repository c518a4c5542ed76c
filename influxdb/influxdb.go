// Package influxdb publishes flow discovery samples to InfluxDB 2.x.
package influxdb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	nstat "github.com/danweinerdev/go-nstat"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Sink implements nstat.Sink for InfluxDB 2.x.
type Sink struct {
	cfg    nstat.InfluxDBConfig
	client influxdb2.Client
	writer api.WriteAPIBlocking
	logger *slog.Logger

	mu      sync.RWMutex
	healthy bool
}

// New creates a new InfluxDB sink.
func New(cfg nstat.InfluxDBConfig, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		cfg:    cfg,
		logger: logger,
	}
}

func (s *Sink) Name() string {
	return "influxdb"
}

func (s *Sink) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("connecting to InfluxDB", "url", s.cfg.URL, "org", s.cfg.Org, "bucket", s.cfg.Bucket)

	client := influxdb2.NewClientWithOptions(s.cfg.URL, s.cfg.Token, influxdb2.DefaultOptions())

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	s.client = client
	s.writer = client.WriteAPIBlocking(s.cfg.Org, s.cfg.Bucket)
	s.healthy = true

	version := "unknown"
	if health.Version != nil {
		version = *health.Version
	}
	s.logger.Info("connected to InfluxDB", "version", version)
	return nil
}

// Write sends one point per sample, tagged by test, repeat, outcome and
// controller, in a single blocking request.
func (s *Sink) Write(ctx context.Context, samples []*nstat.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	s.mu.RLock()
	writer := s.writer
	s.mu.RUnlock()
	if writer == nil {
		return fmt.Errorf("InfluxDB not initialized")
	}

	pts := make([]*write.Point, 0, len(samples))
	converged := 0
	for _, sample := range samples {
		pts = append(pts, sample.Point())
		if sample.Converged() {
			converged++
		}
		s.logger.Debug("queueing sample",
			"test", sample.Test,
			"repeat", sample.Repeat,
			"outcome", sample.Outcome,
			"elapsed_seconds", sample.ElapsedSeconds,
		)
	}

	if err := writer.WritePoint(ctx, pts...); err != nil {
		s.setHealthy(false)
		return fmt.Errorf("failed to write %d samples to bucket %q: %w", len(pts), s.cfg.Bucket, err)
	}
	s.setHealthy(true)

	s.logger.Debug("wrote samples to InfluxDB",
		"bucket", s.cfg.Bucket,
		"count", len(pts),
		"converged", converged,
	)
	return nil
}

func (s *Sink) setHealthy(v bool) {
	s.mu.Lock()
	s.healthy = v
	s.mu.Unlock()
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.client.Close()
		s.client = nil
		s.writer = nil
	}
	s.healthy = false
	return nil
}

func (s *Sink) Healthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthy
}

var _ nstat.Sink = (*Sink)(nil)
