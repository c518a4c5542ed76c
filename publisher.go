package nstat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PublisherConfig configures sample delivery.
type PublisherConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	Logger        *slog.Logger
}

// DefaultPublisherConfig returns the delivery defaults. A batch size of one
// publishes every repeat as soon as it finishes.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		BatchSize:     1,
		FlushInterval: 10 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
		Logger:        slog.Default(),
	}
}

// Publisher buffers samples and delivers them to sinks with retries.
type Publisher struct {
	sinks         []Sink
	batchSize     int
	flushInterval time.Duration
	retryAttempts int
	retryDelay    time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	buffer  []*Sample
	flushMu sync.Mutex
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewPublisher creates a Publisher, filling unset fields with defaults.
func NewPublisher(cfg PublisherConfig) *Publisher {
	def := DefaultPublisherConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}

	return &Publisher{
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		retryAttempts: cfg.RetryAttempts,
		retryDelay:    cfg.RetryDelay,
		logger:        cfg.Logger,
		buffer:        make([]*Sample, 0, cfg.BatchSize),
		done:          make(chan struct{}),
	}
}

// AddSink registers a sink. Sinks must be added before Start.
func (p *Publisher) AddSink(s Sink) {
	p.sinks = append(p.sinks, s)
}

// SinkCount returns the number of registered sinks.
func (p *Publisher) SinkCount() int {
	return len(p.sinks)
}

// Start initializes every sink and begins periodic flushing.
func (p *Publisher) Start(ctx context.Context) error {
	for _, s := range p.sinks {
		if err := s.Initialize(ctx); err != nil {
			return err
		}
		p.logger.Debug("sink initialized", "sink", s.Name())
	}

	p.wg.Add(1)
	go p.flushLoop(ctx)

	return nil
}

// Stop flushes what is buffered and closes every sink.
func (p *Publisher) Stop(ctx context.Context) error {
	close(p.done)
	p.wg.Wait()

	if err := p.Flush(ctx); err != nil {
		p.logger.Error("final flush failed", "error", err)
	}

	var lastErr error
	for _, s := range p.sinks {
		if err := s.Close(); err != nil {
			p.logger.Error("sink close failed", "sink", s.Name(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// Publish buffers a sample and flushes synchronously once a batch is full.
// Invalid samples are dropped.
func (p *Publisher) Publish(ctx context.Context, s *Sample) {
	if err := s.Validate(); err != nil {
		p.logger.Warn("invalid sample dropped", "error", err)
		return
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, s)
	full := len(p.buffer) >= p.batchSize
	p.mu.Unlock()

	if full {
		if err := p.Flush(ctx); err != nil {
			p.logger.Error("batch flush failed", "error", err)
		}
	}
}

// Flush sends all buffered samples to healthy sinks.
func (p *Publisher) Flush(ctx context.Context) error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return nil
	}
	batch := p.buffer
	p.buffer = make([]*Sample, 0, p.batchSize)
	p.mu.Unlock()

	var lastErr error
	for _, s := range p.sinks {
		if !s.Healthy() {
			p.logger.Warn("skipping unhealthy sink", "sink", s.Name())
			continue
		}
		if err := p.writeWithRetry(ctx, s, batch); err != nil {
			p.logger.Error("sink write failed", "sink", s.Name(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// BufferLen returns the number of samples waiting to be flushed.
func (p *Publisher) BufferLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffer)
}

func (p *Publisher) writeWithRetry(ctx context.Context, s Sink, batch []*Sample) error {
	var lastErr error
	for attempt := 1; attempt <= p.retryAttempts; attempt++ {
		err := s.Write(ctx, batch)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < p.retryAttempts {
			p.logger.Warn("write failed, retrying",
				"sink", s.Name(),
				"attempt", attempt,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.retryDelay):
			}
		}
	}
	return lastErr
}

func (p *Publisher) flushLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Error("periodic flush failed", "error", err)
			}
		}
	}
}
