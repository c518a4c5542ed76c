package nstat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// TrafficFailedOutcome is the sample outcome of a repeat whose traffic step
// failed before polling started.
const TrafficFailedOutcome = "traffic_failed"

// TrafficFunc starts the load for one repeat (for example a northbound flow
// generator) and returns the number of flows the controller should end up
// with.
type TrafficFunc func(ctx context.Context, repeat int) (expected int, err error)

// Harness runs repeated flow discovery measurements against a count source.
type Harness struct {
	name       string
	traffic    TrafficFunc
	source     CountSource
	controller string
	logger     *slog.Logger
	cfg        *Config
	cfgPath    string
	echoMode   bool
	clock      clock.Clock
	observer   ObserverFunc
	sinks      []Sink
	stats      statsTracker

	mu      sync.Mutex
	samples []*Sample
}

// New creates a Harness with the given name, traffic step, count source and
// options. A nil traffic step uses the configured expected flow count.
func New(name string, traffic TrafficFunc, source CountSource, opts ...Option) (*Harness, error) {
	if source == nil {
		return nil, fmt.Errorf("count source is required")
	}

	h := &Harness{
		name:    name,
		traffic: traffic,
		source:  source,
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.cfg == nil && h.cfgPath != "" {
		cfg, err := LoadConfig(h.cfgPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		h.cfg = cfg
	}

	if h.cfg == nil {
		h.cfg = DefaultConfig()
	}
	if err := h.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if h.logger == nil {
		h.logger, _ = NewLogger(h.cfg.Global.LogLevel, h.cfg.Global.LogFormat)
	}
	if h.clock == nil {
		h.clock = clock.RealClock{}
	}
	if h.traffic == nil {
		expected := h.cfg.Test.ExpectedFlows
		h.traffic = func(context.Context, int) (int, error) { return expected, nil }
	}

	return h, nil
}

// Run executes every configured repeat and blocks until they finish or ctx is
// cancelled. Repeats that fail to converge are recorded as failed samples;
// Run only returns an error when the harness itself cannot operate.
func (h *Harness) Run(ctx context.Context) error {
	test := h.cfg.Test
	h.logger.Info("starting test",
		"name", h.name,
		"test", test.Name,
		"repeats", test.Repeats,
		"deadline", test.Deadline.Duration,
	)

	pubCfg := h.cfg.PublisherConfig()
	pubCfg.Logger = h.logger
	pub := NewPublisher(pubCfg)

	for _, s := range h.sinks {
		pub.AddSink(s)
	}
	if h.echoMode {
		pub.AddSink(NewEcho(nil, h.logger))
	}
	if path := h.cfg.Output.ResultsFile; path != "" {
		pub.AddSink(NewJSONFile(path, h.logger))
	}
	if pub.SinkCount() == 0 {
		return fmt.Errorf("no sinks configured (use WithSink, WithEcho, or set output.results_file)")
	}

	if err := pub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start publisher: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pub.Stop(stopCtx); err != nil {
			h.logger.Error("error stopping publisher", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx = NewSignalHandler(h.logger).Start(ctx)

	pollCfg := h.cfg.PollerConfig()
	pollCfg.Clock = h.clock
	pollCfg.Logger = h.logger.With("test", test.Name)
	pollCfg.Observer = h.observer
	poller := NewPoller(pollCfg)

	for repeat := 0; repeat < test.Repeats; repeat++ {
		if ctx.Err() != nil {
			h.logger.Info("test aborted", "completed_repeats", repeat)
			break
		}
		sample := h.runRepeat(ctx, poller, repeat)
		h.record(sample)
		pub.Publish(context.WithoutCancel(ctx), sample)
	}

	stats := h.stats.snapshot()
	h.logger.Info("test finished",
		"repeats", stats.Repeats,
		"converged", stats.Converged,
		"failed", stats.Failed(),
	)
	return nil
}

func (h *Harness) runRepeat(ctx context.Context, poller *Poller, repeat int) *Sample {
	test := h.cfg.Test
	logger := h.logger.With("repeat", repeat)

	start := h.clock.Now()
	expected, err := h.traffic(ctx, repeat)
	if err != nil {
		logger.Error("traffic generation failed", "error", err)
		h.stats.recordTrafficFailure()
		return &Sample{
			Test:           test.Name,
			Repeat:         repeat,
			Controller:     h.controller,
			Outcome:        TrafficFailedOutcome,
			Expected:       max(expected, 0),
			ElapsedSeconds: FailureSentinel,
			Error:          err.Error(),
			Timestamp:      h.clock.Now(),
		}
	}

	logger.Info("waiting for flows", "expected", expected)
	r := poller.Poll(ctx, expected, h.source, start, test.Deadline.Duration)
	h.stats.recordResult(r)

	switch r.Outcome {
	case Converged:
		logger.Info("flows discovered", "expected", expected, "elapsed", r.Elapsed)
	default:
		logger.Warn("flow discovery did not converge",
			"outcome", r.Outcome,
			"expected", expected,
			"discovered", r.LastCount,
			"error", r.Err,
		)
	}

	s := NewSample(test.Name, repeat, expected, r, h.clock.Now())
	s.Controller = h.controller
	return s
}

func (h *Harness) record(s *Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.samples = append(h.samples, s)
}

// Samples returns the samples recorded so far.
func (h *Harness) Samples() []*Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Sample, len(h.samples))
	copy(out, h.samples)
	return out
}

// Stats returns a snapshot of run statistics.
func (h *Harness) Stats() RunStats {
	return h.stats.snapshot()
}
