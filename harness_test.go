package nstat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	testclock "k8s.io/utils/clock/testing"
)

func testConfig(repeats int) *Config {
	cfg := DefaultConfig()
	cfg.Global.LogLevel = "error"
	cfg.Global.RetryAttempts = 1
	cfg.Global.RetryDelay = Duration{time.Millisecond}
	cfg.Test.Repeats = repeats
	cfg.Test.Deadline = Duration{5 * time.Second}
	return cfg
}

func quietLogger() Option {
	logger, _ := NewLogger("error", "text")
	return WithLogger(logger)
}

// rampSource grows by step per sample from zero and restarts at zero when
// reset is called, like a controller cleaned between repeats.
type rampSource struct {
	mu    sync.Mutex
	step  int
	limit int
	count int
}

func (r *rampSource) SampleCount(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.count
	r.count = min(r.count+r.step, r.limit)
	return n, nil
}

func (r *rampSource) reset(ctx context.Context, repeat int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count = 0
	return r.limit, nil
}

func TestHarnessRunConverges(t *testing.T) {
	src := &rampSource{step: 25, limit: 100}
	sink := &mockSink{name: "test", healthy: true}

	h, err := New("test", src.reset, src,
		WithConfig(testConfig(3)),
		WithSink(sink),
		WithClock(newSteppingClock()),
		WithController("odl"),
		quietLogger(),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	samples := h.Samples()
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	for i, s := range samples {
		if s.Repeat != i {
			t.Errorf("samples[%d].Repeat = %d", i, s.Repeat)
		}
		if !s.Converged() {
			t.Errorf("samples[%d].Outcome = %q, want converged", i, s.Outcome)
		}
		// 0, 25, 50, 75, 100 sampled one second apart.
		if s.ElapsedSeconds != 4 {
			t.Errorf("samples[%d].ElapsedSeconds = %v, want 4", i, s.ElapsedSeconds)
		}
		if s.Controller != "odl" {
			t.Errorf("samples[%d].Controller = %q, want odl", i, s.Controller)
		}
	}

	if got := len(sink.samples()); got != 3 {
		t.Errorf("sink received %d samples, want 3", got)
	}
	if !sink.closed {
		t.Error("sink should be closed after Run()")
	}

	stats := h.Stats()
	if stats.Repeats != 3 || stats.Converged != 3 || stats.Failed() != 0 {
		t.Errorf("Stats() = %+v, want 3 converged repeats", stats)
	}
	if stats.LastElapsed != 4*time.Second {
		t.Errorf("LastElapsed = %v, want 4s", stats.LastElapsed)
	}
}

func TestHarnessRecordsTimeoutAsFailedSample(t *testing.T) {
	src := CountSourceFunc(func(ctx context.Context) (int, error) { return 10, nil })
	traffic := func(ctx context.Context, repeat int) (int, error) { return 50, nil }
	sink := &mockSink{name: "test", healthy: true}

	h, err := New("test", traffic, src,
		WithConfig(testConfig(2)),
		WithSink(sink),
		WithClock(newSteppingClock()),
		quietLogger(),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run() should not fail on timed out repeats: %v", err)
	}

	samples := h.Samples()
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	for _, s := range samples {
		if s.Outcome != "timed_out" {
			t.Errorf("Outcome = %q, want timed_out", s.Outcome)
		}
		if s.ElapsedSeconds != FailureSentinel {
			t.Errorf("ElapsedSeconds = %v, want %v", s.ElapsedSeconds, FailureSentinel)
		}
		if s.Discovered != 10 || s.Expected != 50 {
			t.Errorf("Discovered, Expected = %d, %d, want 10, 50", s.Discovered, s.Expected)
		}
	}

	stats := h.Stats()
	if stats.TimedOut != 2 || stats.Failed() != 2 {
		t.Errorf("Stats() = %+v, want 2 timed out repeats", stats)
	}
}

func TestHarnessTrafficFailure(t *testing.T) {
	src := CountSourceFunc(func(ctx context.Context) (int, error) {
		t.Error("count source should not be sampled after a traffic failure")
		return 0, nil
	})
	traffic := func(ctx context.Context, repeat int) (int, error) {
		return 0, fmt.Errorf("generator refused connection")
	}
	sink := &mockSink{name: "test", healthy: true}

	h, err := New("test", traffic, src, WithConfig(testConfig(1)), WithSink(sink), quietLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	h.Run(context.Background())

	samples := h.Samples()
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
	if samples[0].Outcome != TrafficFailedOutcome {
		t.Errorf("Outcome = %q, want %q", samples[0].Outcome, TrafficFailedOutcome)
	}
	if !strings.Contains(samples[0].Error, "generator refused") {
		t.Errorf("Error = %q, want the traffic error", samples[0].Error)
	}
	if h.Stats().TrafficFailures != 1 {
		t.Errorf("TrafficFailures = %d, want 1", h.Stats().TrafficFailures)
	}
}

func TestHarnessCancelStopsRepeats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := CountSourceFunc(func(ctx context.Context) (int, error) {
		cancel()
		return 0, nil
	})

	cfg := testConfig(5)
	cfg.Test.ExpectedFlows = 10

	h, err := New("test", nil, src,
		WithConfig(cfg),
		WithSink(&mockSink{name: "test", healthy: true}),
		// Timers never fire, so the sleep can only end through ctx.
		WithClock(testclock.NewFakeClock(time.Now())),
		quietLogger(),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := h.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	samples := h.Samples()
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
	if samples[0].Outcome != "canceled" {
		t.Errorf("Outcome = %q, want canceled", samples[0].Outcome)
	}
	if h.Stats().Canceled != 1 {
		t.Errorf("Canceled = %d, want 1", h.Stats().Canceled)
	}
}

func TestHarnessDefaultTrafficUsesConfiguredFlows(t *testing.T) {
	cfg := testConfig(1)
	cfg.Test.ExpectedFlows = 7
	src := CountSourceFunc(func(ctx context.Context) (int, error) { return 7, nil })

	h, err := New("test", nil, src, WithConfig(cfg), WithSink(&mockSink{name: "test", healthy: true}), quietLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	h.Run(context.Background())

	samples := h.Samples()
	if len(samples) != 1 || samples[0].Expected != 7 || !samples[0].Converged() {
		t.Errorf("Samples() = %+v, want one converged sample expecting 7", samples)
	}
}

func TestHarnessObserver(t *testing.T) {
	src := &rampSource{step: 1, limit: 3}
	var seen []Progress

	h, err := New("test", src.reset, src,
		WithConfig(testConfig(1)),
		WithSink(&mockSink{name: "test", healthy: true}),
		WithClock(newSteppingClock()),
		WithObserver(func(p Progress) { seen = append(seen, p) }),
		quietLogger(),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	h.Run(context.Background())

	if len(seen) != 4 {
		t.Fatalf("observer called %d times, want 4", len(seen))
	}
	if seen[3].Count != 3 || seen[3].Expected != 3 {
		t.Errorf("last progress = %+v", seen[3])
	}
}

func TestHarnessResultsFile(t *testing.T) {
	cfg := testConfig(1)
	cfg.Output.ResultsFile = t.TempDir() + "/results.json"
	src := CountSourceFunc(func(ctx context.Context) (int, error) { return 0, nil })

	h, err := New("test", nil, src, WithConfig(cfg), quietLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	results, err := LoadResults(cfg.Output.ResultsFile)
	if err != nil {
		t.Fatalf("LoadResults() error: %v", err)
	}
	if len(results) != 1 || !results[0].Converged() {
		t.Errorf("results = %+v, want one converged sample", results)
	}
}

func TestHarnessWithEcho(t *testing.T) {
	var buf bytes.Buffer
	src := CountSourceFunc(func(ctx context.Context) (int, error) { return 0, nil })

	h, err := New("test", nil, src, WithConfig(testConfig(1)), WithSink(NewEcho(&buf, nil)), quietLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if !strings.Contains(buf.String(), "outcome=converged") {
		t.Errorf("echo output = %q, want a converged sample", buf.String())
	}
}

func TestHarnessNoSinks(t *testing.T) {
	src := CountSourceFunc(func(ctx context.Context) (int, error) { return 0, nil })

	h, err := New("test", nil, src, WithConfig(testConfig(1)), quietLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := h.Run(context.Background()); err == nil {
		t.Error("Run() should error with no sinks")
	}
}

func TestHarnessSinkInitError(t *testing.T) {
	src := CountSourceFunc(func(ctx context.Context) (int, error) { return 0, nil })
	sink := &mockSink{name: "bad", initErr: errors.New("refused")}

	h, err := New("test", nil, src, WithConfig(testConfig(1)), WithSink(sink), quietLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := h.Run(context.Background()); err == nil {
		t.Error("Run() should error when a sink cannot initialize")
	}
}

func TestNewRequiresSource(t *testing.T) {
	if _, err := New("test", nil, nil); err == nil {
		t.Error("New() should error without a count source")
	}
}

func TestNewWithConfigFile(t *testing.T) {
	src := CountSourceFunc(func(ctx context.Context) (int, error) { return 0, nil })

	if _, err := New("test", nil, src, WithConfigFile("/nonexistent/config.toml")); err == nil {
		t.Error("New() should error for missing config file")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	src := CountSourceFunc(func(ctx context.Context) (int, error) { return 0, nil })
	cfg := testConfig(1)
	cfg.Test.Progress = "Increase"

	_, err := New("test", nil, src, WithConfig(cfg))
	if err == nil {
		t.Fatal("New() should reject an invalid progress mode")
	}
	var errs ValidationErrors
	if !errors.As(err, &errs) || len(errs) != 1 || errs[0].Field != "test.progress" {
		t.Errorf("New() error = %v, want a test.progress validation error", err)
	}
}

func TestNewDefaults(t *testing.T) {
	src := CountSourceFunc(func(ctx context.Context) (int, error) { return 0, nil })

	h, err := New("test", nil, src)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if h.cfg == nil || h.logger == nil || h.clock == nil || h.traffic == nil {
		t.Error("New() should fill config, logger, clock and traffic defaults")
	}
}
