package nstat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

// FailureSentinel is the elapsed-seconds value reported for sessions that did
// not converge.
const FailureSentinel = -1.0

// DefaultPollInterval is the pause between samples that do not end a session.
const DefaultPollInterval = 1 * time.Second

var (
	// ErrDeadlineExceeded is reported when the count did not change for longer
	// than the staleness deadline.
	ErrDeadlineExceeded = errors.New("no progress within staleness deadline")

	// ErrSourceUnavailable is reported when the consecutive sampling failure cap
	// is reached.
	ErrSourceUnavailable = errors.New("count source unavailable")

	// ErrNegativeCount is the sampling error recorded for a negative count.
	ErrNegativeCount = errors.New("count source returned a negative count")
)

// CountSource provides the current number of discovered items.
type CountSource interface {
	SampleCount(ctx context.Context) (int, error)
}

// CountSourceFunc adapts a function to the CountSource interface.
type CountSourceFunc func(ctx context.Context) (int, error)

// SampleCount calls f(ctx).
func (f CountSourceFunc) SampleCount(ctx context.Context) (int, error) {
	return f(ctx)
}

// Outcome is how a poll session ended.
type Outcome int

const (
	Converged Outcome = iota
	TimedOut
	Canceled
	SourceUnavailable
)

func (o Outcome) String() string {
	switch o {
	case Converged:
		return "converged"
	case TimedOut:
		return "timed_out"
	case Canceled:
		return "canceled"
	case SourceUnavailable:
		return "source_unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ProgressMode selects which count changes reset the staleness deadline.
type ProgressMode int

const (
	// ProgressAnyChange treats any change, including a decrease, as progress.
	ProgressAnyChange ProgressMode = iota
	// ProgressIncreaseOnly treats only a count above the highest one seen in
	// the session as progress.
	ProgressIncreaseOnly
)

// ParseProgressMode converts a config string to a ProgressMode.
func ParseProgressMode(s string) (ProgressMode, error) {
	switch s {
	case "", "any":
		return ProgressAnyChange, nil
	case "increase":
		return ProgressIncreaseOnly, nil
	default:
		return ProgressAnyChange, fmt.Errorf("unknown progress mode %q", s)
	}
}

// Result is the outcome of a single poll session.
type Result struct {
	Outcome Outcome
	// Elapsed is the time from the caller's start to the converging sample.
	// Zero unless Outcome is Converged.
	Elapsed          time.Duration
	LastCount        int
	Samples          int
	SamplingFailures int
	Err              error
}

// Converged reports whether the session reached the expected count.
func (r Result) Converged() bool {
	return r.Outcome == Converged
}

// Seconds returns the elapsed seconds on success and FailureSentinel otherwise.
func (r Result) Seconds() float64 {
	if r.Outcome != Converged {
		return FailureSentinel
	}
	return r.Elapsed.Seconds()
}

// Progress is passed to an observer after every sample.
type Progress struct {
	Sample   int
	Count    int
	Expected int
	// SinceProgress is the time since the count last changed.
	SinceProgress time.Duration
	Err           error
}

// ObserverFunc receives per-sample progress.
type ObserverFunc func(Progress)

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval time.Duration
	// MaxConsecutiveFailures ends a session after this many sampling errors in
	// a row. Zero disables the cap.
	MaxConsecutiveFailures int
	Progress               ProgressMode
	Clock                  clock.Clock
	Logger                 *slog.Logger
	Observer               ObserverFunc
}

// Poller waits for a count source to converge on an expected value.
type Poller struct {
	interval    time.Duration
	maxFailures int
	mode        ProgressMode
	clock       clock.Clock
	logger      *slog.Logger
	observer    ObserverFunc
}

// NewPoller creates a Poller, filling unset fields with defaults.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxConsecutiveFailures < 0 {
		cfg.MaxConsecutiveFailures = 0
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{
		interval:    cfg.Interval,
		maxFailures: cfg.MaxConsecutiveFailures,
		mode:        cfg.Progress,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		observer:    cfg.Observer,
	}
}

type pollSession struct {
	expected            int
	start               time.Time
	deadline            time.Duration
	lastProgress        time.Time
	lastCount           int
	maxCount            int
	samples             int
	samplingFailures    int
	consecutiveFailures int
}

func (s *pollSession) result(outcome Outcome, err error) Result {
	return Result{
		Outcome:          outcome,
		LastCount:        s.lastCount,
		Samples:          s.samples,
		SamplingFailures: s.samplingFailures,
		Err:              err,
	}
}

// Poll samples source until it reports expected, the count stops changing for
// longer than deadline, or ctx is done. start marks when the measured
// operation began and only affects the reported elapsed time.
func (p *Poller) Poll(ctx context.Context, expected int, source CountSource, start time.Time, deadline time.Duration) Result {
	s := &pollSession{
		expected:     expected,
		start:        start,
		deadline:     deadline,
		lastProgress: p.clock.Now(),
	}

	p.logger.Debug("polling for convergence",
		"expected", expected,
		"deadline", deadline,
		"interval", p.interval,
	)

	for {
		now := p.clock.Now()
		since := now.Sub(s.lastProgress)
		if since > s.deadline {
			p.logger.Warn("no progress within deadline",
				"expected", s.expected,
				"count", s.lastCount,
				"since_progress", since,
				"sampling_failures", s.samplingFailures,
			)
			return s.result(TimedOut, ErrDeadlineExceeded)
		}

		if err := ctx.Err(); err != nil {
			return s.result(Canceled, err)
		}

		count, err := source.SampleCount(ctx)
		if err == nil && count < 0 {
			err = fmt.Errorf("%w: %d", ErrNegativeCount, count)
		}
		s.samples++
		now = p.clock.Now()

		if err != nil {
			s.samplingFailures++
			s.consecutiveFailures++
			p.logger.Debug("sampling failed", "sample", s.samples, "error", err)
			p.notify(s, now, 0, err)

			if p.maxFailures > 0 && s.consecutiveFailures >= p.maxFailures {
				p.logger.Warn("giving up on count source",
					"consecutive_failures", s.consecutiveFailures,
					"error", err,
				)
				return s.result(SourceUnavailable, fmt.Errorf("%w: %w", ErrSourceUnavailable, err))
			}
		} else {
			s.consecutiveFailures = 0
			p.observe(s, now, count)
			p.notify(s, now, count, nil)

			if count == s.expected {
				r := s.result(Converged, nil)
				r.Elapsed = max(now.Sub(s.start), 0)
				p.logger.Info("converged",
					"expected", s.expected,
					"elapsed", r.Elapsed,
					"samples", s.samples,
				)
				return r
			}
		}

		if err := p.sleep(ctx); err != nil {
			return s.result(Canceled, err)
		}
	}
}

// observe applies a successful sample to the session.
func (p *Poller) observe(s *pollSession, now time.Time, count int) {
	if count == s.lastCount {
		return
	}
	if count < s.lastCount {
		// Counts are expected to only grow while flows are installed.
		p.logger.Warn("count decreased", "previous", s.lastCount, "count", count)
	}
	s.lastCount = count

	increased := count > s.maxCount
	if increased {
		s.maxCount = count
	}
	// In increase-only mode only a new high is progress.
	if p.mode == ProgressIncreaseOnly && !increased {
		return
	}
	if now.After(s.lastProgress) {
		s.lastProgress = now
	}
}

func (p *Poller) notify(s *pollSession, now time.Time, count int, err error) {
	if p.observer == nil {
		return
	}
	if err != nil {
		count = s.lastCount
	}
	p.observer(Progress{
		Sample:        s.samples,
		Count:         count,
		Expected:      s.expected,
		SinceProgress: now.Sub(s.lastProgress),
		Err:           err,
	})
}

func (p *Poller) sleep(ctx context.Context) error {
	t := p.clock.NewTimer(p.interval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
