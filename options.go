package nstat

import (
	"log/slog"

	"k8s.io/utils/clock"
)

// Option configures a Harness.
type Option func(*Harness)

// WithConfigFile sets the path to a TOML config file.
func WithConfigFile(path string) Option {
	return func(h *Harness) {
		h.cfgPath = path
	}
}

// WithConfig provides a Config directly instead of loading from file.
func WithConfig(cfg *Config) Option {
	return func(h *Harness) {
		h.cfg = cfg
	}
}

// WithEcho enables echo mode (samples to stdout as line protocol).
func WithEcho(enabled bool) Option {
	return func(h *Harness) {
		h.echoMode = enabled
	}
}

// WithLogger provides a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithSink adds a sample sink.
func WithSink(s Sink) Option {
	return func(h *Harness) {
		h.sinks = append(h.sinks, s)
	}
}

// WithController labels every sample with the controller under test.
func WithController(name string) Option {
	return func(h *Harness) {
		h.controller = name
	}
}

// WithClock replaces the wall clock used for polling and elapsed times.
func WithClock(c clock.Clock) Option {
	return func(h *Harness) {
		h.clock = c
	}
}

// WithObserver receives the progress of every poll sample.
func WithObserver(fn ObserverFunc) Option {
	return func(h *Harness) {
		h.observer = fn
	}
}
