package nstat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Sink defines the interface for sample destinations.
type Sink interface {
	// Name returns the sink name for logging.
	Name() string

	// Initialize prepares the sink for writes.
	Initialize(ctx context.Context) error

	// Write delivers a batch of samples.
	Write(ctx context.Context, samples []*Sample) error

	// Close releases the sink's resources.
	Close() error

	// Healthy returns true if the sink is accepting writes.
	Healthy() bool
}

// Echo is a debug sink that writes samples as line protocol to an io.Writer.
type Echo struct {
	writer io.Writer
	logger *slog.Logger

	mu      sync.RWMutex
	healthy bool
}

// NewEcho creates a new Echo sink that writes to the given writer.
func NewEcho(w io.Writer, logger *slog.Logger) *Echo {
	if w == nil {
		w = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Echo{
		writer:  w,
		logger:  logger,
		healthy: true,
	}
}

func (e *Echo) Name() string {
	return "echo"
}

func (e *Echo) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = true
	return nil
}

func (e *Echo) Write(ctx context.Context, batch []*Sample) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, s := range batch {
		if _, err := fmt.Fprintln(e.writer, s.ToLineProtocol()); err != nil {
			return fmt.Errorf("failed to write sample: %w", err)
		}
	}

	e.logger.Debug("echoed samples", "count", len(batch))
	return nil
}

func (e *Echo) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = false
	return nil
}

func (e *Echo) Healthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.healthy
}

// JSONFile keeps every sample it has been given and rewrites path as a JSON
// array after each write, so the file is complete after any repeat.
type JSONFile struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	samples []*Sample
	healthy bool
}

// NewJSONFile creates a sink that writes results to path.
func NewJSONFile(path string, logger *slog.Logger) *JSONFile {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONFile{
		path:   path,
		logger: logger,
	}
}

func (j *JSONFile) Name() string {
	return "json"
}

func (j *JSONFile) Initialize(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.path == "" {
		return fmt.Errorf("results file path is required")
	}
	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create results directory: %w", err)
		}
	}
	j.samples = make([]*Sample, 0)
	if err := j.flushLocked(); err != nil {
		return err
	}
	j.healthy = true
	j.logger.Info("writing results", "path", j.path)
	return nil
}

func (j *JSONFile) Write(ctx context.Context, batch []*Sample) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.samples = append(j.samples, batch...)
	if err := j.flushLocked(); err != nil {
		j.healthy = false
		return err
	}
	j.healthy = true
	return nil
}

func (j *JSONFile) flushLocked() error {
	data, err := json.MarshalIndent(j.samples, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("failed to replace results file: %w", err)
	}
	return nil
}

func (j *JSONFile) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.healthy = false
	return nil
}

func (j *JSONFile) Healthy() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.healthy
}

// LoadResults reads a results file written by JSONFile.
func LoadResults(path string) ([]*Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	var samples []*Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return samples, nil
}

// MultiSink writes to several sinks as one.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink that writes to multiple destinations.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Name() string {
	return "multi"
}

func (m *MultiSink) Initialize(ctx context.Context) error {
	for _, s := range m.sinks {
		if err := s.Initialize(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
	}
	return nil
}

func (m *MultiSink) Write(ctx context.Context, batch []*Sample) error {
	var lastErr error
	for _, s := range m.sinks {
		if err := s.Write(ctx, batch); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *MultiSink) Close() error {
	var lastErr error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (m *MultiSink) Healthy() bool {
	for _, s := range m.sinks {
		if !s.Healthy() {
			return false
		}
	}
	return true
}

var (
	_ Sink = (*Echo)(nil)
	_ Sink = (*JSONFile)(nil)
	_ Sink = (*MultiSink)(nil)
)
