package nstat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// SampleMeasurement is the measurement name used when samples are exported
// as points.
const SampleMeasurement = "flow_discovery"

// Sample is the recorded result of one test repeat.
type Sample struct {
	Test       string `json:"test"`
	Repeat     int    `json:"repeat"`
	Controller string `json:"controller,omitempty"`
	Outcome    string `json:"outcome"`
	Expected   int    `json:"expected_flows"`
	Discovered int    `json:"discovered_flows"`
	// ElapsedSeconds holds FailureSentinel when the repeat did not converge.
	ElapsedSeconds   float64   `json:"elapsed_seconds"`
	Samples          int       `json:"samples"`
	SamplingFailures int       `json:"sampling_failures"`
	Error            string    `json:"error,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewSample builds a Sample from a poll result.
func NewSample(test string, repeat, expected int, r Result, ts time.Time) *Sample {
	s := &Sample{
		Test:             test,
		Repeat:           repeat,
		Outcome:          r.Outcome.String(),
		Expected:         expected,
		Discovered:       r.LastCount,
		ElapsedSeconds:   r.Seconds(),
		Samples:          r.Samples,
		SamplingFailures: r.SamplingFailures,
		Timestamp:        ts,
	}
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	return s
}

// Converged reports whether the sample records a converged repeat.
func (s *Sample) Converged() bool {
	return s.Outcome == Converged.String()
}

// Validate checks if the sample is valid for publishing.
func (s *Sample) Validate() error {
	if s.Test == "" {
		return fmt.Errorf("test name is required")
	}
	if s.Expected < 0 {
		return fmt.Errorf("expected flows must not be negative")
	}
	if s.Outcome == "" {
		return fmt.Errorf("outcome is required")
	}
	return nil
}

// Tags returns the indexed dimensions of the sample.
func (s *Sample) Tags() map[string]string {
	tags := map[string]string{
		"test":    s.Test,
		"outcome": s.Outcome,
		"repeat":  strconv.Itoa(s.Repeat),
	}
	if s.Controller != "" {
		tags["controller"] = s.Controller
	}
	return tags
}

// Fields returns the measured values of the sample.
func (s *Sample) Fields() map[string]interface{} {
	return map[string]interface{}{
		"expected_flows":    s.Expected,
		"discovered_flows":  s.Discovered,
		"elapsed_seconds":   s.ElapsedSeconds,
		"samples":           s.Samples,
		"sampling_failures": s.SamplingFailures,
	}
}

// Point converts the sample to an InfluxDB point.
func (s *Sample) Point() *write.Point {
	return influxdb2.NewPoint(SampleMeasurement, s.Tags(), s.Fields(), s.Timestamp)
}

// ToLineProtocol renders the sample in InfluxDB line protocol.
func (s *Sample) ToLineProtocol() string {
	return strings.TrimSuffix(write.PointToLineProtocol(s.Point(), time.Nanosecond), "\n")
}
