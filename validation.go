package nstat

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("multiple validation errors:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateGlobal()...)
	errs = append(errs, c.validateTest()...)
	errs = append(errs, c.validateController()...)
	errs = append(errs, c.validateInfluxDB()...)
	errs = append(errs, c.validatePrometheus()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *Config) validateGlobal() ValidationErrors {
	var errs ValidationErrors

	if c.Global.BatchSize <= 0 {
		errs = append(errs, ValidationError{
			Field:   "global.batch_size",
			Message: "must be positive",
		})
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Global.LogLevel)] {
		errs = append(errs, ValidationError{
			Field:   "global.log_level",
			Message: "must be one of: debug, info, warn, error",
		})
	}

	switch strings.ToLower(c.Global.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "global.log_format",
			Message: "must be one of: text, json",
		})
	}

	return errs
}

func (c *Config) validateTest() ValidationErrors {
	var errs ValidationErrors

	if c.Test.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "test.name",
			Message: "required",
		})
	}

	if c.Test.Repeats <= 0 {
		errs = append(errs, ValidationError{
			Field:   "test.repeats",
			Message: "must be positive",
		})
	}

	if c.Test.ExpectedFlows < 0 {
		errs = append(errs, ValidationError{
			Field:   "test.expected_flows",
			Message: "must not be negative",
		})
	}

	if c.Test.Deadline.Duration <= 0 {
		errs = append(errs, ValidationError{
			Field:   "test.deadline",
			Message: "must be positive",
		})
	}

	if c.Test.PollInterval.Duration <= 0 {
		errs = append(errs, ValidationError{
			Field:   "test.poll_interval",
			Message: "must be positive",
		})
	}

	if c.Test.MaxConsecutiveFailures < 0 {
		errs = append(errs, ValidationError{
			Field:   "test.max_consecutive_failures",
			Message: "must not be negative (0 disables the cap)",
		})
	}

	if _, err := ParseProgressMode(c.Test.Progress); err != nil {
		errs = append(errs, ValidationError{
			Field:   "test.progress",
			Message: "must be one of: any, increase",
		})
	}

	return errs
}

func (c *Config) validateController() ValidationErrors {
	var errs ValidationErrors

	u, err := url.Parse(c.Controller.URL)
	if c.Controller.URL == "" || err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "controller.url",
			Message: "must be an absolute URL such as http://10.0.0.1:8181",
		})
	}

	if c.Controller.Timeout.Duration < 0 {
		errs = append(errs, ValidationError{
			Field:   "controller.timeout",
			Message: "must not be negative",
		})
	}

	switch c.Controller.Count {
	case "", "flows", "active_flows":
	default:
		errs = append(errs, ValidationError{
			Field:   "controller.count",
			Message: "must be one of: flows, active_flows",
		})
	}

	return errs
}

func (c *Config) validateInfluxDB() ValidationErrors {
	var errs ValidationErrors

	if !c.InfluxDB.Enabled {
		return errs
	}

	if c.InfluxDB.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "influxdb.url",
			Message: "required when InfluxDB is enabled",
		})
	}

	if c.InfluxDB.Token == "" {
		errs = append(errs, ValidationError{
			Field:   "influxdb.token",
			Message: "required when InfluxDB is enabled",
		})
	}

	if c.InfluxDB.Org == "" {
		errs = append(errs, ValidationError{
			Field:   "influxdb.org",
			Message: "required when InfluxDB is enabled",
		})
	}

	if c.InfluxDB.Bucket == "" {
		errs = append(errs, ValidationError{
			Field:   "influxdb.bucket",
			Message: "required when InfluxDB is enabled",
		})
	}

	return errs
}

func (c *Config) validatePrometheus() ValidationErrors {
	var errs ValidationErrors

	if !c.Prometheus.Enabled {
		return errs
	}

	if c.Prometheus.Port <= 0 || c.Prometheus.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "prometheus.port",
			Message: "must be a valid port (1-65535)",
		})
	}

	if c.Prometheus.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "prometheus.path",
			Message: "required when Prometheus is enabled",
		})
	}

	if c.Prometheus.Path != "" && !strings.HasPrefix(c.Prometheus.Path, "/") {
		errs = append(errs, ValidationError{
			Field:   "prometheus.path",
			Message: "must start with /",
		})
	}

	return errs
}
