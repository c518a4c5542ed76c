// Command nstat-poll measures how long a controller takes to discover an
// expected number of flows installed by an external traffic generator.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	nstat "github.com/danweinerdev/go-nstat"
	"github.com/danweinerdev/go-nstat/controller"
	"github.com/danweinerdev/go-nstat/influxdb"
	"github.com/danweinerdev/go-nstat/promexporter"
)

const (
	exitOK          = 0
	exitConfigError = 1
	exitNotAllFound = 2
)

type flags struct {
	configPath     string
	controllerURL  string
	controllerName string
	username       string
	password       string
	expectedFlows  int
	deadline       string
	interval       string
	repeats        int
	echo           bool
	results        string
	logLevel       string
}

func registerFlags(fs *pflag.FlagSet, f *flags) {
	fs.StringVarP(&f.configPath, "config", "c", "", "Path to a TOML configuration file")
	fs.StringVar(&f.controllerURL, "controller-url", "", "Controller RESTCONF base URL, e.g. http://10.0.0.1:8181")
	fs.StringVar(&f.controllerName, "controller-name", "", "Controller label for samples (defaults to the URL host)")
	fs.StringVar(&f.username, "username", "", "Controller REST username")
	fs.StringVar(&f.password, "password", "", "Controller REST password")
	fs.IntVar(&f.expectedFlows, "expected-flows", -1, "Flow count that ends a repeat successfully")
	fs.StringVar(&f.deadline, "deadline", "", "Time allowed without any new flows before a repeat fails, e.g. 240s")
	fs.StringVar(&f.interval, "interval", "", "Pause between samples, e.g. 1s")
	fs.IntVar(&f.repeats, "repeats", 0, "Number of repeats to run")
	fs.BoolVar(&f.echo, "echo", false, "Print samples to stdout as line protocol")
	fs.StringVar(&f.results, "results", "", "Write samples to this JSON file")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
}

// buildConfig loads the config file, if any, and applies flags that were set
// on the command line.
func buildConfig(fs *pflag.FlagSet, f *flags) (*nstat.Config, error) {
	cfg := nstat.DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = nstat.LoadConfig(f.configPath); err != nil {
			return nil, err
		}
	}

	if fs.Changed("controller-url") {
		cfg.Controller.URL = f.controllerURL
	}
	if fs.Changed("controller-name") {
		cfg.Controller.Name = f.controllerName
	}
	if fs.Changed("username") {
		cfg.Controller.Username = f.username
	}
	if fs.Changed("password") {
		cfg.Controller.Password = f.password
	}
	if fs.Changed("expected-flows") {
		cfg.Test.ExpectedFlows = f.expectedFlows
	}
	if fs.Changed("deadline") {
		if err := cfg.Test.Deadline.UnmarshalText([]byte(f.deadline)); err != nil {
			return nil, fmt.Errorf("--deadline: %w", err)
		}
	}
	if fs.Changed("interval") {
		if err := cfg.Test.PollInterval.UnmarshalText([]byte(f.interval)); err != nil {
			return nil, fmt.Errorf("--interval: %w", err)
		}
	}
	if fs.Changed("repeats") {
		cfg.Test.Repeats = f.repeats
	}
	if fs.Changed("results") {
		cfg.Output.ResultsFile = f.results
	}
	if fs.Changed("log-level") {
		cfg.Global.LogLevel = f.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string) int {
	var f flags
	fs := pflag.NewFlagSet("nstat-poll", pflag.ContinueOnError)
	registerFlags(fs, &f)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	cfg, err := buildConfig(fs, &f)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitConfigError
	}

	logger, _ := nstat.NewLogger(cfg.Global.LogLevel, cfg.Global.LogFormat)
	explorer := controller.New(cfg.Controller, nil, logger)

	opts := []nstat.Option{
		nstat.WithConfig(cfg),
		nstat.WithLogger(logger),
		nstat.WithEcho(f.echo),
		nstat.WithController(cfg.Controller.Label()),
	}
	if cfg.InfluxDB.Enabled {
		opts = append(opts, nstat.WithSink(influxdb.New(cfg.InfluxDB, logger)))
	}
	if cfg.Prometheus.Enabled {
		prom := promexporter.New(cfg.Prometheus, logger)
		opts = append(opts, nstat.WithSink(prom), nstat.WithObserver(prom.Observe))
	}

	h, err := nstat.New("nstat-poll", nil, explorer, opts...)
	if err != nil {
		logger.Error("failed to create harness", "error", err)
		return exitConfigError
	}

	logger.Info("polling controller inventory", "endpoint", explorer.Endpoint())
	if err := h.Run(ctx); err != nil {
		logger.Error("test failed to run", "error", err)
		return exitConfigError
	}

	if stats := h.Stats(); stats.Failed() > 0 {
		return exitNotAllFound
	}
	return exitOK
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:]))
}
