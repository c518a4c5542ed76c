package nstat_test

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"

	nstat "github.com/danweinerdev/go-nstat"
)

func TestExampleHarnessSmoke(t *testing.T) {
	var buf bytes.Buffer
	echo := nstat.NewEcho(&buf, nil)

	var installed atomic.Int64
	traffic := func(ctx context.Context, repeat int) (int, error) {
		installed.Store(16)
		return 16, nil
	}
	source := nstat.CountSourceFunc(func(ctx context.Context) (int, error) {
		return int(installed.Load()), nil
	})

	cfg := nstat.DefaultConfig()
	cfg.Test.Name = "nb_flows"
	cfg.Test.Repeats = 2
	cfg.Global.LogLevel = "error"
	logger, _ := nstat.NewLogger("error", "text")

	h, err := nstat.New("example", traffic, source,
		nstat.WithConfig(cfg),
		nstat.WithSink(echo),
		nstat.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "flow_discovery,") {
			t.Errorf("line = %q, want flow_discovery measurement", line)
		}
		if !strings.Contains(line, "outcome=converged") || !strings.Contains(line, "expected_flows=16i") {
			t.Errorf("line = %q, want a converged sample expecting 16 flows", line)
		}
	}

	stats := h.Stats()
	if stats.Repeats != 2 || stats.Converged != 2 {
		t.Errorf("Stats() = %+v, want 2 converged repeats", stats)
	}
}
