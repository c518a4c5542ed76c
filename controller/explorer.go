// Package controller reads flow counts from an SDN controller's operational
// inventory over RESTCONF.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	nstat "github.com/danweinerdev/go-nstat"
)

// InventoryPath is the operational datastore container listing inventory nodes.
const InventoryPath = "/restconf/operational/opendaylight-inventory:nodes"

const (
	// CountFlows counts the flow entries present in node tables.
	CountFlows = "flows"
	// CountActiveFlows sums the active-flows table statistics.
	CountActiveFlows = "active_flows"
)

var (
	ErrUnreachable = errors.New("controller unreachable")
	ErrBadStatus   = errors.New("unexpected response status")
	ErrMalformed   = errors.New("malformed inventory response")
)

// SamplingError describes a failed inventory read.
type SamplingError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *SamplingError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("GET %s: %v (status %d)", e.URL, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

func (e *SamplingError) Unwrap() error {
	return e.Err
}

// FlowStats is the inventory summary of a single read.
type FlowStats struct {
	Nodes       int
	Tables      int
	Flows       int
	ActiveFlows int
	// TableStatsFails counts tables that carried no flow table statistics.
	TableStatsFails int
}

// Explorer queries the operational inventory of one controller.
type Explorer struct {
	cfg      nstat.ControllerConfig
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// New creates an Explorer. A nil client uses one with the configured timeout.
func New(cfg nstat.ControllerConfig, client *http.Client, logger *slog.Logger) *Explorer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NodePrefix == "" {
		cfg.NodePrefix = "openflow"
	}
	if cfg.Count == "" {
		cfg.Count = CountFlows
	}
	if client == nil {
		timeout := cfg.Timeout.Duration
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Explorer{
		cfg:      cfg,
		endpoint: strings.TrimRight(cfg.URL, "/") + InventoryPath,
		client:   client,
		logger:   logger,
	}
}

// Endpoint returns the inventory URL queried by the explorer.
func (e *Explorer) Endpoint() string {
	return e.endpoint
}

// FlowStats reads the inventory once and aggregates the flow tables of every
// node whose id starts with the configured prefix.
func (e *Explorer) FlowStats(ctx context.Context) (FlowStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.endpoint, nil)
	if err != nil {
		return FlowStats{}, &SamplingError{URL: e.endpoint, Err: fmt.Errorf("%w: %w", ErrUnreachable, err)}
	}
	req.Header.Set("Accept", "application/json")
	if e.cfg.Username != "" {
		req.SetBasicAuth(e.cfg.Username, e.cfg.Password)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return FlowStats{}, &SamplingError{URL: e.endpoint, Err: fmt.Errorf("%w: %w", ErrUnreachable, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// The container is absent until the first switch connects.
		io.Copy(io.Discard, resp.Body)
		return FlowStats{}, nil
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return FlowStats{}, &SamplingError{URL: e.endpoint, StatusCode: resp.StatusCode, Err: ErrBadStatus}
	}

	var doc inventory
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return FlowStats{}, &SamplingError{URL: e.endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %w", ErrMalformed, err)}
	}
	if doc.Nodes == nil {
		return FlowStats{}, &SamplingError{URL: e.endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: missing nodes container", ErrMalformed)}
	}

	stats := summarize(doc.Nodes.Node, e.cfg.NodePrefix)
	e.logger.Debug("inventory flow stats",
		"nodes", stats.Nodes,
		"flows", stats.Flows,
		"active_flows", stats.ActiveFlows,
		"table_stats_fails", stats.TableStatsFails,
	)
	return stats, nil
}

// SampleCount implements nstat.CountSource.
func (e *Explorer) SampleCount(ctx context.Context) (int, error) {
	stats, err := e.FlowStats(ctx)
	if err != nil {
		return 0, err
	}
	if e.cfg.Count == CountActiveFlows {
		return stats.ActiveFlows, nil
	}
	return stats.Flows, nil
}

func summarize(nodes []node, prefix string) FlowStats {
	var stats FlowStats
	for _, n := range nodes {
		if !strings.HasPrefix(n.ID, prefix) {
			continue
		}
		stats.Nodes++
		for _, t := range n.Tables {
			stats.Tables++
			stats.Flows += len(t.Flows)
			if t.Statistics == nil {
				stats.TableStatsFails++
				continue
			}
			stats.ActiveFlows += t.Statistics.ActiveFlows
		}
	}
	return stats
}

var _ nstat.CountSource = (*Explorer)(nil)
