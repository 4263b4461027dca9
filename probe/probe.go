// Package probe queries the game server's monitoring endpoint. It is used
// before a run to tell "server absent" apart from "server rejected us", and
// after a run to annotate the report with server-side gauges.
package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/common/expfmt"
	"resty.dev/v3"
)

// Gauge names exported by the server's metrics endpoint.
const (
	MetricPlayerCount = "darkages_player_count"
	MetricTickRate    = "darkages_tick_rate"
)

type Probe struct {
	baseURL    string
	httpClient *resty.Client
}

// New builds a probe against the server's monitoring port. The endpoint
// serves Prometheus text exposition format on /metrics.
func New(host string, port uint) *Probe {
	return &Probe{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		httpClient: resty.New(),
	}
}

// Snapshot is one scrape of the server's gauges.
type Snapshot struct {
	PlayerCount float64            `json:"playerCount"`
	TickRate    float64            `json:"tickRate"`
	Gauges      map[string]float64 `json:"gauges"`
}

// Ping checks the monitoring endpoint is reachable and serving.
func (p *Probe) Ping(ctx context.Context) error {
	resp, err := p.httpClient.R().
		SetContext(ctx).
		Get(p.baseURL + "/metrics")
	if err != nil {
		return fmt.Errorf("probing %s failed: %w", p.baseURL, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("probing %s failed: %v", p.baseURL, resp.Status())
	}
	return nil
}

// Sample scrapes the endpoint and extracts the server gauges.
func (p *Probe) Sample(ctx context.Context) (*Snapshot, error) {
	resp, err := p.httpClient.R().
		SetContext(ctx).
		Get(p.baseURL + "/metrics")
	if err != nil {
		return nil, fmt.Errorf("scraping %s failed: %w", p.baseURL, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("scraping %s failed: %v", p.baseURL, resp.Status())
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(strings.NewReader(resp.String()))
	if err != nil {
		return nil, fmt.Errorf("parsing metrics from %s failed: %w", p.baseURL, err)
	}

	snap := &Snapshot{Gauges: make(map[string]float64)}
	for name, family := range families {
		metrics := family.GetMetric()
		if len(metrics) == 0 {
			continue
		}
		gauge := metrics[0].GetGauge()
		if gauge == nil {
			continue
		}
		snap.Gauges[name] = gauge.GetValue()
	}
	snap.PlayerCount = snap.Gauges[MetricPlayerCount]
	snap.TickRate = snap.Gauges[MetricTickRate]
	return snap, nil
}
