// Package metrics exposes live swarm gauges over a Prometheus scrape
// endpoint so long soak runs can be watched from the outside.
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"darkages-swarm/applog"
	"darkages-swarm/swarm"
)

// Exporter registers swarm gauges on its own registry and serves them on
// /metrics. It implements swarm.StatsSink.
type Exporter struct {
	registry *prometheus.Registry
	server   *http.Server

	botsConnected     prometheus.Gauge
	packetsSent       prometheus.Gauge
	packetsReceived   prometheus.Gauge
	bytesSent         prometheus.Gauge
	bytesReceived     prometheus.Gauge
	snapshotsReceived prometheus.Gauge
	malformedReceived prometheus.Gauge
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		botsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_bots_connected",
			Help: "Number of bots currently holding a session",
		}),
		packetsSent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_packets_sent_total",
			Help: "Input packets sent by all bots",
		}),
		packetsReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_packets_received_total",
			Help: "Datagrams received by all bots",
		}),
		bytesSent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_bytes_sent_total",
			Help: "Upstream bytes sent by all bots",
		}),
		bytesReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_bytes_received_total",
			Help: "Downstream bytes received by all bots",
		}),
		snapshotsReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_snapshots_received_total",
			Help: "Snapshot packets received by all bots",
		}),
		malformedReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swarm_malformed_received_total",
			Help: "Inbound packets dropped as malformed",
		}),
	}

	e.registry.MustRegister(
		e.botsConnected,
		e.packetsSent,
		e.packetsReceived,
		e.bytesSent,
		e.bytesReceived,
		e.snapshotsReceived,
		e.malformedReceived,
	)
	return e
}

// Publish updates the gauges from one orchestrator sample.
func (e *Exporter) Publish(s swarm.LiveStats) {
	e.botsConnected.Set(float64(s.BotsConnected))
	e.packetsSent.Set(float64(s.Totals.PacketsSent))
	e.packetsReceived.Set(float64(s.Totals.PacketsReceived))
	e.bytesSent.Set(float64(s.Totals.BytesSent))
	e.bytesReceived.Set(float64(s.Totals.BytesReceived))
	e.snapshotsReceived.Set(float64(s.Totals.SnapshotsReceived))
	e.malformedReceived.Set(float64(s.Totals.MalformedReceived))
}

// Serve starts the scrape endpoint on the given port. It returns once the
// listener is bound; serving continues until Shutdown.
func (e *Exporter) Serve(port uint) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("binding metrics listener failed: %w", err)
	}

	e.server = &http.Server{Handler: mux}
	go func() {
		if err := e.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			applog.Error("Metrics endpoint stopped", zap.Error(err))
		}
	}()

	applog.Info("Serving metrics", zap.String("addr", listener.Addr().String()))
	return nil
}

// Shutdown stops the scrape endpoint. No-op if Serve was never called.
func (e *Exporter) Shutdown() {
	if e.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = e.server.Shutdown(ctx)
}
