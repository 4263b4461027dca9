package bot

import "sync/atomic"

// Counters is a point-in-time snapshot of a bot's traffic statistics.
type Counters struct {
	PacketsSent         uint64 `json:"packetsSent"`
	PacketsReceived     uint64 `json:"packetsReceived"`
	BytesSent           uint64 `json:"bytesSent"`
	BytesReceived       uint64 `json:"bytesReceived"`
	SnapshotsReceived   uint64 `json:"snapshotsReceived"`
	CorrectionsReceived uint64 `json:"correctionsReceived"`
	EventsReceived      uint64 `json:"eventsReceived"`
	MalformedReceived   uint64 `json:"malformedReceived"`
	LastProcessedInput  uint32 `json:"lastProcessedInput"`
}

// counters holds the live values. Only the owning bot's send and receive
// paths write them; atomics let the metrics exporter and the orchestrator
// read a consistent snapshot while a run is in flight.
type counters struct {
	packetsSent         atomic.Uint64
	packetsReceived     atomic.Uint64
	bytesSent           atomic.Uint64
	bytesReceived       atomic.Uint64
	snapshotsReceived   atomic.Uint64
	correctionsReceived atomic.Uint64
	eventsReceived      atomic.Uint64
	malformedReceived   atomic.Uint64
	lastProcessedInput  atomic.Uint32
}

func (c *counters) snapshot() Counters {
	return Counters{
		PacketsSent:         c.packetsSent.Load(),
		PacketsReceived:     c.packetsReceived.Load(),
		BytesSent:           c.bytesSent.Load(),
		BytesReceived:       c.bytesReceived.Load(),
		SnapshotsReceived:   c.snapshotsReceived.Load(),
		CorrectionsReceived: c.correctionsReceived.Load(),
		EventsReceived:      c.eventsReceived.Load(),
		MalformedReceived:   c.malformedReceived.Load(),
		LastProcessedInput:  c.lastProcessedInput.Load(),
	}
}
