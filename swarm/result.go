package swarm

import (
	"time"

	"darkages-swarm/bot"
	"darkages-swarm/movement"
)

// BotResult is the terminal record of one bot after teardown.
type BotResult struct {
	ClientID   uint64
	Pattern    movement.Pattern
	Connected  bool
	Session    bot.Session
	Counters   bot.Counters
	ConnectErr error
	RunErr     error
}

// Totals aggregates the terminal counters of every bot.
type Totals struct {
	PacketsSent         uint64 `json:"packetsSent"`
	PacketsReceived     uint64 `json:"packetsReceived"`
	BytesSent           uint64 `json:"bytesSent"`
	BytesReceived       uint64 `json:"bytesReceived"`
	SnapshotsReceived   uint64 `json:"snapshotsReceived"`
	CorrectionsReceived uint64 `json:"correctionsReceived"`
	EventsReceived      uint64 `json:"eventsReceived"`
	MalformedReceived   uint64 `json:"malformedReceived"`
}

func (t *Totals) add(c bot.Counters) {
	t.PacketsSent += c.PacketsSent
	t.PacketsReceived += c.PacketsReceived
	t.BytesSent += c.BytesSent
	t.BytesReceived += c.BytesReceived
	t.SnapshotsReceived += c.SnapshotsReceived
	t.CorrectionsReceived += c.CorrectionsReceived
	t.EventsReceived += c.EventsReceived
	t.MalformedReceived += c.MalformedReceived
}

// Result is built once from terminal bot counters and never mutated after.
type Result struct {
	RunID      string
	StartedAt  time.Time
	Duration   time.Duration
	Configured int
	Connected  int
	Bots       []BotResult
	Totals     Totals
}

// ConnectedBots returns the results of bots that completed the handshake.
func (r *Result) ConnectedBots() []BotResult {
	out := make([]BotResult, 0, r.Connected)
	for _, b := range r.Bots {
		if b.Connected {
			out = append(out, b)
		}
	}
	return out
}

// RuntimeErrors counts bots whose run phase ended with a socket error.
func (r *Result) RuntimeErrors() int {
	n := 0
	for _, b := range r.Bots {
		if b.RunErr != nil {
			n++
		}
	}
	return n
}
