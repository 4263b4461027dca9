package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"darkages-swarm/bot"
	"darkages-swarm/budget"
	"darkages-swarm/build"
	"darkages-swarm/movement"
	"darkages-swarm/probe"
	"darkages-swarm/swarm"
)

// report is the JSON document handed to the surrounding test harness.
type report struct {
	RunID        string          `json:"runId"`
	StartedAt    time.Time       `json:"startedAt"`
	Duration     float64         `json:"durationSeconds"`
	Configured   int             `json:"configured"`
	Connected    int             `json:"connected"`
	Totals       swarm.Totals    `json:"totals"`
	Verdict      budget.Verdict  `json:"verdict"`
	ServerBefore *probe.Snapshot `json:"serverBefore,omitempty"`
	ServerAfter  *probe.Snapshot `json:"serverAfter,omitempty"`
	Build        *build.Info     `json:"build"`
	Bots         []botReport     `json:"bots"`
}

type botReport struct {
	ClientID   uint64           `json:"clientId"`
	Pattern    movement.Pattern `json:"pattern"`
	Connected  bool             `json:"connected"`
	ConnectErr string           `json:"connectErr,omitempty"`
	RunErr     string           `json:"runErr,omitempty"`
	Counters   bot.Counters     `json:"counters"`
}

func writeReport(path string, result *swarm.Result, verdict budget.Verdict,
	before, after *probe.Snapshot) error {
	r := report{
		RunID:        result.RunID,
		StartedAt:    result.StartedAt,
		Duration:     result.Duration.Seconds(),
		Configured:   result.Configured,
		Connected:    result.Connected,
		Totals:       result.Totals,
		Verdict:      verdict,
		ServerBefore: before,
		ServerAfter:  after,
		Build:        build.GetBuildInfo(),
		Bots:         make([]botReport, 0, len(result.Bots)),
	}

	for _, b := range result.Bots {
		entry := botReport{
			ClientID:  b.ClientID,
			Pattern:   b.Pattern,
			Connected: b.Connected,
			Counters:  b.Counters,
		}
		if b.ConnectErr != nil {
			entry.ConnectErr = b.ConnectErr.Error()
		}
		if b.RunErr != nil {
			entry.RunErr = b.RunErr.Error()
		}
		r.Bots = append(r.Bots, entry)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing report failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report to %q failed: %w", path, err)
	}
	return nil
}
