// Package budget validates a finished swarm run against the bandwidth and
// update-rate budgets the server under test is expected to satisfy.
package budget

import (
	"fmt"
	"sort"
	"time"

	"darkages-swarm/swarm"
)

// Thresholds are the declared budgets. Shared by value across checks,
// never mutated.
type Thresholds struct {
	// MaxUpstreamBytesPerSec bounds the average per-bot client->server rate.
	MaxUpstreamBytesPerSec float64
	// MaxDownstreamBytesPerSec bounds the average per-bot server->client rate.
	MaxDownstreamBytesPerSec float64
	// ExpectedSnapshotRateHz is the server's nominal snapshot broadcast rate.
	ExpectedSnapshotRateHz float64
	// MinSnapshotFraction is the fraction of ExpectedSnapshotRateHz the
	// observed average rate must reach for the snapshot check to pass.
	MinSnapshotFraction float64
}

// DefaultThresholds mirrors the production server's declared budgets.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxUpstreamBytesPerSec:   2048,
		MaxDownstreamBytesPerSec: 20480,
		ExpectedSnapshotRateHz:   20,
		MinSnapshotFraction:      0.8,
	}
}

// Check is one independent pass/fail budget comparison.
type Check struct {
	Name   string  `json:"name"`
	Passed bool    `json:"passed"`
	Value  float64 `json:"value"`
	Limit  float64 `json:"limit"`
	Reason string  `json:"reason,omitempty"`
}

// RateStats summarizes one per-bot sample distribution.
type RateStats struct {
	Avg float64 `json:"avg"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

// Verdict is the full validation outcome for one run. Budget violations are
// data, not errors; the caller maps Passed to an exit code.
type Verdict struct {
	Passed       bool      `json:"passed"`
	Upstream     Check     `json:"upstream"`
	Downstream   Check     `json:"downstream"`
	SnapshotRate Check     `json:"snapshotRate"`
	UpstreamBps  RateStats `json:"upstreamBps"`
	DownstrmBps  RateStats `json:"downstreamBps"`
	SnapshotHz   RateStats `json:"snapshotHz"`
}

// FailedChecks lists the names of checks that did not pass.
func (v Verdict) FailedChecks() []string {
	var out []string
	for _, c := range []Check{v.Upstream, v.Downstream, v.SnapshotRate} {
		if !c.Passed {
			out = append(out, c.Name)
		}
	}
	return out
}

// Percentile selects the nearest-rank percentile from samples: sort
// ascending, index floor(n*p/100) clamped to the last element. Returns 0 for
// an empty sample set.
func Percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	i := int(float64(len(sorted)) * p / 100)
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

func stats(samples []float64) RateStats {
	if len(samples) == 0 {
		return RateStats{}
	}
	var sum, max float64
	for _, s := range samples {
		sum += s
		if s > max {
			max = s
		}
	}
	return RateStats{
		Avg: sum / float64(len(samples)),
		P95: Percentile(samples, 95),
		P99: Percentile(samples, 99),
		Max: max,
	}
}

// Evaluate compares the terminal counters of every connected bot against the
// thresholds. Rates are per bot per second over the run phase duration.
func Evaluate(result *swarm.Result, th Thresholds) Verdict {
	secs := result.Duration.Seconds()
	if secs <= 0 {
		secs = time.Millisecond.Seconds()
	}

	bots := result.ConnectedBots()
	up := make([]float64, 0, len(bots))
	down := make([]float64, 0, len(bots))
	snap := make([]float64, 0, len(bots))
	for _, b := range bots {
		up = append(up, float64(b.Counters.BytesSent)/secs)
		down = append(down, float64(b.Counters.BytesReceived)/secs)
		snap = append(snap, float64(b.Counters.SnapshotsReceived)/secs)
	}

	v := Verdict{
		UpstreamBps: stats(up),
		DownstrmBps: stats(down),
		SnapshotHz:  stats(snap),
	}

	v.Upstream = Check{
		Name:   "upstream",
		Value:  v.UpstreamBps.Avg,
		Limit:  th.MaxUpstreamBytesPerSec,
		Passed: v.UpstreamBps.Avg <= th.MaxUpstreamBytesPerSec,
	}
	if !v.Upstream.Passed {
		v.Upstream.Reason = fmt.Sprintf("avg upstream %.1f B/s exceeds budget %.0f B/s",
			v.Upstream.Value, v.Upstream.Limit)
	}

	v.Downstream = Check{
		Name:   "downstream",
		Value:  v.DownstrmBps.Avg,
		Limit:  th.MaxDownstreamBytesPerSec,
		Passed: v.DownstrmBps.Avg <= th.MaxDownstreamBytesPerSec,
	}
	if !v.Downstream.Passed {
		v.Downstream.Reason = fmt.Sprintf("avg downstream %.1f B/s exceeds budget %.0f B/s",
			v.Downstream.Value, v.Downstream.Limit)
	}

	required := th.ExpectedSnapshotRateHz * th.MinSnapshotFraction
	v.SnapshotRate = Check{
		Name:   "snapshotRate",
		Value:  v.SnapshotHz.Avg,
		Limit:  required,
		Passed: v.SnapshotHz.Avg >= required,
	}
	if !v.SnapshotRate.Passed {
		v.SnapshotRate.Reason = fmt.Sprintf("avg snapshot rate %.1f Hz below required %.1f Hz",
			v.SnapshotRate.Value, v.SnapshotRate.Limit)
	}

	v.Passed = v.Upstream.Passed && v.Downstream.Passed && v.SnapshotRate.Passed
	return v
}
