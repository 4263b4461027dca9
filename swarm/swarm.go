// Package swarm drives a fleet of bots through the connect, run and teardown
// phases of one load test and aggregates their terminal counters.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"darkages-swarm/applog"
	"darkages-swarm/bot"
	"darkages-swarm/movement"
	"darkages-swarm/trace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoConnections indicates that not a single bot completed the handshake.
// The CLI maps it to a distinct exit code because it points at the test
// setup rather than at server performance.
var ErrNoConnections = errors.New("no bots could connect")

// InsufficientConnectionsError is returned when fewer bots connected than
// the acceptance threshold requires. The run phase is skipped.
type InsufficientConnectionsError struct {
	Connected  int
	Configured int
	Required   float64
}

func (e *InsufficientConnectionsError) Error() string {
	return fmt.Sprintf("insufficient connections: %d/%d connected, need %.0f%%",
		e.Connected, e.Configured, e.Required*100)
}

// LiveStats is a periodic mid-run sample published to a StatsSink.
type LiveStats struct {
	BotsConnected int
	Elapsed       time.Duration
	Totals        Totals
}

// StatsSink receives live samples while the run phase is in flight. The
// prometheus exporter implements it; a nil sink disables publishing.
type StatsSink interface {
	Publish(LiveStats)
}

// Config describes one swarm run. Shared with bots by value only.
type Config struct {
	RunID             string // empty generates one
	ServerHost        string
	ServerPort        uint
	BotCount          int
	Duration          time.Duration
	Pattern           movement.Pattern // empty selects patterns round-robin
	InputRateHz       float64
	ConnectBatchSize  int
	ConnectBatchPause time.Duration
	AcceptanceRate    float64
	ConnectTimeout    time.Duration
	Trace             *trace.Recorder
	Stats             StatsSink
	StatsInterval     time.Duration
}

const (
	defaultConnectBatchSize  = 100
	defaultConnectBatchPause = 500 * time.Millisecond
	defaultAcceptanceRate    = 0.95
	defaultStatsInterval     = time.Second
)

type Orchestrator struct {
	cfg      Config
	bots     []*bot.Bot
	patterns []movement.Pattern
}

// New validates the configuration and constructs the full set of bots.
// Client IDs start at 1; ID 0 is reserved by the server for "no entity".
func New(cfg Config) (*Orchestrator, error) {
	if cfg.BotCount <= 0 {
		return nil, fmt.Errorf("bot count must be positive, got %d", cfg.BotCount)
	}
	if cfg.Duration <= 0 {
		return nil, fmt.Errorf("run duration must be positive, got %s", cfg.Duration)
	}
	if cfg.AcceptanceRate < 0 || cfg.AcceptanceRate > 1 {
		return nil, fmt.Errorf("acceptance rate must be within [0, 1], got %g", cfg.AcceptanceRate)
	}
	if cfg.ConnectBatchSize <= 0 {
		cfg.ConnectBatchSize = defaultConnectBatchSize
	}
	if cfg.ConnectBatchPause <= 0 {
		cfg.ConnectBatchPause = defaultConnectBatchPause
	}
	if cfg.AcceptanceRate == 0 {
		cfg.AcceptanceRate = defaultAcceptanceRate
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = defaultStatsInterval
	}

	o := &Orchestrator{cfg: cfg}
	for i := 0; i < cfg.BotCount; i++ {
		pattern := cfg.Pattern
		if pattern == "" {
			pattern = movement.Patterns[i%len(movement.Patterns)]
		}
		o.patterns = append(o.patterns, pattern)
		o.bots = append(o.bots, bot.New(bot.Config{
			ServerHost:     cfg.ServerHost,
			ServerPort:     cfg.ServerPort,
			ClientID:       uint64(i + 1),
			Pattern:        pattern,
			InputRateHz:    cfg.InputRateHz,
			ConnectTimeout: cfg.ConnectTimeout,
			Trace:          cfg.Trace,
		}))
	}
	return o, nil
}

// Run executes the three phases. Teardown happens exactly once for every
// bot, connected or not, on every return path. The returned Result is
// always populated, even alongside a non-nil error.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	runID := o.cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	result := &Result{
		RunID:      runID,
		StartedAt:  time.Now(),
		Configured: len(o.bots),
		Bots:       make([]BotResult, len(o.bots)),
	}

	for i, b := range o.bots {
		result.Bots[i] = BotResult{ClientID: b.ClientID(), Pattern: o.patterns[i]}
	}

	defer func() {
		for _, b := range o.bots {
			b.Disconnect()
		}
		o.collect(result)
	}()

	ctx = applog.AddContextFields(ctx, zap.String("runId", result.RunID))

	applog.FromContext(ctx).Info("Starting swarm",
		zap.Int("bots", len(o.bots)),
		zap.String("server", fmt.Sprintf("%s:%d", o.cfg.ServerHost, o.cfg.ServerPort)),
		zap.Duration("duration", o.cfg.Duration),
	)

	connected := o.connectPhase(ctx, result)
	result.Connected = len(connected)

	if len(connected) == 0 {
		return result, ErrNoConnections
	}

	rate := float64(len(connected)) / float64(len(o.bots))
	if rate < o.cfg.AcceptanceRate {
		return result, &InsufficientConnectionsError{
			Connected:  len(connected),
			Configured: len(o.bots),
			Required:   o.cfg.AcceptanceRate,
		}
	}

	o.runPhase(ctx, result, connected)
	return result, nil
}

// connectPhase attempts the handshake in fixed-size batches with a pause
// between batches so a large swarm does not stampede the server. A failed
// connect never aborts the batch; the bot is simply left out of the run.
func (o *Orchestrator) connectPhase(ctx context.Context, result *Result) []int {
	var connected []int

	for start := 0; start < len(o.bots); start += o.cfg.ConnectBatchSize {
		end := start + o.cfg.ConnectBatchSize
		if end > len(o.bots) {
			end = len(o.bots)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				botCtx := applog.AddContextFields(ctx, zap.Uint64("clientId", o.bots[i].ClientID()))
				err := o.bots[i].Connect(botCtx)
				result.Bots[i].ConnectErr = err
				result.Bots[i].Connected = err == nil
			}(i)
		}
		wg.Wait()

		batchConnected := 0
		for i := start; i < end; i++ {
			if result.Bots[i].Connected {
				connected = append(connected, i)
				batchConnected++
			}
		}

		applog.FromContext(ctx).Info("Connect batch finished",
			zap.Int("batchStart", start),
			zap.Int("batchSize", end-start),
			zap.Int("connected", batchConnected),
		)

		if end < len(o.bots) {
			select {
			case <-ctx.Done():
				return connected
			case <-time.After(o.cfg.ConnectBatchPause):
			}
		}
	}

	return connected
}

// runPhase runs every connected bot concurrently for the configured
// duration and waits for all of them.
func (o *Orchestrator) runPhase(ctx context.Context, result *Result, connected []int) {
	statsDone := o.publishStats(ctx, connected)
	defer statsDone()

	runStart := time.Now()

	var wg sync.WaitGroup
	for _, i := range connected {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			b := o.bots[idx]
			if err := b.Run(ctx, o.cfg.Duration); err != nil {
				result.Bots[idx].RunErr = err
				applog.Warn("Bot run ended with error",
					zap.Uint64("clientId", b.ClientID()),
					zap.Error(err))
			}
		}(i)
	}
	wg.Wait()

	result.Duration = time.Since(runStart)
}

// publishStats samples live counters into the configured sink until the
// returned stop function is called. No-op without a sink.
func (o *Orchestrator) publishStats(ctx context.Context, connected []int) func() {
	if o.cfg.Stats == nil {
		return func() {}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	started := time.Now()

	go func() {
		defer close(done)
		ticker := time.NewTicker(o.cfg.StatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			sample := LiveStats{Elapsed: time.Since(started)}
			for _, i := range connected {
				b := o.bots[i]
				if b.State() == bot.StateConnected {
					sample.BotsConnected++
				}
				sample.Totals.add(b.Counters())
			}
			o.cfg.Stats.Publish(sample)
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}

// collect snapshots terminal counters into the result. Runs after teardown,
// so the counters can no longer move.
func (o *Orchestrator) collect(result *Result) {
	result.Totals = Totals{}
	for i, b := range o.bots {
		result.Bots[i].Session = b.Session()
		result.Bots[i].Counters = b.Counters()
		if result.Bots[i].Connected {
			result.Totals.add(result.Bots[i].Counters)
		}
	}
}
